package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// A migration runs once per database, after schemaSQL, so fresh databases
// replay every step.
type migration struct {
	version int
	summary string
	stmts   []string
}

// Append only.
var migrations = []migration{
	{version: 1, summary: "base tables"},
	{version: 2, summary: "state path per run", stmts: []string{
		"ALTER TABLE runs ADD COLUMN path JSON",
	}},
	{version: 3, summary: "outcome index", stmts: []string{
		"CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome, created_at)",
	}},
}

const versionTable = `CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	description TEXT,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// Migrate brings the database to the latest version. Each step commits on
// its own so a failure leaves the earlier ones applied.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, versionTable); err != nil {
		return fmt.Errorf("store: version table: %w", err)
	}
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations[min(current, len(migrations)):] {
		s.logger.Info("store: migrating",
			zap.Int("to", m.version), zap.String("summary", m.summary))
		if err := s.inTx(ctx, func(tx *sql.Tx) error { return m.run(ctx, tx) }); err != nil {
			return fmt.Errorf("store: migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (m migration) run(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description) VALUES (?, ?)", m.version, m.summary)
	return err
}

// SchemaVersion is the last applied migration, 0 for an empty database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("store: schema version: %w", err)
	}
	return v, nil
}
