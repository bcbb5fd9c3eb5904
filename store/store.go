// Package store persists question answering runs, chat transcripts and
// session settings in SQLite, with sqlite-vec holding question embeddings
// for similar-question lookup.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

func init() {
	sqlite_vec.Auto()
}

var (
	ErrNotFound        = errors.New("store: not found")
	ErrVectorsDisabled = errors.New("store: question embeddings are disabled")
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Run is a row of the runs table.
type Run struct {
	ID        int64  `json:"id"`
	RunID     string `json:"run_id"`
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Outcome   string `json:"outcome"`
	Query     string `json:"query,omitempty"`
	Steps     string `json:"steps,omitempty"` // JSON array
	Path      string `json:"path,omitempty"`  // JSON array of states
	Fault     string `json:"fault,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
	CreatedAt string `json:"created_at"`
}

// Message is one transcript turn.
type Message struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Session is a row of the sessions table.
type Session struct {
	ID        string `json:"id"`
	Settings  string `json:"settings"` // JSON
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	SessionID string
	Outcome   string
	// Like matches runs whose question or answer contains the text.
	Like  string
	Limit int
}

// SimilarRun is a past run ranked by question embedding distance.
type SimilarRun struct {
	Run
	Distance float64 `json:"distance"`
}

// Stats counts rows per table and runs per outcome.
type Stats struct {
	Sessions   int            `json:"sessions"`
	Messages   int            `json:"messages"`
	Runs       int            `json:"runs"`
	Embeddings int            `json:"embeddings"`
	Outcomes   map[string]int `json:"outcomes"`
}

// Store wraps the SQLite database.
type Store struct {
	db           *sql.DB
	embeddingDim int
	logger       *zap.Logger
}

// New opens (or creates) the database at dbPath and applies migrations. An
// embeddingDim of zero disables the question embedding table.
func New(dbPath string, embeddingDim int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	ddl := schemaSQL()
	if embeddingDim > 0 {
		ddl += vectorSQL(embeddingDim)
	}
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim, logger: logger}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Runs ---

// LogRun records a run and returns its row ID.
func (s *Store) LogRun(ctx context.Context, r Run) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, session_id, question, answer, outcome, query, steps, path, fault, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, nullIfEmpty(r.SessionID), r.Question, r.Answer, r.Outcome,
		nullIfEmpty(r.Query), nullIfEmpty(r.Steps), nullIfEmpty(r.Path), nullIfEmpty(r.Fault), r.ElapsedMs)
	if err != nil {
		return 0, fmt.Errorf("logging run: %w", err)
	}
	return res.LastInsertId()
}

const runColumns = `id, run_id, COALESCE(session_id, ''), question, COALESCE(answer, ''), outcome,
	COALESCE(query, ''), COALESCE(steps, ''), COALESCE(path, ''), COALESCE(fault, ''), elapsed_ms, created_at`

func scanRun(sc interface{ Scan(...any) error }) (Run, error) {
	var r Run
	err := sc.Scan(&r.ID, &r.RunID, &r.SessionID, &r.Question, &r.Answer, &r.Outcome,
		&r.Query, &r.Steps, &r.Path, &r.Fault, &r.ElapsedMs, &r.CreatedAt)
	return r, err
}

// GetRun returns the run with the given run ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE run_id = ?", runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}
	if f.Like != "" {
		where = append(where, `(question LIKE ? ESCAPE '\' OR answer LIKE ? ESCAPE '\')`)
		pattern := "%" + escapeLike(f.Like) + "%"
		args = append(args, pattern, pattern)
	}

	q := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Question embeddings ---

// InsertQuestionEmbedding stores the embedding of a run's question.
func (s *Store) InsertQuestionEmbedding(ctx context.Context, runRowID int64, embedding []float32) error {
	if s.embeddingDim <= 0 {
		return ErrVectorsDisabled
	}
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(embedding), s.embeddingDim)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_runs (run_rowid, embedding) VALUES (?, ?)",
		runRowID, serializeFloat32(embedding))
	return err
}

// SimilarRuns returns the k past runs whose questions are nearest to the
// given embedding.
func (s *Store) SimilarRuns(ctx context.Context, embedding []float32, k int) ([]SimilarRun, error) {
	if s.embeddingDim <= 0 {
		return nil, ErrVectorsDisabled
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.distance, `+prefixColumns("r")+`
		FROM vec_runs v
		JOIN runs r ON r.id = v.run_rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SimilarRun
	for rows.Next() {
		var sr SimilarRun
		r := &sr.Run
		if err := rows.Scan(&sr.Distance, &r.ID, &r.RunID, &r.SessionID, &r.Question, &r.Answer, &r.Outcome,
			&r.Query, &r.Steps, &r.Path, &r.Fault, &r.ElapsedMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// --- Transcripts ---

// AppendMessage adds a turn to a session transcript.
func (s *Store) AppendMessage(ctx context.Context, m Message) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (session_id, role, content, run_id) VALUES (?, ?, ?, ?)",
		m.SessionID, m.Role, m.Content, nullIfEmpty(m.RunID))
	if err != nil {
		return 0, fmt.Errorf("appending message: %w", err)
	}
	return res.LastInsertId()
}

// Transcript returns a session's messages in order.
func (s *Store) Transcript(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, COALESCE(run_id, ''), created_at
		FROM messages WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.RunID, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- Sessions ---

// SaveSession inserts or replaces a session's settings.
func (s *Store) SaveSession(ctx context.Context, id, settings string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, settings) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			settings = excluded.settings,
			updated_at = CURRENT_TIMESTAMP
	`, id, settings)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", id, err)
	}
	return nil
}

// GetSession returns a stored session.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		"SELECT id, settings, created_at, updated_at FROM sessions WHERE id = ?", id,
	).Scan(&sess.ID, &sess.Settings, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, settings, created_at, updated_at FROM sessions ORDER BY updated_at DESC, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Settings, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its transcript. Runs are kept for
// auditing.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", id); err != nil {
			return fmt.Errorf("deleting messages: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// --- Stats ---

// Stats returns table counts and the run outcome distribution.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Outcomes: make(map[string]int)}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM sessions", &stats.Sessions},
		{"SELECT COUNT(*) FROM messages", &stats.Messages},
		{"SELECT COUNT(*) FROM runs", &stats.Runs},
	}
	if s.embeddingDim > 0 {
		queries = append(queries, struct {
			query string
			dest  *int
		}{"SELECT COUNT(*) FROM vec_runs", &stats.Embeddings})
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM runs GROUP BY outcome")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		stats.Outcomes[outcome] = n
	}
	return stats, rows.Err()
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func prefixColumns(alias string) string {
	cols := []string{
		"id", "run_id", "COALESCE(%[1]s.session_id, '')", "question", "COALESCE(%[1]s.answer, '')", "outcome",
		"COALESCE(%[1]s.query, '')", "COALESCE(%[1]s.steps, '')", "COALESCE(%[1]s.path, '')",
		"COALESCE(%[1]s.fault, '')", "elapsed_ms", "created_at",
	}
	for i, c := range cols {
		if strings.Contains(c, "%[1]s") {
			cols[i] = fmt.Sprintf(c, alias)
		} else {
			cols[i] = alias + "." + c
		}
	}
	return strings.Join(cols, ", ")
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
