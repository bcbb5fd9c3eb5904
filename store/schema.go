package store

import "fmt"

// schemaSQL returns the DDL for the audit tables.
func schemaSQL() string {
	return `
-- Chat sessions and their settings snapshot
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    settings JSON NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Conversation transcript, one row per turn
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    run_id TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Question answering runs
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL UNIQUE,
    session_id TEXT,
    question TEXT NOT NULL,
    answer TEXT,
    outcome TEXT NOT NULL,
    query TEXT,
    steps JSON,
    fault TEXT,
    elapsed_ms INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id);
`
}

// vectorSQL returns the DDL of the question embedding table. embeddingDim
// controls the vec0 dimension.
func vectorSQL(embeddingDim int) string {
	return fmt.Sprintf(`
CREATE VIRTUAL TABLE IF NOT EXISTS vec_runs USING vec0(
    run_rowid INTEGER PRIMARY KEY,
    embedding float[%d]
);
`, embeddingDim)
}
