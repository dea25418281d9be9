package persistence

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration
// support.
const CurrentSchemaVersion = 1

// InitializeDatabase creates and initializes a standalone SQLite database
// with the required schema. Idempotent; tests use this with temp paths.
func InitializeDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_foreign_keys=ON&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

// initializeSchema ensures the database schema is at the current version.
func initializeSchema(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}

	if currentVersion == CurrentSchemaVersion {
		return nil
	}

	return fmt.Errorf("unsupported schema version %d (expected %d)", currentVersion, CurrentSchemaVersion)
}

// GetSchemaVersion returns the current schema version, 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	var version int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// createSchema builds the full schema on an empty database.
func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	tables := []string{
		// Schema version tracking
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Pipeline runs: one row per URS document processed
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			document_name TEXT NOT NULL,
			document_path TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'WAITING',
			category INTEGER,
			confidence DECIMAL(5,4),
			suite_path TEXT,
			error TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			completed_at DATETIME
		)`,

		// Serialized state machine snapshots for resume
		`CREATE TABLE IF NOT EXISTS workflow_states (
			workflow_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			state_json TEXT NOT NULL,
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Categorization decisions
		`CREATE TABLE IF NOT EXISTS categorizations (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			category INTEGER NOT NULL CHECK (category IN (1,3,4,5)),
			confidence DECIMAL(5,4) NOT NULL,
			rationale TEXT NOT NULL,
			indicators TEXT,
			review_required INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Human consultation outcomes
		`CREATE TABLE IF NOT EXISTS consultations (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			reason TEXT NOT NULL,
			proposed_category INTEGER NOT NULL,
			confidence DECIMAL(5,4) NOT NULL,
			decision TEXT CHECK (decision IN ('CONFIRMED','OVERRIDDEN','EXPIRED','FAILED')),
			final_category INTEGER,
			decided_by TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			decided_at DATETIME
		)`,

		// Generated test suites (full JSON document plus summary columns)
		`CREATE TABLE IF NOT EXISTS test_suites (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			category INTEGER NOT NULL,
			test_count INTEGER NOT NULL,
			estimated_minutes INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// URS document chunks with embedding vectors for retrieval
		`CREATE TABLE IF NOT EXISTS doc_chunks (
			id TEXT PRIMARY KEY,
			document_name TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			section TEXT,
			content TEXT NOT NULL,
			embedding BLOB,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			UNIQUE (document_name, chunk_index)
		)`,

		// Cached regulatory research responses
		`CREATE TABLE IF NOT EXISTS research_cache (
			cache_key TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			response TEXT NOT NULL,
			fetched_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)`,

		// Queryable mirror of the append-only audit trail
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			actor TEXT NOT NULL,
			payload TEXT NOT NULL,
			payload_sha256 TEXT NOT NULL,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)",
		"CREATE INDEX IF NOT EXISTS idx_categorizations_run ON categorizations(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_consultations_run ON consultations(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_suites_run ON test_suites(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_chunks_doc ON doc_chunks(document_name)",
		"CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_events(run_id)",
	}

	for _, index := range indices {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return setSchemaVersion(db, CurrentSchemaVersion)
}
