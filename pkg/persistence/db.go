// Package persistence provides SQLite-based storage with singleton
// database access for pipeline runs, categorizations, consultations,
// generated suites, document chunks, and the audit mirror.
package persistence

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"qualgen/pkg/logx"
)

// Singleton database manager. All database access goes through this
// instance; SQLite supports a single writer.
//
//nolint:gochecknoglobals // Intentional singleton pattern for database access
var (
	globalDB     *sql.DB
	globalDBOnce sync.Once
	globalDBMu   sync.RWMutex
	dbLogger     *logx.Logger
	sessionID    string
)

// Initialize sets up the singleton database connection. Must be called
// once at startup before any database operations; subsequent calls are
// no-ops.
func Initialize(dbPath, sessID string) error {
	var initErr error

	globalDBOnce.Do(func() {
		dbLogger = logx.NewLogger("persistence")
		sessionID = sessID

		db, err := sql.Open("sqlite", fmt.Sprintf(
			"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
			dbPath,
		))
		if err != nil {
			initErr = fmt.Errorf("failed to open database: %w", err)
			return
		}

		if err := db.Ping(); err != nil {
			_ = db.Close()
			initErr = fmt.Errorf("failed to ping database: %w", err)
			return
		}

		if err := initializeSchema(db); err != nil {
			_ = db.Close()
			initErr = fmt.Errorf("failed to initialize schema: %w", err)
			return
		}

		db.SetMaxOpenConns(1) // SQLite only supports one writer
		db.SetMaxIdleConns(1)

		globalDB = db
		dbLogger.Info("database initialized: %s (session: %s)", dbPath, sessID)
	})

	return initErr
}

// GetDB returns the singleton database connection. Panics if Initialize
// has not been called.
func GetDB() *sql.DB {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()

	if globalDB == nil {
		panic("persistence.Initialize must be called before GetDB")
	}
	return globalDB
}

// GetSessionID returns the current session ID.
func GetSessionID() string {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()
	return sessionID
}

// IsInitialized returns true if the database has been initialized.
func IsInitialized() bool {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()
	return globalDB != nil
}

// Close closes the database connection during shutdown.
func Close() error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()

	if globalDB != nil {
		err := globalDB.Close()
		globalDB = nil
		if err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}

// Ops returns a DatabaseOperations instance using the singleton
// connection. This is the primary way to perform database operations.
func Ops() *DatabaseOperations {
	return NewDatabaseOperations(GetDB(), GetSessionID())
}
