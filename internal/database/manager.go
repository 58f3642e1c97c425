package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrNotOpen and ErrReadOnly are the clinic sentinels, re-exported for
// callers that only deal with the database package.
var (
	ErrNotOpen  = clinic.ErrNotOpen
	ErrReadOnly = clinic.ErrReadOnly
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// livePragmas configure the live database connection.
var livePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Manager owns the single connection to the live clinic database.
type Manager struct {
	path   string
	logger clinic.Logger
	runner *migrations.Runner

	mu sync.Mutex
	db *sql.DB
}

// NewManager returns a closed manager for the database at path.
func NewManager(path string, runner *migrations.Runner, logger clinic.Logger) *Manager {
	return &Manager{path: path, runner: runner, logger: logger}
}

// OpenConnection opens and configures a SQLite database connection for
// the live database. path can be a file path or ":memory:".
func OpenConnection(path string) (*sql.DB, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and pragmas are
	// per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range livePragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	return db, nil
}

// openFile opens a database file that is not the live database, leaving
// its journal mode alone.
func openFile(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring %s: %w", path, err)
	}
	return db, nil
}

// Path returns the database file path.
func (m *Manager) Path() string { return m.path }

// Open opens the connection. Opening an open manager is a no-op.
func (m *Manager) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		return nil
	}
	db, err := OpenConnection(m.path)
	if err != nil {
		return err
	}
	m.db = db
	m.logger.Debug("database opened", "path", m.path)
	return nil
}

// Close closes the connection. Closing a closed manager is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	if err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	m.logger.Debug("database closed", "path", m.path)
	return nil
}

// IsOpen reports whether the connection is open.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db != nil
}

// DB returns the open connection pool or ErrNotOpen.
func (m *Manager) DB() (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil, ErrNotOpen
	}
	return m.db, nil
}

// WithConnection runs fn with the open connection.
func (m *Manager) WithConnection(ctx context.Context, fn func(*sql.DB) error) error {
	db, err := m.DB()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(db)
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func (m *Manager) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	db, err := m.DB()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// BackupTo writes a complete, consistent copy of the database to destPath
// using VACUUM INTO. destPath must not exist.
func (m *Manager) BackupTo(ctx context.Context, destPath string) error {
	return m.WithConnection(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
			return fmt.Errorf("backing up database: %w", err)
		}
		return nil
	})
}

// Checkpoint copies the WAL into the main file and truncates the WAL.
func (m *Manager) Checkpoint(ctx context.Context) error {
	return m.WithConnection(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return fmt.Errorf("checkpointing database: %w", err)
		}
		return nil
	})
}

// Migrate brings the open database to the latest schema version.
func (m *Manager) Migrate(ctx context.Context) error {
	_, err := m.MigrateReport(ctx)
	return err
}

// MigrateReport is Migrate returning what was applied.
func (m *Manager) MigrateReport(ctx context.Context) (*migrations.Report, error) {
	db, err := m.DB()
	if err != nil {
		return nil, err
	}
	report, err := m.runner.Run(ctx, db)
	if err != nil {
		return report, err
	}
	if len(report.Applied) > 0 {
		m.logger.Info("database migrated", "from", report.From, "to", report.To)
	}
	return report, nil
}

// SchemaStatus reports whether the open database is at the latest version.
func (m *Manager) SchemaStatus(ctx context.Context) error {
	return m.WithConnection(ctx, func(db *sql.DB) error {
		return m.runner.CheckStatus(ctx, db)
	})
}

// Compile-time checks that Manager implements the clinic interfaces
var (
	_ clinic.Database = (*Manager)(nil)
	_ clinic.Migrator = (*Manager)(nil)
)
