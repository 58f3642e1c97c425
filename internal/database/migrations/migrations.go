// Package migrations evolves the clinic database schema.
//
// Each migration has a version, a name and an ordered list of steps. SQL
// steps come from the embedded files/NNNN_name.up.sql bodies, read through
// the golang-migrate iofs source driver; structural changes SQLite cannot
// express with ALTER TABLE are Go-coded steps in definitions.go.
//
// The applied version lives in the metadata store under
// last_migration_version and is written in the same transaction as the
// migration, so a failed migration leaves both schema and version untouched.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/metadata"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// Migration is one schema version.
type Migration struct {
	Version int
	Name    string
	Steps   []Step
}

// MigrationError reports the migration that failed. Migrations before it
// stay applied.
type MigrationError struct {
	Version int
	Name    string
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %d (%s) failed: %v", e.Version, e.Name, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// Report describes one run of the runner.
type Report struct {
	From    int
	To      int
	Applied []int
}

// Load returns all migrations in ascending order: the embedded SQL files
// merged with the Go-coded definitions.
func Load() ([]Migration, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}
	defer src.Close()

	byVersion := make(map[int]*Migration, len(definitions))
	for i := range definitions {
		m := definitions[i]
		m.Steps = append([]Step(nil), m.Steps...)
		byVersion[m.Version] = &m
	}

	if err := readFiles(src, byVersion); err != nil {
		return nil, err
	}

	ms := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		ms = append(ms, *m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].Version < ms[j].Version })
	for i, m := range ms {
		if m.Version != i+1 {
			return nil, fmt.Errorf("migration versions are not contiguous: expected %d, found %d", i+1, m.Version)
		}
	}
	return ms, nil
}

// readFiles prepends an Exec step for every embedded up file.
func readFiles(src source.Driver, byVersion map[int]*Migration) error {
	version, err := src.First()
	for err == nil {
		r, identifier, rerr := src.ReadUp(version)
		if rerr != nil {
			return fmt.Errorf("reading migration %d: %w", version, rerr)
		}
		body, rerr := io.ReadAll(r)
		r.Close()
		if rerr != nil {
			return fmt.Errorf("reading migration %d: %w", version, rerr)
		}

		m, ok := byVersion[int(version)]
		if !ok {
			m = &Migration{Version: int(version), Name: identifier}
			byVersion[m.Version] = m
		}
		m.Steps = append([]Step{Exec{Label: identifier, SQL: string(body)}}, m.Steps...)

		version, err = src.Next(version)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("listing migration files: %w", err)
	}
	return nil
}

// Runner applies pending migrations to a database.
type Runner struct {
	migrations []Migration
	logger     clinic.Logger
	clock      clinic.Clock
}

// NewRunner returns a runner over the built-in migrations.
func NewRunner(logger clinic.Logger, clock clinic.Clock) (*Runner, error) {
	ms, err := Load()
	if err != nil {
		return nil, err
	}
	return NewRunnerWith(ms, logger, clock), nil
}

// NewRunnerWith returns a runner over an explicit migration list, which
// must be sorted by version.
func NewRunnerWith(ms []Migration, logger clinic.Logger, clock clinic.Clock) *Runner {
	return &Runner{migrations: ms, logger: logger, clock: clock}
}

// Latest returns the highest known version.
func (r *Runner) Latest() int {
	if len(r.migrations) == 0 {
		return 0
	}
	return r.migrations[len(r.migrations)-1].Version
}

// CurrentVersion reads the applied version. A missing or unreadable value
// counts as 0.
func (r *Runner) CurrentVersion(ctx context.Context, db metadata.Querier) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", metadata.Table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("checking settings table: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	v, ok, err := metadata.Get(ctx, db, metadata.LastMigrationVersion)
	if errors.Is(err, metadata.ErrInvalidValue) {
		r.logger.Warn("unreadable schema version, treating as 0", "err", err)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return v, nil
}

// Run applies every migration newer than the stored version, in order, one
// transaction each. It stops at the first failure and returns a
// *MigrationError; earlier migrations of the run stay committed.
func (r *Runner) Run(ctx context.Context, db *sql.DB) (*Report, error) {
	if err := metadata.EnsureTable(ctx, db); err != nil {
		return nil, err
	}
	current, err := r.CurrentVersion(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("reading schema version: %w", err)
	}

	report := &Report{From: current, To: current}
	if current > r.Latest() {
		r.logger.Warn("database schema is newer than this build", "version", current, "latest", r.Latest())
		return report, nil
	}

	for _, m := range r.migrations {
		if m.Version <= current {
			continue
		}
		if err := r.apply(ctx, db, m); err != nil {
			r.logger.Error("migration failed", "version", m.Version, "name", m.Name, "err", err)
			return report, &MigrationError{Version: m.Version, Name: m.Name, Err: err}
		}
		report.Applied = append(report.Applied, m.Version)
		report.To = m.Version
		r.logger.Info("migration applied", "version", m.Version, "name", m.Name)
	}
	return report, nil
}

// apply runs one migration on a dedicated connection. Foreign key
// enforcement is off and legacy_alter_table is on while it runs, so that
// renaming a table does not rewrite the foreign keys of its children.
// Both pragmas are no-ops inside a transaction and are set before BEGIN.
func (r *Runner) apply(ctx context.Context, db *sql.DB, m Migration) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	var fkOn int
	if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fkOn); err != nil {
		return fmt.Errorf("reading foreign_keys: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disabling foreign keys: %w", err)
	}
	if fkOn == 1 {
		defer conn.ExecContext(context.Background(), "PRAGMA foreign_keys = ON")
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA legacy_alter_table = ON"); err != nil {
		return fmt.Errorf("enabling legacy_alter_table: %w", err)
	}
	defer conn.ExecContext(context.Background(), "PRAGMA legacy_alter_table = OFF")

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for i, step := range m.Steps {
		if err := step.Apply(ctx, tx); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Describe(), err)
		}
	}

	if err := checkForeignKeys(ctx, tx); err != nil {
		return err
	}

	if err := metadata.Set(ctx, tx, metadata.LastMigrationVersion, m.Version); err != nil {
		return err
	}
	info := metadata.MigrationInfo{Version: m.Version, Name: m.Name, AppliedAt: r.clock.Now().UTC()}
	if err := metadata.Set(ctx, tx, metadata.LastMigrationInfo, info); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func checkForeignKeys(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("checking foreign keys: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		var table, parent string
		var rowid sql.NullInt64
		var fkid int
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("reading foreign key violation: %w", err)
		}
		return fmt.Errorf("foreign key violation: %s row %d references missing %s", table, rowid.Int64, parent)
	}
	return rows.Err()
}

// CheckStatus returns nil when the database is at the latest version and
// an error describing the mismatch otherwise.
func (r *Runner) CheckStatus(ctx context.Context, db *sql.DB) error {
	version, err := r.CurrentVersion(ctx, db)
	if err != nil {
		return err
	}
	latest := r.Latest()
	switch {
	case version == 0:
		return fmt.Errorf("database has no schema version (needs migration)")
	case version < latest:
		return fmt.Errorf("database is at version %d but latest is %d (%d migrations behind)",
			version, latest, latest-version)
	case version > latest:
		return fmt.Errorf("database version %d is ahead of binary version %d (binary needs update)",
			version, latest)
	}
	return nil
}
