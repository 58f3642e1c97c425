package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/config"
	"clinicdesk/internal/database"
	"clinicdesk/internal/database/migrations"
	"clinicdesk/internal/encryption"
	"clinicdesk/internal/fs"
	"clinicdesk/internal/metadata"
	"clinicdesk/internal/vault"
)

// Options tune how the App logs and tells time.
type Options struct {
	// Echo copies log records to stderr.
	Echo    bool
	Verbose bool
	Clock   clinic.Clock
}

// App is the application layer between the CLI and the engines.
// It constructs all dependencies from config and owns the database
// lifecycle. The caller must call Close when done.
type App struct {
	cfg      *config.Config
	db       *database.Manager
	settings *config.SettingsFile
	remote   clinic.RemoteStore
	gate     clinic.CryptoGate
	patients *database.PatientStore
	backup   *clinic.BackupEngine
	restore  *clinic.RestoreEngine
	logger   clinic.Logger
	clock    clinic.Clock
	op       *Operation
	logFile  *os.File

	// migrationErr is set when startup left the schema partially migrated.
	migrationErr error
}

// backupSettings falls back to the configured local_dir when the user
// has not chosen a backup folder.
type backupSettings struct {
	*config.SettingsFile
	fallbackDir string
}

func (s backupSettings) LocalBackupPath() string {
	if p := s.SettingsFile.LocalBackupPath(); p != "" {
		return p
	}
	return s.fallbackDir
}

// NewApp creates a fully wired App from the given config. command and
// params describe the CLI invocation for the log. The database is not
// opened until Startup.
func NewApp(ctx context.Context, cfg *config.Config, command, params string, opts Options) (*App, error) {
	clock := opts.Clock
	if clock == nil {
		clock = clinic.RealClock{}
	}
	op := NewOperation(command, params, clock.Now())

	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, opts.Echo, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a, err := wire(ctx, cfg, logger, clock)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.op = op
	a.logFile = logFile
	logger.Info("operation started", "command", command, "params", params)
	return a, nil
}

func wire(ctx context.Context, cfg *config.Config, logger clinic.Logger, clock clinic.Clock) (*App, error) {
	db, err := database.NewManagerFromConfig(cfg.Database, logger, clock)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	remote, err := vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	gate, err := encryption.NewGateFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating crypto gate: %w", err)
	}

	settingsPath := cfg.Backup.SettingsPath
	if settingsPath == "" {
		settingsPath = filepath.Join(cfg.BaseDir, "settings.toml")
	}
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	keeper := database.NewLicenseKeeper(db, logger)
	inspector := database.Inspector{}
	policy := clinic.BackupPolicy{Retention: cfg.Backup.Retention, HostID: cfg.HostID}

	backup := clinic.NewBackupEngine(db, inspector, keeper, gate, remote,
		backupSettings{SettingsFile: settings, fallbackDir: cfg.Backup.LocalDir},
		policy, logger, clock, clinic.UUIDGenerator{})
	restore := clinic.NewRestoreEngine(db, db, inspector, keeper, gate, remote, logger)
	if cfg.Backup.RestoreDelayMS > 0 {
		restore.SetReleaseDelay(time.Duration(cfg.Backup.RestoreDelayMS) * time.Millisecond)
	}

	return &App{
		cfg:      cfg,
		db:       db,
		settings: settings,
		remote:   remote,
		gate:     gate,
		patients: database.NewPatientStore(db),
		backup:   backup,
		restore:  restore,
		logger:   logger,
		clock:    clock,
	}, nil
}

// StartupReport describes what Startup did.
type StartupReport struct {
	Migration       *migrations.Report
	MigrationErr    error
	ScheduledBackup *clinic.BackupResult
}

// Startup opens the database and brings its schema up to date. A failed
// migration is logged and leaves the app running on the partially
// migrated schema. When runSchedule is set a due scheduled backup runs
// afterwards; its failure is logged only.
func (a *App) Startup(ctx context.Context, runSchedule bool) (*StartupReport, error) {
	if err := a.db.Open(); err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	report := &StartupReport{}
	mr, err := a.db.MigrateReport(ctx)
	report.Migration = mr
	if err != nil {
		a.migrationErr = err
		report.MigrationErr = err
		a.logger.Error("migration failed, continuing with partially migrated schema", "err", err)
	}

	if !runSchedule {
		return report, nil
	}
	mode, err := clinic.ParseBackupMode(a.cfg.Backup.ScheduledMode)
	if err != nil {
		a.logger.Warn("invalid scheduled backup mode, using local", "err", err)
		mode = clinic.ModeLocal
	}
	result, ran, err := a.backup.RunScheduled(ctx, clinic.BackupOptions{Mode: mode})
	switch {
	case err != nil:
		a.logger.Warn("scheduled backup failed", "err", err)
	case ran:
		report.ScheduledBackup = result
	}
	return report, nil
}

// Degraded returns the migration error left by Startup, if any.
func (a *App) Degraded() error { return a.migrationErr }

// Backup runs one backup.
func (a *App) Backup(ctx context.Context, opts clinic.BackupOptions) (*clinic.BackupResult, error) {
	return a.backup.PerformBackup(ctx, opts)
}

// RestoreLocal restores the backup file at path.
func (a *App) RestoreLocal(ctx context.Context, path string, opts clinic.RestoreOptions) (*clinic.RestoreResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return a.restore.RestoreFromLocalFile(ctx, abs, opts)
}

// RestoreCloud restores a cloud backup; an empty fileID selects the
// standard backup name.
func (a *App) RestoreCloud(ctx context.Context, fileID string, opts clinic.RestoreOptions) (*clinic.RestoreResult, error) {
	return a.restore.RestoreFromCloud(ctx, fileID, opts)
}

// Verify checks that the backup at path is usable. Encrypted backups are
// decrypted into a temp file first, which needs the password.
func (a *App) Verify(ctx context.Context, path, password string) (encrypted bool, err error) {
	encrypted, err = a.gate.IsEncryptedFile(path)
	if err != nil {
		return false, err
	}
	candidate := path
	if encrypted {
		if password == "" {
			return true, clinic.ErrPasswordRequired
		}
		dir, err := os.MkdirTemp("", "clinicdesk-verify-*")
		if err != nil {
			return true, fmt.Errorf("creating work directory: %w", err)
		}
		defer os.RemoveAll(dir)
		candidate = filepath.Join(dir, "candidate.db")
		if err := a.gate.DecryptFile(path, candidate, password); err != nil {
			return true, err
		}
	}
	if err := database.CheckIntegrity(ctx, candidate); err != nil {
		return encrypted, fmt.Errorf("%w: %v", clinic.ErrCorruptedFile, err)
	}
	return encrypted, nil
}

// LocalBackups lists the local backup folder, newest first.
func (a *App) LocalBackups() ([]fs.BackupFile, error) {
	return a.backup.ListLocalBackups()
}

// CloudBackups lists up to limit cloud backups, newest first.
func (a *App) CloudBackups(ctx context.Context, limit int) ([]*clinic.RemoteFile, error) {
	return a.backup.ListCloudBackups(ctx, limit)
}

// DeleteCloudBackup removes a cloud backup by ID.
func (a *App) DeleteCloudBackup(ctx context.Context, fileID string) error {
	return a.backup.DeleteCloudBackup(ctx, fileID)
}

// AddPatient registers a patient in the default clinic.
func (a *App) AddPatient(ctx context.Context, firstName, lastName string) (int64, error) {
	return a.patients.Create(ctx, &database.Patient{FirstName: firstName, LastName: lastName})
}

// PatientCount returns the number of patients.
func (a *App) PatientCount(ctx context.Context) (int, error) {
	return a.patients.Count(ctx)
}

// Migrate runs pending migrations.
func (a *App) Migrate(ctx context.Context) (*migrations.Report, error) {
	report, err := a.db.MigrateReport(ctx)
	if err == nil {
		a.migrationErr = nil
	}
	return report, err
}

// SchemaStatus reports whether the schema is at the latest version.
func (a *App) SchemaStatus(ctx context.Context) error {
	return a.db.SchemaStatus(ctx)
}

// Schema returns the CREATE statements of the live database.
func (a *App) Schema(ctx context.Context) (string, error) {
	var out string
	err := a.db.WithConnection(ctx, func(db *sql.DB) error {
		var err error
		out, err = database.DumpSchema(ctx, db)
		return err
	})
	return out, err
}

// SetReadOnly turns the application-wide read-only flag on or off.
func (a *App) SetReadOnly(ctx context.Context, on bool) error {
	err := a.db.WithTx(ctx, func(tx *sql.Tx) error {
		if on {
			return metadata.Set(ctx, tx, metadata.ReadOnly, true)
		}
		return metadata.Delete(ctx, tx, metadata.ReadOnly)
	})
	if err != nil {
		return fmt.Errorf("setting read-only mode: %w", err)
	}
	a.logger.Info("read-only mode changed", "read_only", on)
	return nil
}

// Settings returns the persisted backup settings.
func (a *App) Settings() config.Settings {
	return a.settings.Snapshot()
}

// UpdateSettings changes and saves the persisted backup settings.
func (a *App) UpdateSettings(fn func(*config.Settings)) error {
	if err := a.settings.Update(fn); err != nil {
		return err
	}
	s := a.settings.Snapshot()
	a.logger.Info("settings updated", "schedule", s.Schedule, "local_backup_path", s.LocalBackupPath)
	return nil
}

// Finish records the outcome of the operation, logged on Close.
func (a *App) Finish(err error) {
	a.op.Finish(err)
}

// Close logs the operation outcome and closes the database and log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	a.op.Finish(firstErr)
	args := []any{"command", a.op.Command, "status", a.op.Status, "duration", a.clock.Now().Sub(a.op.StartedAt)}
	if a.op.Err != nil {
		args = append(args, "err", a.op.Err)
		a.logger.Error("operation finished", args...)
	} else {
		a.logger.Info("operation finished", args...)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
