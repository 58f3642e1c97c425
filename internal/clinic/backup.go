package clinic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"clinicdesk/internal/fs"
)

const (
	// CloudBackupName is the single, upserted name of the cloud backup.
	CloudBackupName = "clinicdesk_backup.db"

	// LocalBackupPrefix starts the name of every local backup file.
	LocalBackupPrefix = "clinicdesk_backup_"

	mimeSQLite    = "application/x-sqlite3"
	mimeEncrypted = "application/octet-stream"
)

// BackupMode selects the destinations of a backup.
type BackupMode string

const (
	ModeLocal BackupMode = "local"
	ModeCloud BackupMode = "cloud"
	ModeBoth  BackupMode = "both"
)

// ParseBackupMode accepts "local", "cloud" and "both".
func ParseBackupMode(s string) (BackupMode, error) {
	switch m := BackupMode(s); m {
	case ModeLocal, ModeCloud, ModeBoth:
		return m, nil
	default:
		return "", fmt.Errorf("unknown backup mode %q (want local, cloud or both)", s)
	}
}

func (m BackupMode) cloud() bool { return m == ModeCloud || m == ModeBoth }
func (m BackupMode) local() bool { return m == ModeLocal || m == ModeBoth }

// BackupOptions configures one backup run. An empty Password produces a
// plaintext artifact.
type BackupOptions struct {
	Password string
	Mode     BackupMode
}

// BackupResult reports what a successful backup produced.
type BackupResult struct {
	Cloud     *RemoteFile
	LocalPath string
	Encrypted bool
	Timestamp time.Time
	Pruned    []string

	// Warnings holds failures that did not fail the backup: a skipped
	// upload in ModeBoth, a failed prune, an unrecorded backup time.
	Warnings []error
}

// BackupPolicy holds the engine's static settings.
type BackupPolicy struct {
	// Retention is how many local backups to keep. <= 0 keeps all.
	Retention int
	HostID    string
}

// BackupEngine produces sanitized, optionally encrypted snapshots of the
// live database and distributes them to the local folder and the cloud.
type BackupEngine struct {
	db        Database
	inspector Inspector
	keeper    LicenseKeeper
	gate      CryptoGate
	remote    RemoteStore
	settings  Settings
	policy    BackupPolicy
	logger    Logger
	clock     Clock
	idgen     IDGenerator
}

// NewBackupEngine creates a BackupEngine. remote may be nil when no cloud
// store is configured.
func NewBackupEngine(db Database, inspector Inspector, keeper LicenseKeeper, gate CryptoGate, remote RemoteStore, settings Settings, policy BackupPolicy, logger Logger, clock Clock, idgen IDGenerator) *BackupEngine {
	return &BackupEngine{
		db:        db,
		inspector: inspector,
		keeper:    keeper,
		gate:      gate,
		remote:    remote,
		settings:  settings,
		policy:    policy,
		logger:    orNop(logger),
		clock:     clock,
		idgen:     idgen,
	}
}

// PerformBackup snapshots the live database, removes the license
// namespace from the snapshot, verifies it, optionally encrypts it and
// sends it to the selected destinations. Temporary artifacts are removed
// on every path.
func (e *BackupEngine) PerformBackup(ctx context.Context, opts BackupOptions) (*BackupResult, error) {
	if opts.Mode == "" {
		opts.Mode = ModeBoth
	}
	now := e.clock.Now()
	e.logger.Info("backup started", "mode", string(opts.Mode), "encrypted", opts.Password != "")

	workDir, err := os.MkdirTemp("", "clinicdesk-backup-*")
	if err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	snapshot := filepath.Join(workDir, "snapshot-"+e.idgen.New()+".db")
	if err := e.db.BackupTo(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("creating snapshot: %w", err)
	}

	if err := e.keeper.SanitizeFile(ctx, snapshot); err != nil {
		e.logger.Error("sanitize failed, backup aborted", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrSanitize, err)
	}

	if err := e.inspector.CheckIntegrity(ctx, snapshot); err != nil {
		e.logger.Error("snapshot failed integrity check", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrCorruptedFile, err)
	}

	artifact := snapshot
	encrypted := opts.Password != ""
	if encrypted {
		artifact = snapshot + ".enc"
		if err := e.gate.EncryptFile(snapshot, artifact, opts.Password); err != nil {
			return nil, fmt.Errorf("encrypting snapshot: %w", err)
		}
		if err := os.Remove(snapshot); err != nil {
			return nil, fmt.Errorf("removing plaintext snapshot: %w", err)
		}
	}

	result := &BackupResult{Encrypted: encrypted, Timestamp: now}

	if opts.Mode.cloud() {
		file, err := e.upload(ctx, artifact, encrypted, now, opts.Mode, result)
		if err != nil {
			return nil, err
		}
		result.Cloud = file
	}

	if opts.Mode.local() {
		if err := e.storeLocal(artifact, encrypted, now, result); err != nil {
			return nil, err
		}
	}

	if err := e.settings.SetLastBackupAt(now); err != nil {
		e.logger.Warn("failed to record backup time", "err", err)
		result.Warnings = append(result.Warnings, fmt.Errorf("recording backup time: %w", err))
	}
	e.logger.Info("backup completed", "local", result.LocalPath, "cloud", result.Cloud != nil, "encrypted", encrypted)
	return result, nil
}

// upload sends the artifact to the remote store. In ModeBoth a missing or
// unauthenticated store is logged and skipped; in ModeCloud it is an error.
func (e *BackupEngine) upload(ctx context.Context, artifact string, encrypted bool, now time.Time, mode BackupMode, result *BackupResult) (*RemoteFile, error) {
	if e.remote == nil {
		if mode == ModeCloud {
			return nil, ErrNoRemoteStore
		}
		e.logger.Warn("no cloud storage configured, skipping upload")
		result.Warnings = append(result.Warnings, ErrNoRemoteStore)
		return nil, nil
	}
	ok, err := e.remote.IsAuthenticated(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking cloud authentication: %w", err)
	}
	if !ok {
		if mode == ModeCloud {
			return nil, ErrNotAuthenticated
		}
		e.logger.Warn("cloud storage not authenticated, skipping upload")
		result.Warnings = append(result.Warnings, ErrNotAuthenticated)
		return nil, nil
	}

	mime := mimeSQLite
	if encrypted {
		mime = mimeEncrypted
	}
	desc := BackupDescription{Encrypted: encrypted, CreatedAt: now.UTC(), HostID: e.policy.HostID}
	file, err := e.remote.UploadFile(ctx, artifact, CloudBackupName, mime, desc)
	if err != nil {
		return nil, fmt.Errorf("uploading backup: %w", err)
	}
	e.logger.Info("backup uploaded", "file_id", file.ID, "size", file.Size)
	return file, nil
}

func (e *BackupEngine) storeLocal(artifact string, encrypted bool, now time.Time, result *BackupResult) error {
	dir := e.settings.LocalBackupPath()
	if dir == "" {
		return fmt.Errorf("local backup folder is not configured")
	}
	folder := fs.NewBackupFolder(dir, LocalBackupPrefix)
	dest, err := folder.Store(artifact, folder.Name(now, encrypted))
	if err != nil {
		return err
	}
	result.LocalPath = dest

	pruned, err := folder.Prune(e.policy.Retention)
	if err != nil {
		e.logger.Warn("failed to prune old local backups", "err", err)
		result.Warnings = append(result.Warnings, fmt.Errorf("pruning local backups: %w", err))
	}
	result.Pruned = pruned
	return nil
}

// RunScheduled performs a backup when the persisted schedule says one is
// due. It reports whether a backup ran.
func (e *BackupEngine) RunScheduled(ctx context.Context, opts BackupOptions) (*BackupResult, bool, error) {
	schedule, err := ParseSchedule(e.settings.ScheduleFrequency())
	if err != nil {
		return nil, false, err
	}
	if !BackupDue(schedule, e.settings.LastBackupAt(), e.clock.Now()) {
		return nil, false, nil
	}
	e.logger.Info("scheduled backup due", "schedule", string(schedule))
	result, err := e.PerformBackup(ctx, opts)
	if err != nil {
		return nil, true, err
	}
	return result, true, nil
}

// ListLocalBackups returns the backups in the configured local folder, newest first.
func (e *BackupEngine) ListLocalBackups() ([]fs.BackupFile, error) {
	dir := e.settings.LocalBackupPath()
	if dir == "" {
		return nil, nil
	}
	return fs.NewBackupFolder(dir, LocalBackupPrefix).List()
}

// ListCloudBackups returns up to limit cloud backups, newest first.
func (e *BackupEngine) ListCloudBackups(ctx context.Context, limit int) ([]*RemoteFile, error) {
	if e.remote == nil {
		return nil, ErrNoRemoteStore
	}
	files, err := e.remote.ListFiles(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing cloud backups: %w", err)
	}
	return files, nil
}

// DeleteCloudBackup removes one cloud backup.
func (e *BackupEngine) DeleteCloudBackup(ctx context.Context, fileID string) error {
	if e.remote == nil {
		return ErrNoRemoteStore
	}
	if err := e.remote.DeleteFile(ctx, fileID); err != nil {
		return fmt.Errorf("deleting cloud backup: %w", err)
	}
	e.logger.Info("cloud backup deleted", "file_id", fileID)
	return nil
}
