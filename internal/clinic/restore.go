package clinic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"clinicdesk/internal/fs"
)

// RecoveryFileName is the name of the pre-restore copy kept next to the database.
const RecoveryFileName = "auto_recovery.db"

// DefaultReleaseDelay is how long the engine waits after closing the
// database before overwriting the file, so the OS releases its handles.
const DefaultReleaseDelay = 500 * time.Millisecond

// RestoreOptions configures one restore.
type RestoreOptions struct {
	Password string

	// ExpectedEmail is the account the user claims to restore into.
	ExpectedEmail string

	// Force overrides an ownership rejection.
	Force bool

	// TargetPath restores into a database file other than the live one.
	// Empty means the live database.
	TargetPath string
}

// RestoreResult reports a successful restore.
type RestoreResult struct {
	State             RestoreState
	Source            string
	Encrypted         bool
	OwnerEmail        string
	OwnershipOverride bool
	LicenseRestored   bool
	RecoveryPath      string

	// Warnings holds failures of best-effort steps that did not stop the
	// restore, such as a recovery copy that could not be written.
	Warnings []error
}

// RestoreEngine replaces a database with a verified backup, keeping the
// machine's license and rolling back to a recovery copy on failure.
type RestoreEngine struct {
	db           Database
	migrator     Migrator
	inspector    Inspector
	keeper       LicenseKeeper
	gate         CryptoGate
	remote       RemoteStore
	logger       Logger
	releaseDelay time.Duration
}

// NewRestoreEngine creates a RestoreEngine. remote may be nil when no
// cloud store is configured.
func NewRestoreEngine(db Database, migrator Migrator, inspector Inspector, keeper LicenseKeeper, gate CryptoGate, remote RemoteStore, logger Logger) *RestoreEngine {
	return &RestoreEngine{
		db:           db,
		migrator:     migrator,
		inspector:    inspector,
		keeper:       keeper,
		gate:         gate,
		remote:       remote,
		logger:       orNop(logger),
		releaseDelay: DefaultReleaseDelay,
	}
}

// SetReleaseDelay changes the pause between closing and overwriting the database.
func (e *RestoreEngine) SetReleaseDelay(d time.Duration) { e.releaseDelay = d }

// RestoreFromCloud restores the cloud backup with the given ID, or the
// well-known backup name when fileID is empty.
func (e *RestoreEngine) RestoreFromCloud(ctx context.Context, fileID string, opts RestoreOptions) (*RestoreResult, error) {
	run := e.newRun(opts)
	if e.remote == nil {
		return nil, run.fail(ErrNoRemoteStore)
	}
	ok, err := e.remote.IsAuthenticated(ctx)
	if err != nil {
		return nil, run.fail(fmt.Errorf("checking cloud authentication: %w", err))
	}
	if !ok {
		return nil, run.fail(ErrNotAuthenticated)
	}

	var meta *RemoteFile
	if fileID == "" {
		meta, err = e.remote.FindFile(ctx, CloudBackupName)
		if err == nil && meta == nil {
			err = ErrRemoteNotFound
		}
	} else {
		meta, err = e.remote.GetFileMetadata(ctx, fileID)
	}
	if err != nil {
		return nil, run.fail(fmt.Errorf("locating cloud backup: %w", err))
	}
	run.advance(StateLocated)

	// Fast path: the description says the payload is encrypted, so a
	// missing password is reported before anything is downloaded.
	if meta.Description.Encrypted && opts.Password == "" {
		return nil, run.fail(ErrPasswordRequired)
	}

	workDir, err := os.MkdirTemp("", "clinicdesk-restore-*")
	if err != nil {
		return nil, run.fail(fmt.Errorf("creating work directory: %w", err))
	}
	defer os.RemoveAll(workDir)

	downloaded := filepath.Join(workDir, "download.db")
	if err := e.remote.DownloadFile(ctx, meta.ID, downloaded); err != nil {
		return nil, run.fail(fmt.Errorf("downloading cloud backup: %w", err))
	}
	return run.restore(ctx, downloaded, "cloud:"+meta.ID, workDir)
}

// RestoreFromLocalFile restores the backup file at path.
func (e *RestoreEngine) RestoreFromLocalFile(ctx context.Context, path string, opts RestoreOptions) (*RestoreResult, error) {
	run := e.newRun(opts)
	ok, err := fs.Exists(path)
	if err != nil {
		return nil, run.fail(err)
	}
	if !ok {
		return nil, run.fail(fmt.Errorf("backup file not found: %s", path))
	}
	run.advance(StateLocated)

	workDir, err := os.MkdirTemp("", "clinicdesk-restore-*")
	if err != nil {
		return nil, run.fail(fmt.Errorf("creating work directory: %w", err))
	}
	defer os.RemoveAll(workDir)

	return run.restore(ctx, path, path, workDir)
}

// restoreRun carries the state of one restore through its steps.
type restoreRun struct {
	e        *RestoreEngine
	opts     RestoreOptions
	target   string
	live     bool
	state    RestoreState
	recovery string
}

func (e *RestoreEngine) newRun(opts RestoreOptions) *restoreRun {
	target := e.db.Path()
	live := true
	if opts.TargetPath != "" {
		if abs, err := filepath.Abs(opts.TargetPath); err == nil {
			target = abs
		} else {
			target = opts.TargetPath
		}
		live = sameFile(target, e.db.Path())
		if live {
			target = e.db.Path()
		}
	}
	return &restoreRun{e: e, opts: opts, target: target, live: live, state: StateIdle}
}

func sameFile(a, b string) bool {
	absB, err := filepath.Abs(b)
	if err != nil {
		return a == b
	}
	return filepath.Clean(a) == filepath.Clean(absB)
}

func (r *restoreRun) advance(s RestoreState) {
	r.state = s
	r.e.logger.Debug("restore step", "state", s.String())
}

// fail reports a failure that happened before the target was touched.
func (r *restoreRun) fail(err error) error {
	r.e.logger.Error("restore failed", "state", r.state.String(), "err", err)
	return &RestoreError{State: r.state, Err: err}
}

func (r *restoreRun) restore(ctx context.Context, artifact, source, workDir string) (*RestoreResult, error) {
	e := r.e
	e.logger.Info("restore started", "source", source, "target", r.target)
	result := &RestoreResult{Source: source}

	encrypted, err := e.gate.IsEncryptedFile(artifact)
	if err != nil {
		return nil, r.fail(fmt.Errorf("classifying backup: %w", err))
	}
	result.Encrypted = encrypted
	r.advance(StateClassified)

	candidate := artifact
	if encrypted {
		if r.opts.Password == "" {
			return nil, r.fail(ErrPasswordRequired)
		}
		candidate = filepath.Join(workDir, "candidate.db")
		if err := e.gate.DecryptFile(artifact, candidate, r.opts.Password); err != nil {
			if !errors.Is(err, ErrDecryptionFailed) {
				err = fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
			}
			return nil, r.fail(err)
		}
		r.advance(StateDecrypted)
	}

	if err := e.inspector.CheckIntegrity(ctx, candidate); err != nil {
		return nil, r.fail(fmt.Errorf("%w: %v", ErrCorruptedFile, err))
	}
	r.advance(StateIntegrityVerified)

	owner, err := e.inspector.ReadOwnerEmail(ctx, candidate)
	if err != nil {
		return nil, r.fail(fmt.Errorf("reading backup owner: %w", err))
	}
	overridden, err := checkOwnership(owner, r.opts.ExpectedEmail, r.opts.Force)
	if err != nil {
		e.logger.Warn("backup ownership rejected", "backup_email", MaskEmail(owner), "expected_email", MaskEmail(r.opts.ExpectedEmail))
		return nil, r.fail(err)
	}
	if overridden {
		e.logger.Warn("backup ownership check overridden", "backup_email", MaskEmail(owner), "expected_email", MaskEmail(r.opts.ExpectedEmail))
	}
	if owner == "" {
		e.logger.Info("backup carries no owner identity")
	}
	result.OwnerEmail = owner
	result.OwnershipOverride = overridden
	r.advance(StateOwnershipVerified)

	snap, err := e.keeper.CaptureLicense(ctx)
	if err != nil {
		return nil, r.fail(fmt.Errorf("capturing license: %w", err))
	}

	if err := r.snapshotRecovery(ctx); err != nil {
		err = fmt.Errorf("creating recovery copy: %w", err)
		e.logger.Warn("continuing restore without a recovery copy", "target", r.target, "err", err)
		result.Warnings = append(result.Warnings, err)
		r.advance(StateRecoverySnapshotted)
	}
	result.RecoveryPath = r.recovery

	if err := r.overwriteAndReopen(ctx, candidate, snap); err != nil {
		return nil, r.rollback(err)
	}
	result.LicenseRestored = !snap.Empty()

	r.advance(StateDone)
	result.State = StateDone
	e.logger.Info("restore completed", "source", source, "license_restored", result.LicenseRestored)
	return result, nil
}

// snapshotRecovery copies the target aside. A target that does not exist
// yet has nothing to recover.
func (r *restoreRun) snapshotRecovery(ctx context.Context) error {
	ok, err := fs.Exists(r.target)
	if err != nil {
		return err
	}
	if !ok {
		r.e.logger.Info("restore target does not exist yet, no recovery copy taken", "target", r.target)
		r.advance(StateRecoverySnapshotted)
		return nil
	}
	if r.live {
		if err := r.e.db.Checkpoint(ctx); err != nil {
			return fmt.Errorf("checkpointing database: %w", err)
		}
	}
	recovery := filepath.Join(filepath.Dir(r.target), RecoveryFileName)
	if err := fs.CopyFile(r.target, recovery); err != nil {
		return err
	}
	r.recovery = recovery
	r.advance(StateRecoverySnapshotted)
	r.e.logger.Info("recovery copy created", "path", recovery)
	return nil
}

func (r *restoreRun) overwriteAndReopen(ctx context.Context, candidate string, snap *LicenseSnapshot) error {
	e := r.e
	if r.live {
		if err := e.db.Close(); err != nil {
			return fmt.Errorf("closing database: %w", err)
		}
		if e.releaseDelay > 0 {
			select {
			case <-time.After(e.releaseDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err := fs.ReplaceDatabaseFile(candidate, r.target); err != nil {
		return err
	}
	r.advance(StateOverwritten)

	if err := e.keeper.SanitizeFile(ctx, r.target); err != nil {
		return fmt.Errorf("%w: %v", ErrSanitize, err)
	}
	r.advance(StateSanitized)

	if r.live {
		if err := e.db.Open(); err != nil {
			return fmt.Errorf("reopening database: %w", err)
		}
		if err := e.migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating restored database: %w", err)
		}
		if err := e.keeper.SanitizeLive(ctx); err != nil {
			return err
		}
	}
	r.advance(StateReopened)

	if !snap.Empty() {
		var err error
		if r.live {
			err = e.keeper.RestoreLicense(ctx, snap)
		} else {
			err = e.keeper.RestoreLicenseFile(ctx, r.target, snap)
		}
		if err != nil {
			e.logger.Error("license reinjection failed", "err", err)
			return fmt.Errorf("%w: %v", ErrLicenseRestore, err)
		}
	}
	r.advance(StateLicenseRestored)
	return nil
}

// rollback puts the recovery copy back over the target and reopens the
// live database. cause is always returned wrapped in a RestoreError.
func (r *restoreRun) rollback(cause error) error {
	e := r.e
	failedAt := r.state
	e.logger.Error("restore failed, rolling back", "state", failedAt.String(), "err", cause)

	if r.recovery == "" {
		e.logger.Error("no recovery copy available, database left as is", "target", r.target)
		return &RestoreError{State: failedAt, Err: cause}
	}

	if r.live {
		if err := e.db.Close(); err != nil {
			e.logger.Warn("closing database before rollback", "err", err)
		}
	}
	if err := fs.ReplaceDatabaseFile(r.recovery, r.target); err != nil {
		e.logger.Error("rollback failed, recovery copy kept", "recovery", r.recovery, "err", err)
		return &RestoreError{State: failedAt, Err: cause}
	}
	if r.live {
		if err := e.db.Open(); err != nil {
			e.logger.Error("reopening database after rollback", "err", err)
			return &RestoreError{State: failedAt, RolledBack: true, Err: cause}
		}
	}
	r.advance(StateRolledBack)
	e.logger.Warn("restore rolled back", "recovery", r.recovery)
	return &RestoreError{State: failedAt, RolledBack: true, Err: cause}
}
