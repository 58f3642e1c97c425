package clinic_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/database"
	"clinicdesk/internal/testutil"
	"clinicdesk/internal/vault"
)

// env is one clinic installation: a live database with both engines wired
// to an in-memory cloud store and a local backup folder.
type env struct {
	db       *database.Manager
	keeper   *database.LicenseKeeper
	vault    *vault.MemoryVault
	settings *testutil.StubSettings
	clock    *testutil.StubClock
	backup   *clinic.BackupEngine
	restore  *clinic.RestoreEngine
}

type envOption func(*envConfig)

type envConfig struct {
	keeper    clinic.LicenseKeeper
	remote    clinic.RemoteStore
	noRemote  bool
	retention int
}

func withKeeper(k func(*database.LicenseKeeper) clinic.LicenseKeeper) envOption {
	return func(c *envConfig) { c.keeper = k(c.keeper.(*database.LicenseKeeper)) }
}

func withoutRemote() envOption {
	return func(c *envConfig) { c.noRemote = true }
}

func withRetention(n int) envOption {
	return func(c *envConfig) { c.retention = n }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	m := testutil.NewTestManager(t)
	keeper := database.NewLicenseKeeper(m, clinic.NewNopLogger())
	v := testutil.NewTestVault()

	cfg := &envConfig{keeper: keeper, remote: v, retention: 10}
	for _, opt := range opts {
		opt(cfg)
	}
	remote := cfg.remote
	if cfg.noRemote {
		remote = nil
	}

	e := &env{
		db:       m,
		keeper:   keeper,
		vault:    v,
		settings: testutil.NewStubSettings(filepath.Join(t.TempDir(), "backups"), "off"),
		clock:    testutil.FixedClock(),
	}
	gate := testutil.NewTestGate()
	logger := clinic.NewNopLogger()

	e.backup = clinic.NewBackupEngine(m, database.Inspector{}, cfg.keeper, gate, remote, e.settings,
		clinic.BackupPolicy{Retention: cfg.retention, HostID: "front-desk"}, logger, e.clock, testutil.NewStubIDGenerator())
	e.restore = clinic.NewRestoreEngine(m, m, database.Inspector{}, cfg.keeper, gate, remote, logger)
	e.restore.SetReleaseDelay(0)
	return e
}

// localBackup takes a local backup and returns its path.
func (e *env) localBackup(t *testing.T, password string) string {
	t.Helper()
	res, err := e.backup.PerformBackup(context.Background(), clinic.BackupOptions{Mode: clinic.ModeLocal, Password: password})
	if err != nil {
		t.Fatalf("PerformBackup() error = %v", err)
	}
	e.clock.Advance(time.Minute)
	return res.LocalPath
}

func deletePatients(t *testing.T, m *database.Manager, ids ...int64) {
	t.Helper()
	store := database.NewPatientStore(m)
	for _, id := range ids {
		if err := store.Delete(context.Background(), id); err != nil {
			t.Fatalf("deleting patient %d: %v", id, err)
		}
	}
}

func countRows(dump, table string) int {
	return strings.Count(dump, "\n"+table+": ")
}

func requireRestoreError(t *testing.T, err error) *clinic.RestoreError {
	t.Helper()
	var rerr *clinic.RestoreError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v (%T), want *clinic.RestoreError", err, err)
	}
	return rerr
}

// failingKeeper wraps the real keeper and fails selected operations.
type failingKeeper struct {
	*database.LicenseKeeper
	sanitizeErr error
	restoreErr  error
}

func (k *failingKeeper) SanitizeFile(ctx context.Context, path string) error {
	if k.sanitizeErr != nil {
		return k.sanitizeErr
	}
	return k.LicenseKeeper.SanitizeFile(ctx, path)
}

func (k *failingKeeper) RestoreLicense(ctx context.Context, snap *clinic.LicenseSnapshot) error {
	if k.restoreErr != nil {
		return k.restoreErr
	}
	return k.LicenseKeeper.RestoreLicense(ctx, snap)
}

// countingStore records downloads made through a RemoteStore.
type countingStore struct {
	clinic.RemoteStore
	downloads int
}

func (s *countingStore) DownloadFile(ctx context.Context, fileID, destPath string) error {
	s.downloads++
	return s.RemoteStore.DownloadFile(ctx, fileID, destPath)
}
