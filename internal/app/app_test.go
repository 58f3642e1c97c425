package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/config"
	"clinicdesk/internal/database"
	"clinicdesk/internal/database/migrations"
	"clinicdesk/internal/metadata"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig("desk-test", base)
	cfg.Vault = config.VaultConfig{Type: "filesystem", Name: "share", FSVaultRoot: filepath.Join(base, "share")}
	cfg.Encryption.WorkFactor = 10
	cfg.Backup.RestoreDelayMS = 1
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := NewApp(context.Background(), cfg, "test", "", Options{Clock: fixedClock{time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestApp_StartupMigratesFreshDatabase(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	report, err := a.Startup(ctx, false)
	if err != nil {
		t.Fatalf("Startup() error = %v", err)
	}
	if report.MigrationErr != nil || a.Degraded() != nil {
		t.Fatalf("migration error = %v", report.MigrationErr)
	}
	if report.Migration.From != 0 || report.Migration.To != len(report.Migration.Applied) {
		t.Errorf("Migration = %+v", report.Migration)
	}
	if err := a.SchemaStatus(ctx); err != nil {
		t.Errorf("SchemaStatus() = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Database.DataDir, database.DatabaseFileName)); err != nil {
		t.Errorf("database file not created: %v", err)
	}
	schema, err := a.Schema(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(schema, "CREATE TABLE") || !strings.Contains(schema, "first_name") {
		t.Errorf("Schema() missing migrated tables")
	}
}

func TestApp_StartupContinuesWhenMigrationFails(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	// a database claiming version 5 without the tables migration 6 rewrites
	path := filepath.Join(cfg.Database.DataDir, database.DatabaseFileName)
	db, err := database.OpenConnection(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := metadata.EnsureTable(ctx, db); err != nil {
		t.Fatal(err)
	}
	if err := metadata.Set(ctx, db, metadata.LastMigrationVersion, 5); err != nil {
		t.Fatal(err)
	}
	db.Close()

	a := newTestApp(t, cfg)
	report, err := a.Startup(ctx, false)
	if err != nil {
		t.Fatalf("Startup() error = %v, want degraded start", err)
	}
	var merr *migrations.MigrationError
	if !errors.As(report.MigrationErr, &merr) || merr.Version != 6 {
		t.Fatalf("MigrationErr = %v, want failure of migration 6", report.MigrationErr)
	}
	if a.Degraded() == nil {
		t.Error("Degraded() = nil")
	}
	if err := a.SchemaStatus(ctx); err == nil {
		t.Error("SchemaStatus() = nil for a partially migrated database")
	}
}

func TestApp_ScheduledBackupOnStartup(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Backup.ScheduledMode = "both"

	settings, err := config.LoadSettings(cfg.Backup.SettingsPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := settings.Update(func(s *config.Settings) { s.Schedule = "weekly" }); err != nil {
		t.Fatal(err)
	}

	a := newTestApp(t, cfg)
	report, err := a.Startup(ctx, true)
	if err != nil {
		t.Fatalf("Startup() error = %v", err)
	}
	if report.ScheduledBackup == nil {
		t.Fatal("no scheduled backup ran")
	}
	if report.ScheduledBackup.Cloud == nil {
		t.Error("scheduled backup in both mode was not uploaded")
	}
	if !strings.HasPrefix(report.ScheduledBackup.LocalPath, cfg.Backup.LocalDir) {
		t.Errorf("LocalPath = %q, want inside %q", report.ScheduledBackup.LocalPath, cfg.Backup.LocalDir)
	}
	if got := a.Settings().LastBackupAt; got.IsZero() {
		t.Error("LastBackupAt not persisted")
	}
	cloud, err := a.CloudBackups(ctx, 0)
	if err != nil || len(cloud) != 1 {
		t.Errorf("CloudBackups() = %d files, %v", len(cloud), err)
	}
}

func TestApp_BackupVerifyRestore(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t))
	if _, err := a.Startup(ctx, false); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Ana", "Ben"} {
		if _, err := a.AddPatient(ctx, name, "Lee"); err != nil {
			t.Fatal(err)
		}
	}

	res, err := a.Backup(ctx, clinic.BackupOptions{Mode: clinic.ModeLocal, Password: "correct-horse"})
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	if _, err := a.Verify(ctx, res.LocalPath, ""); !errors.Is(err, clinic.ErrPasswordRequired) {
		t.Errorf("Verify() without password error = %v", err)
	}
	if _, err := a.Verify(ctx, res.LocalPath, "wrong"); !errors.Is(err, clinic.ErrDecryptionFailed) {
		t.Errorf("Verify() wrong password error = %v", err)
	}
	enc, err := a.Verify(ctx, res.LocalPath, "correct-horse")
	if err != nil || !enc {
		t.Fatalf("Verify() = %v, %v", enc, err)
	}

	if _, err := a.AddPatient(ctx, "Cleo", "Lee"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.RestoreLocal(ctx, res.LocalPath, clinic.RestoreOptions{Password: "correct-horse"}); err != nil {
		t.Fatalf("RestoreLocal() error = %v", err)
	}
	if n, err := a.PatientCount(ctx); err != nil || n != 2 {
		t.Errorf("PatientCount() = %d, %v; want 2", n, err)
	}

	local, err := a.LocalBackups()
	if err != nil || len(local) != 1 || !local[0].Encrypted {
		t.Errorf("LocalBackups() = %+v, %v", local, err)
	}
}

func TestApp_ReadOnly(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t))
	if _, err := a.Startup(ctx, false); err != nil {
		t.Fatal(err)
	}

	if err := a.SetReadOnly(ctx, true); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddPatient(ctx, "Ana", "Lee"); !errors.Is(err, database.ErrReadOnly) {
		t.Fatalf("AddPatient() error = %v, want ErrReadOnly", err)
	}
	if err := a.SetReadOnly(ctx, false); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddPatient(ctx, "Ana", "Lee"); err != nil {
		t.Fatalf("AddPatient() error = %v", err)
	}
}

func TestApp_CloseLogsOutcome(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewApp(context.Background(), cfg, "backup", "--mode local", Options{})
	if err != nil {
		t.Fatal(err)
	}
	a.Finish(errors.New("cloud storage is not authenticated"))
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "clinicdesk.log"))
	if err != nil {
		t.Fatal(err)
	}
	log := string(data)
	if !strings.Contains(log, "operation started\tcommand=backup\tparams=--mode local") {
		t.Errorf("missing start line in %q", log)
	}
	if !strings.Contains(log, "ERROR") || !strings.Contains(log, "status=error") {
		t.Errorf("missing failed outcome in %q", log)
	}
}
