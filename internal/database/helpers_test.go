package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/database/migrations"
	"clinicdesk/internal/metadata"
)

// newTestManager returns an open, fully migrated database in a temp dir.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	runner, err := migrations.NewRunner(clinic.NewNopLogger(), clinic.RealClock{})
	if err != nil {
		t.Fatalf("loading migrations: %v", err)
	}
	m := NewManager(filepath.Join(t.TempDir(), "clinic.db"), runner, clinic.NewNopLogger())
	if err := m.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	if err := m.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return m
}

func seedPatients(t *testing.T, m *Manager, names ...string) []int64 {
	t.Helper()
	store := NewPatientStore(m)
	var ids []int64
	for _, name := range names {
		id, err := store.Create(context.Background(), &Patient{FirstName: name, LastName: "Test"})
		if err != nil {
			t.Fatalf("creating patient %s: %v", name, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func seedLicense(t *testing.T, m *Manager) {
	t.Helper()
	ctx := context.Background()
	err := m.WithTx(ctx, func(tx *sql.Tx) error {
		if err := metadata.Set(ctx, tx, metadata.LicenseCacheEncrypted, "cache-blob"); err != nil {
			return err
		}
		if err := metadata.Set(ctx, tx, metadata.DeviceFingerprint, "fp-1234"); err != nil {
			return err
		}
		if err := metadata.Set(ctx, tx, metadata.ActivationToken, "token-xyz"); err != nil {
			return err
		}
		if err := metadata.Set(ctx, tx, metadata.OwnerEmail, "owner@clinic.test"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO licenses (license_key_masked, device_fingerprint, payload)
			VALUES ('XXXX-1234', 'fp-1234', '{"plan":"pro"}')`)
		return err
	})
	if err != nil {
		t.Fatalf("seeding license: %v", err)
	}
}

func dump(t *testing.T, path string) string {
	t.Helper()
	out, err := DumpFile(context.Background(), path)
	if err != nil {
		t.Fatalf("DumpFile() error = %v", err)
	}
	return out
}
