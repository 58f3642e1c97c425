package database

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func snapshotOf(t *testing.T, m *Manager) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.db")
	if err := m.BackupTo(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckIntegrity(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	names := make([]string, 300)
	for i := range names {
		names[i] = "Patient" + string(rune('A'+i%26))
	}
	seedPatients(t, m, names...)
	good := snapshotOf(t, m)

	t.Run("valid database", func(t *testing.T) {
		before, _ := os.ReadFile(good)
		if !VerifyIntegrity(ctx, good) {
			t.Errorf("VerifyIntegrity() = false, reason: %v", CheckIntegrity(ctx, good))
		}
		after, _ := os.ReadFile(good)
		if !bytes.Equal(before, after) {
			t.Error("integrity check modified the file")
		}
	})

	t.Run("not a database", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "junk.db")
		os.WriteFile(path, []byte("this is definitely not sqlite, just some text"), 0644)
		if VerifyIntegrity(ctx, path) {
			t.Error("VerifyIntegrity() = true for text file")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.db")
		os.WriteFile(path, nil, 0644)
		if VerifyIntegrity(ctx, path) {
			t.Error("VerifyIntegrity() = true for empty file")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if VerifyIntegrity(ctx, filepath.Join(t.TempDir(), "nope.db")) {
			t.Error("VerifyIntegrity() = true for missing file")
		}
	})

	t.Run("damaged pages", func(t *testing.T) {
		data, err := os.ReadFile(good)
		if err != nil {
			t.Fatal(err)
		}
		if len(data) < 3*4096 {
			t.Skipf("snapshot too small to damage: %d bytes", len(data))
		}
		damaged := append([]byte(nil), data...)
		for i := 4096; i < len(damaged)-4096; i++ {
			damaged[i] = 0xA5
		}
		path := filepath.Join(t.TempDir(), "damaged.db")
		os.WriteFile(path, damaged, 0644)
		if VerifyIntegrity(ctx, path) {
			t.Error("VerifyIntegrity() = true for damaged file")
		}
	})
}

func TestInspector_ReadOwnerEmail(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	empty := snapshotOf(t, m)
	email, err := Inspector{}.ReadOwnerEmail(ctx, empty)
	if err != nil || email != "" {
		t.Errorf("ReadOwnerEmail(no owner) = %q, %v; want \"\", nil", email, err)
	}

	seedLicense(t, m)
	owned := snapshotOf(t, m)
	email, err = Inspector{}.ReadOwnerEmail(ctx, owned)
	if err != nil || email != "owner@clinic.test" {
		t.Errorf("ReadOwnerEmail() = %q, %v; want owner@clinic.test", email, err)
	}
}

func TestHasSQLiteHeader(t *testing.T) {
	dir := t.TempDir()
	short := filepath.Join(dir, "short")
	os.WriteFile(short, []byte("SQLite"), 0644)
	if ok, err := HasSQLiteHeader(short); ok || err != nil {
		t.Errorf("HasSQLiteHeader(short) = %v, %v", ok, err)
	}
	real := filepath.Join(dir, "real")
	os.WriteFile(real, append([]byte("SQLite format 3\x00"), make([]byte, 100)...), 0644)
	if ok, err := HasSQLiteHeader(real); !ok || err != nil {
		t.Errorf("HasSQLiteHeader(real) = %v, %v", ok, err)
	}
}
