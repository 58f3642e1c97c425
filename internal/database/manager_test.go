package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/database/migrations"
)

func TestManager_OpenClose(t *testing.T) {
	runner, err := migrations.NewRunner(clinic.NewNopLogger(), clinic.RealClock{})
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(filepath.Join(t.TempDir(), "sub", "clinic.db"), runner, clinic.NewNopLogger())
	ctx := context.Background()

	if m.IsOpen() {
		t.Fatal("new manager should be closed")
	}
	if _, err := m.DB(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("DB() on closed manager error = %v, want ErrNotOpen", err)
	}
	if err := m.WithTx(ctx, func(*sql.Tx) error { return nil }); !errors.Is(err, ErrNotOpen) {
		t.Errorf("WithTx() on closed manager error = %v, want ErrNotOpen", err)
	}

	if err := m.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := m.Open(); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	if !m.IsOpen() {
		t.Fatal("IsOpen() = false after Open")
	}

	err = m.WithConnection(ctx, func(db *sql.DB) error {
		var mode string
		if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
			return err
		}
		if mode != "wal" {
			t.Errorf("journal_mode = %s, want wal", mode)
		}
		var fk int
		if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
			return err
		}
		if fk != 1 {
			t.Errorf("foreign_keys = %d, want 1", fk)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if m.IsOpen() {
		t.Error("IsOpen() = true after Close")
	}
}

func TestManager_WithTxRollsBack(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO patients (first_name) VALUES ('Ghost')"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}
	n, err := NewPatientStore(m).Count(ctx)
	if err != nil || n != 0 {
		t.Errorf("Count() = %d, %v; want 0 after rollback", n, err)
	}
}

func TestManager_BackupTo(t *testing.T) {
	m := newTestManager(t)
	seedPatients(t, m, "Ada", "Grace")

	dest := filepath.Join(t.TempDir(), "snapshot.db")
	if err := m.BackupTo(context.Background(), dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}
	if err := CheckIntegrity(context.Background(), dest); err != nil {
		t.Fatalf("snapshot integrity: %v", err)
	}
	if !strings.Contains(dump(t, dest), "first_name=Grace") {
		t.Error("snapshot does not contain seeded patient")
	}

	if err := m.BackupTo(context.Background(), dest); err == nil {
		t.Error("BackupTo() over an existing file should fail")
	}
}

func TestManager_SchemaStatus(t *testing.T) {
	m := newTestManager(t)
	if err := m.SchemaStatus(context.Background()); err != nil {
		t.Errorf("SchemaStatus() after migration = %v", err)
	}
	if err := m.Checkpoint(context.Background()); err != nil {
		t.Errorf("Checkpoint() error = %v", err)
	}
}
