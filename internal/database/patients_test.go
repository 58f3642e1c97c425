package database

import (
	"context"
	"errors"
	"testing"

	"clinicdesk/internal/metadata"
)

func TestPatientStore(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	store := NewPatientStore(m)

	id, err := store.Create(ctx, &Patient{FirstName: "Ada", LastName: "Lovelace", Phone: "555-0100"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	p, err := store.Get(ctx, id)
	if err != nil || p == nil {
		t.Fatalf("Get() = %v, %v", p, err)
	}
	if p.FirstName != "Ada" || p.LastName != "Lovelace" || p.Phone != "555-0100" || p.ClinicID != 1 {
		t.Errorf("Get() = %+v", p)
	}

	if err := store.Update(ctx, id, map[string]any{"email": "ada@example.com", "notes": "allergic to penicillin"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	p, _ = store.Get(ctx, id)
	if p.Email != "ada@example.com" || p.Notes != "allergic to penicillin" {
		t.Errorf("after Update: %+v", p)
	}

	if err := store.Update(ctx, id, map[string]any{"email = 'x', id": 5}); err == nil {
		t.Error("Update() accepted a column outside the whitelist")
	}
	if err := store.Update(ctx, 9999, map[string]any{"notes": "x"}); err == nil {
		t.Error("Update() of a missing patient should fail")
	}

	if n, err := store.Count(ctx); err != nil || n != 1 {
		t.Errorf("Count() = %d, %v; want 1", n, err)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if p, err := store.Get(ctx, id); err != nil || p != nil {
		t.Errorf("Get() after Delete = %v, %v; want nil, nil", p, err)
	}
}

func TestPatientStore_ReadOnly(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	store := NewPatientStore(m)
	id := seedPatients(t, m, "Grace")[0]

	db, _ := m.DB()
	if err := metadata.Set(ctx, db, metadata.ReadOnly, true); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Create(ctx, &Patient{FirstName: "Linus"}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Create() error = %v, want ErrReadOnly", err)
	}
	if err := store.Update(ctx, id, map[string]any{"notes": "x"}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Update() error = %v, want ErrReadOnly", err)
	}
	if err := store.Delete(ctx, id); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Delete() error = %v, want ErrReadOnly", err)
	}
	if n, err := store.Count(ctx); err != nil || n != 1 {
		t.Errorf("Count() in read-only mode = %d, %v; want 1", n, err)
	}
}

func TestPatientStore_RequiresFirstName(t *testing.T) {
	m := newTestManager(t)
	if _, err := NewPatientStore(m).Create(context.Background(), &Patient{LastName: "Nobody"}); err == nil {
		t.Error("Create() without first name should fail")
	}
}
