package app

import (
	"errors"
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	now := time.Date(2026, 4, 9, 7, 5, 3, 0, time.FixedZone("CET", 3600))
	op := NewOperation("restore", "local /mnt/usb/b.db", now)

	if op.ID != "20260409T060503Z" {
		t.Errorf("ID = %q, want %q", op.ID, "20260409T060503Z")
	}
	if op.Command != "restore" || op.Parameters != "local /mnt/usb/b.db" {
		t.Errorf("Command/Parameters = %q/%q", op.Command, op.Parameters)
	}
	if op.Finished() {
		t.Error("new operation reports finished")
	}
}

func TestOperation_Finish(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "success", err: nil, want: "success"},
		{name: "error", err: errors.New("boom"), want: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation("backup", "", time.Now())
			op.Finish(tt.err)
			if op.Status != tt.want {
				t.Errorf("Status = %q, want %q", op.Status, tt.want)
			}
			if !op.Finished() {
				t.Error("Finished() = false")
			}

			op.Finish(errors.New("later"))
			if op.Status != tt.want {
				t.Errorf("second Finish changed Status to %q", op.Status)
			}
		})
	}
}
