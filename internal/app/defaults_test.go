package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("CLINICDESK_CONFIG_PATH", "/custom/clinicdesk.toml")
		t.Setenv("CLINICDESK_HOME", "/srv/clinic")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if d.ConfigPath != "/custom/clinicdesk.toml" {
			t.Errorf("ConfigPath = %q, want %q", d.ConfigPath, "/custom/clinicdesk.toml")
		}
		if d.BaseDir != "/srv/clinic" {
			t.Errorf("BaseDir = %q, want %q", d.BaseDir, "/srv/clinic")
		}
		if d.LogDir != "/srv/clinic/log" {
			t.Errorf("LogDir = %q, want %q", d.LogDir, "/srv/clinic/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("CLINICDESK_CONFIG_PATH", "")
		t.Setenv("CLINICDESK_HOME", "")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		if want := filepath.Join(homeDir, ".config", "clinicdesk.toml"); d.ConfigPath != want {
			t.Errorf("ConfigPath = %q, want %q", d.ConfigPath, want)
		}
		wantBase := filepath.Join(homeDir, ".local", "share", "clinicdesk")
		if d.BaseDir != wantBase {
			t.Errorf("BaseDir = %q, want %q", d.BaseDir, wantBase)
		}
		if want := filepath.Join(wantBase, "log"); d.LogDir != want {
			t.Errorf("LogDir = %q, want %q", d.LogDir, want)
		}
	})
}
