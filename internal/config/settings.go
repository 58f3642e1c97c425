package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Settings are the user-editable backup preferences. They live in their
// own file so they survive a database restore.
type Settings struct {
	LocalBackupPath string    `toml:"local_backup_path"`
	Schedule        string    `toml:"schedule"` // "off", "daily", "weekly" or "monthly"
	LastBackupAt    time.Time `toml:"last_backup_at"`
}

// SettingsFile is a Settings value persisted to a TOML file.
type SettingsFile struct {
	path string

	mu sync.Mutex
	s  Settings
}

// LoadSettings reads the settings file at path. A missing file yields
// empty settings, written on the first change.
func LoadSettings(path string) (*SettingsFile, error) {
	sf := &SettingsFile{path: path, s: Settings{Schedule: "off"}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return sf, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open settings file: %w", err)
	}
	if _, err := toml.Decode(string(data), &sf.s); err != nil {
		return nil, fmt.Errorf("reading settings from %s: %w", path, err)
	}
	return sf, nil
}

// Snapshot returns a copy of the current settings.
func (f *SettingsFile) Snapshot() Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *SettingsFile) LocalBackupPath() string { return f.Snapshot().LocalBackupPath }

func (f *SettingsFile) ScheduleFrequency() string { return f.Snapshot().Schedule }

func (f *SettingsFile) LastBackupAt() time.Time { return f.Snapshot().LastBackupAt }

// SetLastBackupAt records the time of the last successful backup.
func (f *SettingsFile) SetLastBackupAt(t time.Time) error {
	return f.Update(func(s *Settings) { s.LastBackupAt = t.UTC() })
}

// Update applies fn to the settings and saves the result.
func (f *SettingsFile) Update(fn func(*Settings)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.s
	fn(&next)
	if err := f.save(next); err != nil {
		return err
	}
	f.s = next
	return nil
}

func (f *SettingsFile) save(s Settings) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".settings-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(s); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("writing settings to %s: %w", f.path, err)
	}
	return nil
}
