package testutil

import (
	"errors"
	"sync"
	"time"

	"clinicdesk/internal/config"
	"clinicdesk/internal/encryption"
	"clinicdesk/internal/vault"
)

// NewTestGate returns an age gate with a low scrypt work factor.
func NewTestGate() *encryption.AgeGate {
	return encryption.NewAgeGate(config.EncryptionConfig{Type: "age", WorkFactor: 10})
}

// NewTestVault creates a new authenticated in-memory vault.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault("test-vault", nil)
}

// StubSettings is an in-memory clinic.Settings.
type StubSettings struct {
	mu       sync.Mutex
	dir      string
	schedule string
	last     time.Time

	// FailSet makes SetLastBackupAt return an error.
	FailSet bool
}

func NewStubSettings(localDir, schedule string) *StubSettings {
	return &StubSettings{dir: localDir, schedule: schedule}
}

func (s *StubSettings) LocalBackupPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

func (s *StubSettings) ScheduleFrequency() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}

func (s *StubSettings) LastBackupAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *StubSettings) SetLastBackupAt(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSet {
		return errors.New("settings are read-only")
	}
	s.last = t
	return nil
}
