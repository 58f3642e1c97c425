package database

import (
	"fmt"
	"path/filepath"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/config"
	"clinicdesk/internal/database/migrations"
)

// DatabaseFileName is the file name of the live database inside data_dir.
const DatabaseFileName = "clinic.db"

// NewManagerFromConfig creates a Manager based on the database config type.
// The manager is returned closed.
func NewManagerFromConfig(cfg config.DatabaseConfig, logger clinic.Logger, clock clinic.Clock) (*Manager, error) {
	runner, err := migrations.NewRunner(logger, clock)
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewManager(filepath.Join(cfg.DataDir, DatabaseFileName), runner, logger), nil
	case "memory":
		return NewManager(MemoryPath, runner, logger), nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
