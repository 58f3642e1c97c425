package vault

import (
	"context"
	"fmt"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/config"
)

// NewVaultFromConfig creates a RemoteStore based on the vault config type.
// An empty type means cloud backups are disabled and returns nil.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig) (clinic.RemoteStore, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "memory":
		return NewMemoryVault(cfg.Name, nil), nil
	case "s3":
		v, err := NewS3Vault(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		v, err := NewFileSystemVault(cfg.Name, cfg.FSVaultRoot)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
