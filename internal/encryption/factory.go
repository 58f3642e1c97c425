package encryption

import (
	"fmt"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/config"
)

// NewGateFromConfig creates a CryptoGate based on the configuration type.
func NewGateFromConfig(cfg config.EncryptionConfig) (clinic.CryptoGate, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeGate(cfg), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
