package database

import (
	"context"
	"database/sql"
	"fmt"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/metadata"
)

// ErrSanitize is the clinic sentinel, re-exported for callers of SanitizeFile.
var ErrSanitize = clinic.ErrSanitize

const licensesTable = "licenses"

// LicenseKeeper scrubs the license namespace from snapshot files and
// carries it across a restore of the live database.
type LicenseKeeper struct {
	db     *Manager
	logger clinic.Logger
}

// NewLicenseKeeper returns a keeper bound to the live database.
func NewLicenseKeeper(db *Manager, logger clinic.Logger) *LicenseKeeper {
	return &LicenseKeeper{db: db, logger: logger}
}

// SanitizeFile removes every license record from the database at path:
// the license namespace of the metadata store and all rows of the
// licenses table. Missing tables are not an error.
func (k *LicenseKeeper) SanitizeFile(ctx context.Context, path string) error {
	return SanitizeFile(ctx, path)
}

// SanitizeFile is LicenseKeeper.SanitizeFile without a keeper.
func SanitizeFile(ctx context.Context, path string) error {
	db, err := openFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSanitize, err)
	}
	defer db.Close()

	if err := sanitize(ctx, db); err != nil {
		return fmt.Errorf("%w: %v", ErrSanitize, err)
	}
	return nil
}

func sanitize(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := scrub(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// SanitizeLive removes every license record from the open live database.
// A restore runs it after migrating, since migrations can move legacy
// entries into the license namespace.
func (k *LicenseKeeper) SanitizeLive(ctx context.Context) error {
	err := k.db.WithTx(ctx, func(tx *sql.Tx) error {
		return scrub(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSanitize, err)
	}
	return nil
}

func scrub(ctx context.Context, tx *sql.Tx) error {
	hasSettings, err := tableExists(ctx, tx, metadata.Table)
	if err != nil {
		return err
	}
	if hasSettings {
		if _, err := metadata.DeleteMatching(ctx, tx, metadata.InLicenseNamespace); err != nil {
			return err
		}
	}

	hasLicenses, err := tableExists(ctx, tx, licensesTable)
	if err != nil {
		return err
	}
	if hasLicenses {
		if _, err := tx.ExecContext(ctx, "DELETE FROM licenses"); err != nil {
			return fmt.Errorf("clearing licenses: %w", err)
		}
	}
	return nil
}

// CaptureLicense reads the license namespace of the live database.
func (k *LicenseKeeper) CaptureLicense(ctx context.Context) (*clinic.LicenseSnapshot, error) {
	var snap *clinic.LicenseSnapshot
	err := k.db.WithConnection(ctx, func(db *sql.DB) error {
		var err error
		snap, err = capture(ctx, db)
		return err
	})
	if err != nil {
		return nil, err
	}
	k.logger.Debug("license captured", "entries", len(snap.Entries), "activations", len(snap.Activations))
	return snap, nil
}

func capture(ctx context.Context, q metadata.Querier) (*clinic.LicenseSnapshot, error) {
	snap := &clinic.LicenseSnapshot{}

	hasSettings, err := tableExists(ctx, q, metadata.Table)
	if err != nil {
		return nil, err
	}
	if hasSettings {
		snap.Entries, err = metadata.List(ctx, q, metadata.InLicenseNamespace)
		if err != nil {
			return nil, err
		}
	}

	hasLicenses, err := tableExists(ctx, q, licensesTable)
	if err != nil {
		return nil, err
	}
	if !hasLicenses {
		return snap, nil
	}
	rows, err := q.QueryContext(ctx, `SELECT license_key_masked, device_fingerprint, activated_at,
		COALESCE(expires_at, ''), COALESCE(payload, '') FROM licenses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("reading licenses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a clinic.Activation
		if err := rows.Scan(&a.LicenseKeyMasked, &a.DeviceFingerprint, &a.ActivatedAt, &a.ExpiresAt, &a.Payload); err != nil {
			return nil, fmt.Errorf("reading license: %w", err)
		}
		snap.Activations = append(snap.Activations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading licenses: %w", err)
	}
	return snap, nil
}

// RestoreLicense writes a captured snapshot into the live database in one
// transaction.
func (k *LicenseKeeper) RestoreLicense(ctx context.Context, snap *clinic.LicenseSnapshot) error {
	if snap.Empty() {
		return nil
	}
	err := k.db.WithTx(ctx, func(tx *sql.Tx) error {
		return reinject(ctx, tx, snap)
	})
	if err != nil {
		return err
	}
	k.logger.Info("license restored", "entries", len(snap.Entries), "activations", len(snap.Activations))
	return nil
}

// RestoreLicenseFile writes a captured snapshot into the database at path.
func (k *LicenseKeeper) RestoreLicenseFile(ctx context.Context, path string, snap *clinic.LicenseSnapshot) error {
	if snap.Empty() {
		return nil
	}
	db, err := openFile(path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()
	if err := reinject(ctx, tx, snap); err != nil {
		return err
	}
	return tx.Commit()
}

func reinject(ctx context.Context, tx *sql.Tx, snap *clinic.LicenseSnapshot) error {
	if len(snap.Entries) > 0 {
		if err := metadata.EnsureTable(ctx, tx); err != nil {
			return err
		}
		if err := metadata.Put(ctx, tx, snap.Entries); err != nil {
			return err
		}
	}
	if len(snap.Activations) == 0 {
		return nil
	}
	hasLicenses, err := tableExists(ctx, tx, licensesTable)
	if err != nil {
		return err
	}
	if !hasLicenses {
		return fmt.Errorf("restored database has no licenses table")
	}
	for _, a := range snap.Activations {
		_, err := tx.ExecContext(ctx, `INSERT INTO licenses
			(license_key_masked, device_fingerprint, activated_at, expires_at, payload)
			VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
			a.LicenseKeyMasked, a.DeviceFingerprint, a.ActivatedAt, a.ExpiresAt, a.Payload)
		if err != nil {
			return fmt.Errorf("writing license: %w", err)
		}
	}
	return nil
}

// Compile-time check that LicenseKeeper implements clinic.LicenseKeeper
var _ clinic.LicenseKeeper = (*LicenseKeeper)(nil)
