package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/database"
	"clinicdesk/internal/database/migrations"
	"clinicdesk/internal/metadata"
)

// OwnerEmail is the account seeded by SeedOwner.
const OwnerEmail = "dr.house@clinic.test"

// NewRunner returns the production migration runner with a nop logger.
func NewRunner(t *testing.T) *migrations.Runner {
	t.Helper()
	runner, err := migrations.NewRunner(clinic.NewNopLogger(), clinic.RealClock{})
	if err != nil {
		t.Fatalf("loading migrations: %v", err)
	}
	return runner
}

// NewTestManager creates an open, fully migrated database file in a temp
// directory. The database is closed when the test completes.
func NewTestManager(t *testing.T) *database.Manager {
	t.Helper()

	m := database.NewManager(filepath.Join(t.TempDir(), database.DatabaseFileName), NewRunner(t), clinic.NewNopLogger())
	if err := m.Open(); err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		m.Close()
	})
	if err := m.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return m
}

// SeedPatients inserts one patient per first name and returns their IDs.
func SeedPatients(t *testing.T, m *database.Manager, firstNames ...string) []int64 {
	t.Helper()
	store := database.NewPatientStore(m)
	ids := make([]int64, 0, len(firstNames))
	for _, name := range firstNames {
		id, err := store.Create(context.Background(), &database.Patient{FirstName: name, LastName: "Doe"})
		if err != nil {
			t.Fatalf("seeding patient %s: %v", name, err)
		}
		ids = append(ids, id)
	}
	return ids
}

// SeedOwner records the account email the database belongs to.
func SeedOwner(t *testing.T, m *database.Manager, email string) {
	t.Helper()
	ctx := context.Background()
	err := m.WithTx(ctx, func(tx *sql.Tx) error {
		return metadata.Set(ctx, tx, metadata.OwnerEmail, email)
	})
	if err != nil {
		t.Fatalf("seeding owner: %v", err)
	}
}

// SeedLicense activates a license on the database: namespace entries plus
// one licenses row, bound to fingerprint.
func SeedLicense(t *testing.T, m *database.Manager, fingerprint string) {
	t.Helper()
	ctx := context.Background()
	err := m.WithTx(ctx, func(tx *sql.Tx) error {
		if err := metadata.Set(ctx, tx, metadata.LicenseKeyMasked, "CDSK-****-"+fingerprint); err != nil {
			return err
		}
		if err := metadata.Set(ctx, tx, metadata.LicenseStatus, "active"); err != nil {
			return err
		}
		if err := metadata.Set(ctx, tx, metadata.DeviceFingerprint, fingerprint); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO licenses (license_key_masked, device_fingerprint, payload)
			VALUES (?, ?, '{"plan":"clinic"}')`, "CDSK-****-"+fingerprint, fingerprint)
		return err
	})
	if err != nil {
		t.Fatalf("seeding license: %v", err)
	}
}

// Fingerprint returns the device fingerprint stored in the live database.
func Fingerprint(t *testing.T, m *database.Manager) string {
	t.Helper()
	db, err := m.DB()
	if err != nil {
		t.Fatalf("database not open: %v", err)
	}
	fp, _, err := metadata.Get(context.Background(), db, metadata.DeviceFingerprint)
	if err != nil {
		t.Fatalf("reading fingerprint: %v", err)
	}
	return fp
}

// PatientCount returns the number of patients in the live database.
func PatientCount(t *testing.T, m *database.Manager) int {
	t.Helper()
	n, err := database.NewPatientStore(m).Count(context.Background())
	if err != nil {
		t.Fatalf("counting patients: %v", err)
	}
	return n
}

// DumpLive returns the textual dump of the live database.
func DumpLive(t *testing.T, m *database.Manager) string {
	t.Helper()
	db, err := m.DB()
	if err != nil {
		t.Fatalf("database not open: %v", err)
	}
	out, err := database.Dump(context.Background(), db)
	if err != nil {
		t.Fatalf("dumping database: %v", err)
	}
	return out
}

// DumpFile returns the textual dump of the database file at path.
func DumpFile(t *testing.T, path string) string {
	t.Helper()
	out, err := database.DumpFile(context.Background(), path)
	if err != nil {
		t.Fatalf("dumping %s: %v", path, err)
	}
	return out
}

// ExecFile runs statements against the database file at path, outside any
// Manager.
func ExecFile(t *testing.T, path string, stmts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer db.Close()
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q on %s: %v", stmt, path, err)
		}
	}
}

// MetadataValue returns the raw stored value of a metadata entry in the
// live database and whether it exists.
func MetadataValue(t *testing.T, m *database.Manager, name string) (string, bool) {
	t.Helper()
	db, err := m.DB()
	if err != nil {
		t.Fatalf("database not open: %v", err)
	}
	v, ok, err := metadata.GetRaw(context.Background(), db, name)
	if err != nil {
		t.Fatalf("reading %s: %v", name, err)
	}
	return v, ok
}
