package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"clinicdesk/internal/metadata"
)

// Patient is one row of the patients table.
type Patient struct {
	ID          int64
	ClinicID    int64
	FirstName   string
	LastName    string
	Phone       string
	Email       string
	DateOfBirth string
	Notes       string
	CreatedAt   string
}

// patientColumns are the columns Update may change.
var patientColumns = map[string]bool{
	"clinic_id":     true,
	"first_name":    true,
	"last_name":     true,
	"phone":         true,
	"email":         true,
	"date_of_birth": true,
	"notes":         true,
}

// PatientStore reads and writes patients of the live database.
type PatientStore struct {
	db *Manager
}

// NewPatientStore returns a store over the live database.
func NewPatientStore(db *Manager) *PatientStore {
	return &PatientStore{db: db}
}

func checkWritable(ctx context.Context, q metadata.Querier) error {
	ro, err := metadata.GetOr(ctx, q, metadata.ReadOnly, false)
	if err != nil {
		return err
	}
	if ro {
		return ErrReadOnly
	}
	return nil
}

// Create inserts a patient and returns its ID. A zero ClinicID uses the
// default clinic.
func (s *PatientStore) Create(ctx context.Context, p *Patient) (int64, error) {
	if strings.TrimSpace(p.FirstName) == "" {
		return 0, errors.New("patient first name is required")
	}
	clinicID := p.ClinicID
	if clinicID == 0 {
		clinicID = 1
	}
	var id int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := checkWritable(ctx, tx); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO patients
			(clinic_id, first_name, last_name, phone, email, date_of_birth, notes)
			VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''))`,
			clinicID, p.FirstName, p.LastName, p.Phone, p.Email, p.DateOfBirth, p.Notes)
		if err != nil {
			return fmt.Errorf("inserting patient: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns the patient with the given ID, or nil when there is none.
func (s *PatientStore) Get(ctx context.Context, id int64) (*Patient, error) {
	var p *Patient
	err := s.db.WithConnection(ctx, func(db *sql.DB) error {
		var row Patient
		err := db.QueryRowContext(ctx, `SELECT id, clinic_id, first_name, last_name,
			COALESCE(phone, ''), COALESCE(email, ''), COALESCE(date_of_birth, ''),
			COALESCE(notes, ''), created_at
			FROM patients WHERE id = ?`, id).Scan(
			&row.ID, &row.ClinicID, &row.FirstName, &row.LastName,
			&row.Phone, &row.Email, &row.DateOfBirth, &row.Notes, &row.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("finding patient %d: %w", id, err)
		}
		p = &row
		return nil
	})
	return p, err
}

// Update changes the given columns of one patient. Column names outside
// the patient whitelist are rejected before any SQL is built.
func (s *PatientStore) Update(ctx context.Context, id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !patientColumns[col] {
			return fmt.Errorf("unknown patient field %q", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		sets = append(sets, col+" = ?")
		args = append(args, fields[col])
	}
	sets = append(sets, "updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')")
	args = append(args, id)
	query := "UPDATE patients SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := checkWritable(ctx, tx); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("updating patient %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("patient %d not found", id)
		}
		return nil
	})
}

// Delete removes a patient and, through cascading foreign keys, their records.
func (s *PatientStore) Delete(ctx context.Context, id int64) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := checkWritable(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM patients WHERE id = ?", id); err != nil {
			return fmt.Errorf("deleting patient %d: %w", id, err)
		}
		return nil
	})
}

// Count returns the number of patients.
func (s *PatientStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.WithConnection(ctx, func(db *sql.DB) error {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patients").Scan(&n); err != nil {
			return fmt.Errorf("counting patients: %w", err)
		}
		return nil
	})
	return n, err
}
