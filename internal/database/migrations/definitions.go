package migrations

// definitions holds the Go-coded steps of each migration. Versions that
// only have an embedded SQL file need no entry here; steps listed here run
// after the file's SQL.
var definitions = []Migration{
	{Version: 1, Name: "core_tables"},
	{Version: 2, Name: "clinics"},
	{Version: 3, Name: "lab_orders_expenses"},
	{Version: 4, Name: "stock"},
	{Version: 5, Name: "licenses"},
	{
		Version: 6,
		Name:    "patients_v2",
		Steps: []Step{ShadowSwap{
			Table: "patients",
			Create: `    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    clinic_id     INTEGER NOT NULL DEFAULT 1 REFERENCES clinics(id),
    first_name    TEXT NOT NULL,
    last_name     TEXT NOT NULL DEFAULT '',
    phone         TEXT,
    email         TEXT,
    date_of_birth TEXT,
    notes         TEXT,
    created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    updated_at    TEXT`,
			Columns: "id, clinic_id, first_name, last_name, phone, email, date_of_birth, notes, created_at",
			Copy: `SELECT id, 1,
    CASE WHEN instr(trim(name), ' ') > 0
         THEN substr(trim(name), 1, instr(trim(name), ' ') - 1)
         ELSE trim(name) END,
    CASE WHEN instr(trim(name), ' ') > 0
         THEN trim(substr(trim(name), instr(trim(name), ' ') + 1))
         ELSE '' END,
    phone, email, date_of_birth, notes, created_at
FROM patients`,
			Indexes: []string{
				"CREATE INDEX IF NOT EXISTS idx_patients_v2_name ON patients(last_name, first_name)",
				"CREATE INDEX IF NOT EXISTS idx_patients_v2_clinic ON patients(clinic_id)",
			},
			Marker: "first_name",
		}},
	},
	{
		Version: 7,
		Name:    "invoices_v2",
		Steps: []Step{ShadowSwap{
			Table: "invoices",
			Create: `    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    patient_id        INTEGER NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
    treatment_case_id INTEGER REFERENCES treatment_cases(id) ON DELETE SET NULL,
    amount_cents      INTEGER NOT NULL DEFAULT 0,
    paid_cents        INTEGER NOT NULL DEFAULT 0,
    status            TEXT NOT NULL DEFAULT 'unpaid',
    issued_at         TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    notes             TEXT`,
			Columns: "id, patient_id, treatment_case_id, amount_cents, paid_cents, status, issued_at, notes",
			Copy: `SELECT id, patient_id, treatment_case_id,
    CAST(ROUND(amount * 100) AS INTEGER),
    CAST(ROUND(paid * 100) AS INTEGER),
    CASE WHEN amount > 0 AND paid >= amount THEN 'paid'
         WHEN paid > 0 THEN 'partial'
         ELSE 'unpaid' END,
    issued_at, notes
FROM invoices`,
			Indexes: []string{
				"CREATE INDEX IF NOT EXISTS idx_invoices_v2_patient ON invoices(patient_id)",
				"CREATE INDEX IF NOT EXISTS idx_invoices_v2_status ON invoices(status)",
			},
			Marker: "amount_cents",
		}},
	},
	{
		Version: 8,
		Name:    "appointment_status",
		Steps: []Step{AddColumn{
			Table:      "appointments",
			Column:     "status",
			Definition: "TEXT NOT NULL DEFAULT 'scheduled'",
			Backfill:   "UPDATE appointments SET status = 'completed' WHERE starts_at < strftime('%Y-%m-%dT%H:%M:%SZ', 'now')",
		}},
	},
	{
		Version: 9,
		Name:    "normalize_metadata_keys",
		Steps: []Step{
			RenameMetadataKeys{
				"currentUserId":    "current_user_id",
				"rememberedUserId": "remembered_user_id",
				"lastAppUsageAt":   "last_app_usage_at",
				"ownerEmail":       "owner_email",
				"licenseStatus":    "license_status",
			},
			AddColumn{Table: "users", Column: "last_login_at", Definition: "TEXT"},
		},
	},
}
