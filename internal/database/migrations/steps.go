package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Step is one unit of work inside a migration. All steps of a migration
// run in the same transaction.
type Step interface {
	Apply(ctx context.Context, tx *sql.Tx) error
	Describe() string
}

// Exec runs a block of SQL, usually the body of an embedded file.
type Exec struct {
	Label string
	SQL   string
}

func (s Exec) Apply(ctx context.Context, tx *sql.Tx) error {
	if strings.TrimSpace(s.SQL) == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, s.SQL); err != nil {
		return err
	}
	return nil
}

func (s Exec) Describe() string { return "exec " + s.Label }

// AddColumn adds a column unless the table already has it. Backfill, when
// set, runs only if the column was added.
type AddColumn struct {
	Table      string
	Column     string
	Definition string
	Backfill   string
}

func (s AddColumn) Apply(ctx context.Context, tx *sql.Tx) error {
	ok, err := columnExists(ctx, tx, s.Table, s.Column)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", s.Table, s.Column, s.Definition)
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	if s.Backfill != "" {
		if _, err := tx.ExecContext(ctx, s.Backfill); err != nil {
			return fmt.Errorf("backfilling %s.%s: %w", s.Table, s.Column, err)
		}
	}
	return nil
}

func (s AddColumn) Describe() string { return "add column " + s.Table + "." + s.Column }

// ShadowSwap restructures a table that cannot be altered in place. It
// builds <Table>_v2 with the new shape, copies the rows through Copy,
// renames the old table to <Table>_legacy and the new one to <Table>.
// The legacy table is kept. A table that already has Marker is left alone.
type ShadowSwap struct {
	Table string
	// Create is the column list of the new table.
	Create string
	// Columns lists the target columns filled by Copy.
	Columns string
	// Copy is a SELECT reading from Table and producing Columns.
	Copy    string
	Indexes []string
	Marker  string
}

func (s ShadowSwap) Apply(ctx context.Context, tx *sql.Tx) error {
	exists, err := tableExists(ctx, tx, s.Table)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("table %s does not exist", s.Table)
	}
	done, err := columnExists(ctx, tx, s.Table, s.Marker)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	shadow := s.Table + "_v2"
	legacy := s.Table + "_legacy"
	taken, err := tableExists(ctx, tx, legacy)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("cannot move %s aside: %s already exists", s.Table, legacy)
	}

	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", shadow),
		fmt.Sprintf("CREATE TABLE %s (\n%s\n)", shadow, s.Create),
		fmt.Sprintf("INSERT INTO %s (%s) %s", shadow, s.Columns, s.Copy),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", s.Table, legacy),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", shadow, s.Table),
	}
	stmts = append(stmts, s.Indexes...)
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func (s ShadowSwap) Describe() string { return "shadow swap " + s.Table }

// RenameMetadataKeys moves entries from old names to new names. When both
// names exist the new entry wins and the old one is dropped.
type RenameMetadataKeys map[string]string

func (s RenameMetadataKeys) Apply(ctx context.Context, tx *sql.Tx) error {
	olds := make([]string, 0, len(s))
	for old := range s {
		olds = append(olds, old)
	}
	sort.Strings(olds)

	for _, old := range olds {
		renamed := s[old]
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM settings WHERE key = ?", renamed).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			if _, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", old); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, "UPDATE settings SET key = ? WHERE key = ?", renamed, old); err != nil {
			return err
		}
	}
	return nil
}

func (s RenameMetadataKeys) Describe() string { return "rename metadata keys" }

func tableExists(ctx context.Context, tx *sql.Tx, table string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return n > 0, nil
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
