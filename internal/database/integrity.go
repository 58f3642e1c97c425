package database

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/metadata"
)

var sqliteHeader = []byte("SQLite format 3\x00")

// HasSQLiteHeader reports whether the file at path starts with the SQLite
// magic string.
func HasSQLiteHeader(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, len(sqliteHeader))
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	return bytes.Equal(buf, sqliteHeader), nil
}

// openReadOnly opens path without the ability to write to it.
func openReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// CheckIntegrity returns nil when path is a structurally sound SQLite
// database, and an error naming the problem otherwise. The file is opened
// read-only and never modified.
func CheckIntegrity(ctx context.Context, path string) error {
	ok, err := HasSQLiteHeader(path)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("not a SQLite database")
	}

	db, err := openReadOnly(path)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("running integrity check: %w", err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return fmt.Errorf("reading integrity check: %w", err)
		}
		problems = append(problems, line)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("running integrity check: %w", err)
	}
	if len(problems) == 1 && problems[0] == "ok" {
		return nil
	}
	if len(problems) == 0 {
		return errors.New("integrity check returned no result")
	}
	return fmt.Errorf("integrity check failed: %s", strings.Join(problems, "; "))
}

// VerifyIntegrity reports whether path is a structurally sound SQLite database.
func VerifyIntegrity(ctx context.Context, path string) bool {
	return CheckIntegrity(ctx, path) == nil
}

// Inspector implements clinic.Inspector on database files.
type Inspector struct{}

func (Inspector) CheckIntegrity(ctx context.Context, path string) error {
	return CheckIntegrity(ctx, path)
}

// ReadOwnerEmail returns the owner_email entry of the database at path,
// or "" when the file has no settings table or no owner.
func (Inspector) ReadOwnerEmail(ctx context.Context, path string) (string, error) {
	db, err := openReadOnly(path)
	if err != nil {
		return "", err
	}
	defer db.Close()

	exists, err := tableExists(ctx, db, metadata.Table)
	if err != nil || !exists {
		return "", err
	}
	email, _, err := metadata.Get(ctx, db, metadata.OwnerEmail)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(email), nil
}

func tableExists(ctx context.Context, q metadata.Querier, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return n > 0, nil
}

// Compile-time check that Inspector implements clinic.Inspector
var _ clinic.Inspector = Inspector{}
