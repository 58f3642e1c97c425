package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Table is the name of the table holding metadata entries.
const Table = "settings"

const createTableSQL = `CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

const upsertSQL = `INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value,
	updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx, so the store can
// take part in whatever transaction the caller is running.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Entry is one raw stored entry.
type Entry struct {
	Key   string
	Value string
}

// EnsureTable creates the settings table if it does not exist.
func EnsureTable(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("creating settings table: %w", err)
	}
	return nil
}

// Get reads a typed entry. The boolean is false when the entry is absent.
func Get[T any](ctx context.Context, q Querier, k Key[T]) (T, bool, error) {
	var zero T
	raw, ok, err := GetRaw(ctx, q, k.name)
	if err != nil || !ok {
		return zero, ok, err
	}
	v, err := k.codec.Decode(raw)
	if err != nil {
		return zero, true, fmt.Errorf("reading %s: %w", k.name, err)
	}
	return v, true, nil
}

// GetOr reads a typed entry, returning def when it is absent.
func GetOr[T any](ctx context.Context, q Querier, k Key[T], def T) (T, error) {
	v, ok, err := Get(ctx, q, k)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// Set writes a typed entry, replacing any previous value.
func Set[T any](ctx context.Context, q Querier, k Key[T], v T) error {
	raw, err := k.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", k.name, err)
	}
	if _, err := q.ExecContext(ctx, upsertSQL, k.name, raw); err != nil {
		return fmt.Errorf("writing %s: %w", k.name, err)
	}
	return nil
}

// Delete removes a typed entry. Deleting an absent entry is not an error.
func Delete[T any](ctx context.Context, q Querier, k Key[T]) error {
	return DeleteRaw(ctx, q, k.name)
}

// GetRaw reads an entry by name without decoding it.
func GetRaw(ctx context.Context, q Querier, name string) (string, bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", name, err)
	}
	return raw, true, nil
}

// DeleteRaw removes an entry by name.
func DeleteRaw(ctx context.Context, q Querier, name string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", name); err != nil {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

// List returns all entries whose name satisfies match, ordered by name.
// A nil match returns every entry.
func List(ctx context.Context, q Querier, match func(name string) bool) ([]Entry, error) {
	rows, err := q.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		if match == nil || match(e.Key) {
			entries = append(entries, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	return entries, nil
}

// Put writes raw entries as captured by List. It is used to move entries
// between databases without interpreting them.
func Put(ctx context.Context, q Querier, entries []Entry) error {
	for _, e := range entries {
		if _, err := q.ExecContext(ctx, upsertSQL, e.Key, e.Value); err != nil {
			return fmt.Errorf("writing %s: %w", e.Key, err)
		}
	}
	return nil
}

// DeleteMatching removes every entry whose name satisfies match and
// returns the number of removed entries.
func DeleteMatching(ctx context.Context, q Querier, match func(name string) bool) (int, error) {
	entries, err := List(ctx, q, match)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := DeleteRaw(ctx, q, e.Key); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}
