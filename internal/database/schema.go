package database

import (
	"context"
	"fmt"
	"strings"

	"clinicdesk/internal/metadata"
)

// DumpSchema returns the CREATE statements of every table and index,
// excluding SQLite internals, tables first and then by name.
func DumpSchema(ctx context.Context, q metadata.Querier) (string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND name NOT LIKE 'sqlite_%'
		  AND sql IS NOT NULL
		ORDER BY
		  CASE type
		    WHEN 'table' THEN 1
		    WHEN 'index' THEN 2
		  END,
		  name
	`)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scan failed: %w", err)
		}
		b.WriteString(stmt)
		b.WriteString("\n\n")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("rows error: %w", err)
	}
	return b.String(), nil
}

// Dump returns the schema followed by every row of every table, in a
// stable textual form. Two databases with equal dumps hold the same data.
func Dump(ctx context.Context, q metadata.Querier) (string, error) {
	schema, err := DumpSchema(ctx, q)
	if err != nil {
		return "", err
	}

	tables, err := listTables(ctx, q)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(schema)
	for _, table := range tables {
		if err := dumpTable(ctx, q, table, &b); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func listTables(ctx context.Context, q metadata.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func dumpTable(ctx context.Context, q metadata.Querier, table string, b *strings.Builder) error {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s" ORDER BY rowid`, table))
	if err != nil {
		return fmt.Errorf("reading %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("reading %s: %w", table, err)
		}
		fmt.Fprintf(b, "%s:", table)
		for i, v := range values {
			if bs, ok := v.([]byte); ok {
				v = string(bs)
			}
			fmt.Fprintf(b, " %s=%v", cols[i], v)
		}
		b.WriteString("\n")
	}
	return rows.Err()
}

// DumpFile returns Dump of the database file at path.
func DumpFile(ctx context.Context, path string) (string, error) {
	db, err := openFile(path)
	if err != nil {
		return "", err
	}
	defer db.Close()
	return Dump(ctx, db)
}
