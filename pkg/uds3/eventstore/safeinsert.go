package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// tableColumns introspects table via PRAGMA table_info, the sqlite
// equivalent of the column introspection §4.4.6 step 1 asks for.
func tableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("introspect columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan column info for %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// catchAllColumn names the JSON-blob column checked for when a field
// has no matching table column, per §4.4.6 step 2.
const catchAllColumn = "extra"

// opaqueDataColumn names the single-column fallback table shape of
// §4.4.6 step 3: a table exposing only an id plus this column.
const opaqueDataColumn = "data"

// safeInsert projects row onto table's actual columns and executes a
// parameterized INSERT, implementing §4.4.6 in full:
//  1. introspect columns
//  2. project matching fields directly; unmatched fields go into the
//     catch-all JSON column if the table has one, otherwise are dropped
//  3. if the table exposes only an opaque data column (plus any key
//     columns), the whole row is serialized as JSON into it
//
// idColumn names the primary key column whose value (already present in
// row, or generated by the caller) is returned.
func safeInsert(ctx context.Context, db *sql.DB, table string, row map[string]any, idColumn string) (string, error) {
	cols, err := tableColumns(ctx, db, table)
	if err != nil {
		return "", err
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("safe insert: table %s has no columns", table)
	}

	colSet := make(map[string]bool, len(cols))
	for _, c := range cols {
		colSet[c] = true
	}

	// Opaque-table fallback: only the id column and the data column
	// exist (order-independent).
	if len(cols) <= 2 && colSet[idColumn] && colSet[opaqueDataColumn] {
		blob, err := json.Marshal(row)
		if err != nil {
			return "", fmt.Errorf("safe insert: marshal opaque row: %w", err)
		}
		if err := execInsert(ctx, db, table, map[string]any{
			idColumn:         row[idColumn],
			opaqueDataColumn: string(blob),
		}); err != nil {
			return "", err
		}
		return fmt.Sprintf("%v", row[idColumn]), nil
	}

	projected := make(map[string]any, len(row))
	overflow := make(map[string]any)
	for field, value := range row {
		if colSet[field] {
			projected[field] = value
		} else {
			overflow[field] = value
		}
	}

	if len(overflow) > 0 {
		if colSet[catchAllColumn] {
			blob, err := json.Marshal(overflow)
			if err != nil {
				return "", fmt.Errorf("safe insert: marshal overflow fields: %w", err)
			}
			projected[catchAllColumn] = string(blob)
		}
		// else: fields with no home are dropped, per §4.4.6 step 2.
	}

	if err := execInsert(ctx, db, table, projected); err != nil {
		return "", err
	}
	return fmt.Sprintf("%v", row[idColumn]), nil
}

// execInsert builds and runs a parameterized INSERT over cols, in
// deterministic column order so generated SQL is stable across calls
// (helps log/debug readability, not correctness).
func execInsert(ctx context.Context, db *sql.DB, table string, cols map[string]any) error {
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	placeholders := make([]string, len(names))
	values := make([]any, len(names))
	for i, name := range names {
		placeholders[i] = "?"
		values[i] = cols[name]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.Join(placeholders, ", "))

	_, err := db.ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("safe insert into %s: %w", table, err)
	}
	return nil
}
