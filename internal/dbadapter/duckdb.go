package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

// DuckDB is an Adapter backed by an embedded DuckDB database, the same
// driver the teacher uses for its OTLP store.
type DuckDB struct {
	db *sql.DB
}

// OpenDuckDB opens (creating if needed) a DuckDB database at path. An
// empty path opens an in-memory database, matching the teacher's
// storage.New convention.
func OpenDuckDB(path string) (*DuckDB, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("dbadapter: opening duckdb: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbadapter: pinging duckdb: %w", err)
	}

	return &DuckDB{db: db}, nil
}

// DB exposes the underlying *sql.DB for callers that need to run raw
// queries outside the Adapter interface (e.g. the metric loader's
// user-supplied SQL against the data namespace).
func (d *DuckDB) DB() *sql.DB { return d.db }

func (d *DuckDB) Close() error { return d.db.Close() }

// Execute runs a parameterized query and materializes its rows as
// Row maps, the same scan pattern the teacher's /query endpoint uses.
func (d *DuckDB) Execute(ctx context.Context, query string, params []any) ([]Row, error) {
	rows, err := d.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("dbadapter: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("dbadapter: columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("dbadapter: scan: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dbadapter: rows: %w", err)
	}
	return out, nil
}

// ExecuteUpdate runs a parameterized mutating statement and returns its
// driver-reported affected-row count.
func (d *DuckDB) ExecuteUpdate(ctx context.Context, query string, params []any) (int64, error) {
	res, err := d.db.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, fmt.Errorf("dbadapter: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("dbadapter: rows affected: %w", err)
	}
	return n, nil
}

func (d *DuckDB) ExecuteDDL(ctx context.Context, statement string) error {
	if _, err := d.db.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("dbadapter: ddl: %w", err)
	}
	return nil
}

func (d *DuckDB) Insert(ctx context.Context, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	cols := sortedColumns(rows[0])

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbadapter: insert: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertStatement(table, cols))
	if err != nil {
		return fmt.Errorf("dbadapter: insert: prepare: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = row[c]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("dbadapter: insert: exec: %w", err)
		}
	}

	return tx.Commit()
}

func (d *DuckDB) Delete(ctx context.Context, table, where string, params []any) error {
	q := fmt.Sprintf("DELETE FROM %s", table)
	if where != "" {
		q += " WHERE " + where
	}
	if _, err := d.db.ExecContext(ctx, q, params...); err != nil {
		return fmt.Errorf("dbadapter: delete: %w", err)
	}
	return nil
}

// Upsert deletes any existing rows matching the unique-key tuples present
// in rows, then inserts rows, all inside one transaction — the explicit
// DELETE+INSERT strategy spec.md §4.2 calls for when the backend doesn't
// deduplicate natively.
func (d *DuckDB) Upsert(ctx context.Context, table string, uniqueKeys []string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	cols := sortedColumns(rows[0])

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbadapter: upsert: begin: %w", err)
	}
	defer tx.Rollback()

	delStmt, err := tx.PrepareContext(ctx, deleteByKeysStatement(table, uniqueKeys))
	if err != nil {
		return fmt.Errorf("dbadapter: upsert: prepare delete: %w", err)
	}
	defer delStmt.Close()

	for _, row := range rows {
		args := make([]any, len(uniqueKeys))
		for i, k := range uniqueKeys {
			args[i] = row[k]
		}
		if _, err := delStmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("dbadapter: upsert: delete: %w", err)
		}
	}

	insStmt, err := tx.PrepareContext(ctx, insertStatement(table, cols))
	if err != nil {
		return fmt.Errorf("dbadapter: upsert: prepare insert: %w", err)
	}
	defer insStmt.Close()

	for _, row := range rows {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = row[c]
		}
		if _, err := insStmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("dbadapter: upsert: insert: %w", err)
		}
	}

	return tx.Commit()
}

func sortedColumns(row Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func insertStatement(table string, cols []string) string {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
}

func deleteByKeysStatement(table string, uniqueKeys []string) string {
	conds := make([]string, len(uniqueKeys))
	for i, k := range uniqueKeys {
		conds[i] = k + " = ?"
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(conds, " AND "))
}
