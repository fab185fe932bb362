// Package dbadapter defines the narrow database-adapter interface
// spec.md §6 requires the core to depend on, plus a DuckDB-backed
// implementation. DuckDB plays the role of "the user's analytical
// database" here the same way it plays the role of the OTLP store in the
// teacher this package is grounded on.
package dbadapter

import "context"

// Row is a single result row, column name to value.
type Row map[string]any

// Adapter is the narrow database interface the engine depends on (§6).
// A concrete adapter for a different backend (ClickHouse, Postgres, …)
// satisfies the same interface; only the DuckDB adapter is implemented in
// this repository, since the concrete drivers for the others are called
// out as external collaborators in spec.md §1.
type Adapter interface {
	// Execute runs a parameterized query and returns its result rows.
	Execute(ctx context.Context, query string, params []any) ([]Row, error)

	// ExecuteUpdate runs a parameterized UPDATE/INSERT/DELETE statement
	// and reports how many rows it touched. Callers that need a
	// compare-and-swap — e.g. an UPDATE guarded by a WHERE clause that
	// only matches when a lock is free — use the affected-row count to
	// tell "my write applied" from "nothing matched" without a second
	// round trip that would reopen the race it exists to close.
	ExecuteUpdate(ctx context.Context, query string, params []any) (int64, error)

	// ExecuteDDL runs a single DDL statement (CREATE TABLE, CREATE INDEX, …).
	ExecuteDDL(ctx context.Context, statement string) error

	// Insert appends rows to table without deduplication semantics.
	Insert(ctx context.Context, table string, rows []Row) error

	// Delete removes rows from table matching a WHERE clause fragment
	// (caller-supplied, parameterized).
	Delete(ctx context.Context, table, where string, params []any) error

	// Upsert writes rows to table, deduplicating by uniqueKeys. Backends
	// whose storage engine deduplicates natively (e.g. an appendable
	// columnar table compacted by primary key) may implement this as a
	// plain insert; backends that don't must implement it as an explicit
	// delete-then-insert, as spec.md §4.2 requires.
	Upsert(ctx context.Context, table string, uniqueKeys []string, rows []Row) error

	// Close releases the underlying connection.
	Close() error
}
