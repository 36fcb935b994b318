package resultset

import "context"

// RowReader is the forward-only streaming contract the cache consumes
// from the driver and exposes back to the ORM on replay. Read advances
// the cursor; the accessor methods address the current row.
type RowReader interface {
	// Read advances to the next row. It returns false when the reader is
	// exhausted. The context cancels a pending row fetch.
	Read(ctx context.Context) (bool, error)

	// FieldCount returns the number of columns.
	FieldCount() int

	// ColumnName returns the name of column i.
	ColumnName(i int) string

	// DatabaseTypeName returns the driver's type name for column i.
	DatabaseTypeName(i int) string

	// ElementType returns the canonical scalar type of column i, or the
	// empty string when the driver cannot tell.
	ElementType(i int) ElementType

	// IsNull reports whether the current row's cell i is a database null.
	IsNull(i int) bool

	// Value returns the current row's cell i, or nil for a null.
	Value(i int) interface{}

	// RecordsAffected returns the affected-row count, or -1 when unknown.
	RecordsAffected() int64

	// Close releases the reader. Close is idempotent.
	Close() error
}

// ColumnSchemaProvider is implemented by readers that can describe their
// columns up front, including nullability. Capture prefers it over the
// per-column accessors.
type ColumnSchemaProvider interface {
	ColumnSchema() ([]Column, error)
}
