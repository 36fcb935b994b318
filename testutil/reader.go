// Package testutil provides fakes for the driver-side and ORM-side
// contracts so tests can exercise the cache without a database.
package testutil

import (
	"context"
	"sync"

	"github.com/dan-strohschein/stash/resultset"
)

// FakeRowReader is a scripted row reader. It plays back a fixed schema
// and row matrix, tracks Close calls and can inject a failure at a
// chosen row.
type FakeRowReader struct {
	Columns  []resultset.Column
	RowData  [][]interface{}
	Affected int64

	// FailAtRow, when >= 0, makes the Read that would return that row
	// index fail with FailErr.
	FailAtRow int
	FailErr   error

	// RichSchema controls whether the reader advertises the full column
	// schema; when false, callers fall back to the per-column accessors.
	RichSchema bool

	mu        sync.Mutex
	cursor    int
	closed    bool
	closeCnt  int
	readCalls int
}

// NewFakeRowReader creates a reader over the given schema and rows with
// records-affected unknown.
func NewFakeRowReader(columns []resultset.Column, rows [][]interface{}) *FakeRowReader {
	return &FakeRowReader{
		Columns:    columns,
		RowData:    rows,
		Affected:   -1,
		FailAtRow:  -1,
		RichSchema: true,
		cursor:     -1,
	}
}

// Read advances to the next scripted row.
func (r *FakeRowReader) Read(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.readCalls++

	next := r.cursor + 1
	if r.FailAtRow >= 0 && next == r.FailAtRow {
		return false, r.FailErr
	}

	if next >= len(r.RowData) {
		return false, nil
	}

	r.cursor = next
	return true, nil
}

// FieldCount returns the number of columns.
func (r *FakeRowReader) FieldCount() int { return len(r.Columns) }

// ColumnName returns the name of column i.
func (r *FakeRowReader) ColumnName(i int) string { return r.Columns[i].Name }

// DatabaseTypeName returns the driver type name of column i.
func (r *FakeRowReader) DatabaseTypeName(i int) string { return r.Columns[i].DatabaseTypeName }

// ElementType returns the scalar type of column i.
func (r *FakeRowReader) ElementType(i int) resultset.ElementType { return r.Columns[i].Type }

// ColumnSchema returns the full schema when RichSchema is enabled.
func (r *FakeRowReader) ColumnSchema() ([]resultset.Column, error) {
	if !r.RichSchema {
		return nil, nil
	}
	columns := make([]resultset.Column, len(r.Columns))
	copy(columns, r.Columns)
	return columns, nil
}

// IsNull reports whether the current cell is nil.
func (r *FakeRowReader) IsNull(i int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.RowData[r.cursor][i] == nil
}

// Value returns the current cell.
func (r *FakeRowReader) Value(i int) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.RowData[r.cursor][i]
}

// RecordsAffected returns the scripted affected count.
func (r *FakeRowReader) RecordsAffected() int64 { return r.Affected }

// Close marks the reader closed.
func (r *FakeRowReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.closeCnt++
	return nil
}

// Closed reports whether Close has been called at least once.
func (r *FakeRowReader) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// CloseCount returns how many times Close was called.
func (r *FakeRowReader) CloseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCnt
}

var _ resultset.RowReader = (*FakeRowReader)(nil)
