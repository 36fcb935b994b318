package resultset

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// Reader replays a materialized result set through the same forward-only
// streaming contract the driver exposes. Every Reader owns its own
// cursor, so any number of readers can iterate the same result set
// concurrently without locks: the underlying rows are immutable.
type Reader struct {
	rs       *ResultSet
	cursor   int
	closed   bool
	ordinals map[string]int
}

var _ RowReader = (*Reader)(nil)

// NewReader creates a replay reader positioned before the first row.
func NewReader(rs *ResultSet) *Reader {
	ordinals := make(map[string]int, len(rs.Columns))
	for _, col := range rs.Columns {
		ordinals[strings.ToLower(col.Name)] = col.Ordinal
	}

	return &Reader{
		rs:       rs,
		cursor:   -1,
		ordinals: ordinals,
	}
}

// Read advances the cursor and reports whether a row is available.
func (r *Reader) Read(ctx context.Context) (bool, error) {
	if r.closed {
		return false, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if r.cursor+1 >= len(r.rs.Rows) {
		r.cursor = len(r.rs.Rows)
		return false, nil
	}

	r.cursor++
	return true, nil
}

// FieldCount returns the number of columns.
func (r *Reader) FieldCount() int {
	return len(r.rs.Columns)
}

// ColumnName returns the name of column i.
func (r *Reader) ColumnName(i int) string {
	return r.rs.Columns[i].Name
}

// DatabaseTypeName returns the driver type name of column i.
func (r *Reader) DatabaseTypeName(i int) string {
	return r.rs.Columns[i].DatabaseTypeName
}

// ElementType returns the canonical scalar type of column i.
func (r *Reader) ElementType(i int) ElementType {
	return r.rs.Columns[i].Type
}

// ColumnSchema returns the full column schema.
func (r *Reader) ColumnSchema() ([]Column, error) {
	columns := make([]Column, len(r.rs.Columns))
	copy(columns, r.rs.Columns)
	return columns, nil
}

// Ordinal returns the zero-based ordinal for a column name. The lookup
// is case-insensitive.
func (r *Reader) Ordinal(name string) (int, error) {
	i, ok := r.ordinals[strings.ToLower(name)]
	if !ok {
		return -1, fmt.Errorf("resultset: no column named %q", name)
	}
	return i, nil
}

// IsNull reports whether the current row's cell i is null.
func (r *Reader) IsNull(i int) bool {
	return r.currentRow()[i] == nil
}

// Value returns the current row's cell i, or nil for a null.
func (r *Reader) Value(i int) interface{} {
	return r.currentRow()[i]
}

// RecordsAffected returns the affected-row count, or -1 when unknown.
func (r *Reader) RecordsAffected() int64 {
	return r.rs.RecordsAffected
}

// HasRows reports whether the result set contains any rows.
func (r *Reader) HasRows() bool {
	return len(r.rs.Rows) > 0
}

// NextResultSet always reports false: cached results hold one row set.
func (r *Reader) NextResultSet() bool {
	return false
}

// Closed reports whether Close has been called.
func (r *Reader) Closed() bool {
	return r.closed
}

// Close releases the reader. Close is idempotent; the shared result set
// is untouched.
func (r *Reader) Close() error {
	r.closed = true
	return nil
}

// Bytes copies up to len(buf) bytes of a byte-array cell starting at
// offset into buf and returns the number of bytes copied. A nil buf
// returns the total length.
func (r *Reader) Bytes(i int, offset int64, buf []byte) (int64, error) {
	v := r.currentRow()[i]
	if v == nil {
		return 0, fmt.Errorf("resultset: cell %d is null", i)
	}

	data, ok := v.([]byte)
	if !ok {
		return 0, fmt.Errorf("resultset: cell %d holds %T, not a byte array", i, v)
	}

	return copyRange(len(data), offset, len(buf), func(n int) {
		copy(buf, data[offset:offset+int64(n)])
	})
}

// Chars copies up to len(buf) characters of a string cell starting at
// offset into buf and returns the number copied. A nil buf returns the
// total length.
func (r *Reader) Chars(i int, offset int64, buf []rune) (int64, error) {
	v := r.currentRow()[i]
	if v == nil {
		return 0, fmt.Errorf("resultset: cell %d is null", i)
	}

	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("resultset: cell %d holds %T, not a string", i, v)
	}

	chars := []rune(s)
	return copyRange(len(chars), offset, len(buf), func(n int) {
		copy(buf, chars[offset:offset+int64(n)])
	})
}

// copyRange validates an offset/length window and invokes cp with the
// clamped count.
func copyRange(total int, offset int64, bufLen int, cp func(n int)) (int64, error) {
	if bufLen == 0 {
		return int64(total), nil
	}
	if offset < 0 || offset > int64(total) {
		return 0, fmt.Errorf("resultset: offset %d out of range [0,%d]", offset, total)
	}

	n := total - int(offset)
	if n > bufLen {
		n = bufLen
	}
	cp(n)
	return int64(n), nil
}

// currentRow returns the row under the cursor. Accessing a cell before
// the first Read or after exhaustion panics the same way a driver cursor
// would.
func (r *Reader) currentRow() []interface{} {
	if r.cursor < 0 || r.cursor >= len(r.rs.Rows) {
		panic("resultset: no current row; call Read first")
	}
	return r.rs.Rows[r.cursor]
}

// FieldValue returns the current cell i as type T. The exact stored type
// is returned directly; numeric values convert when Go considers the
// types convertible. Null cells fail: there is no T that represents a
// database null.
func FieldValue[T any](r *Reader, i int) (T, error) {
	var zero T

	v := r.currentRow()[i]
	if v == nil {
		return zero, fmt.Errorf("resultset: cannot cast null to %T", zero)
	}

	if typed, ok := v.(T); ok {
		return typed, nil
	}

	rv := reflect.ValueOf(v)
	target := reflect.TypeOf(zero)
	if target != nil && rv.Type().ConvertibleTo(target) && isScalarKind(rv.Kind()) && isScalarKind(target.Kind()) {
		return rv.Convert(target).Interface().(T), nil
	}

	return zero, fmt.Errorf("resultset: cannot convert %T to %T", v, zero)
}

// isScalarKind limits conversions to numeric kinds so that, for example,
// an int64 cell never silently converts to a string.
func isScalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
