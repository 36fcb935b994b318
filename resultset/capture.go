package resultset

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
)

// RowLimitError reports a capture that exceeded its row limit. It carries
// the rows drained before the capture was abandoned so the caller can
// still replay them; the drained rows must never be cached.
type RowLimitError struct {
	Limit   int
	Drained *ResultSet
}

// Error implements the error interface.
func (e *RowLimitError) Error() string {
	return fmt.Sprintf("resultset: row limit %d exceeded", e.Limit)
}

// Is reports a match against ErrTooManyRows.
func (e *RowLimitError) Is(target error) bool {
	return target == ErrTooManyRows
}

// Capture drains a live row reader into an immutable ResultSet. The
// column schema is read first, preferring the reader's rich schema when
// available. Rows are streamed until the reader is exhausted or maxRows
// is exceeded; in the latter case Capture returns a *RowLimitError
// carrying the drained prefix instead of a partial result set. The reader
// is closed on every exit path.
func Capture(ctx context.Context, r RowReader, maxRows int, clk clock.Clock) (*ResultSet, error) {
	defer r.Close()

	if clk == nil {
		clk = clock.New()
	}

	columns, err := captureSchema(r)
	if err != nil {
		return nil, ErrCaptureSchema(err)
	}

	rows := make([][]interface{}, 0, 16)

	for {
		ok, err := r.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("resultset: reading row %d: %w", len(rows), err)
		}
		if !ok {
			break
		}

		if maxRows > 0 && len(rows) >= maxRows {
			// The row that tripped the limit has already been consumed
			// from the driver, so it belongs to the drained prefix.
			rows = append(rows, captureRow(r, columns))
			return nil, &RowLimitError{
				Limit:   maxRows,
				Drained: assemble(columns, rows, r.RecordsAffected(), clk),
			}
		}

		rows = append(rows, captureRow(r, columns))
	}

	return assemble(columns, rows, r.RecordsAffected(), clk), nil
}

// ErrCaptureSchema wraps a schema-read failure.
func ErrCaptureSchema(cause error) error {
	return fmt.Errorf("resultset: reading column schema: %w", cause)
}

// assemble finalizes a result set, inferring missing column element types
// from the data and computing the size estimate.
func assemble(columns []Column, rows [][]interface{}, affected int64, clk clock.Clock) *ResultSet {
	inferColumnTypes(columns, rows)

	return &ResultSet{
		Columns:         columns,
		Rows:            rows,
		RecordsAffected: affected,
		SizeBytes:       EstimateSize(columns, rows),
		CapturedAt:      clk.Now().UTC(),
	}
}

// captureSchema reads the column schema, preferring the rich provider.
func captureSchema(r RowReader) ([]Column, error) {
	if provider, ok := r.(ColumnSchemaProvider); ok {
		columns, err := provider.ColumnSchema()
		if err != nil {
			return nil, err
		}
		if len(columns) > 0 {
			for i := range columns {
				columns[i].Ordinal = i
			}
			return columns, nil
		}
	}

	// Fallback: field count plus per-column accessors. Nullability is
	// unknown, so it is assumed allowed.
	count := r.FieldCount()
	columns := make([]Column, count)
	for i := 0; i < count; i++ {
		columns[i] = Column{
			Name:             r.ColumnName(i),
			Ordinal:          i,
			DatabaseTypeName: r.DatabaseTypeName(i),
			Type:             r.ElementType(i),
			Nullable:         true,
		}
	}
	return columns, nil
}

// captureRow copies the current row out of the reader, normalizing cell
// values into whitelisted runtime types. Nulls are stored as untyped nil,
// never as a driver null sentinel.
func captureRow(r RowReader, columns []Column) []interface{} {
	row := make([]interface{}, len(columns))
	for i := range columns {
		if r.IsNull(i) {
			continue
		}
		row[i] = normalizeCell(r.Value(i))
	}
	return row
}

// Normalize coerces a driver value into a whitelisted runtime type.
// Platform-width integers widen to their 64-bit form; anything outside
// the whitelist is captured by its textual rendering.
func Normalize(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	return normalizeCell(v)
}

// normalizeCell coerces driver values into whitelisted runtime types.
// Platform-width integers widen to their 64-bit form; anything outside
// the whitelist is captured by its textual rendering.
func normalizeCell(v interface{}) interface{} {
	switch val := v.(type) {
	case int:
		return int64(val)
	case uint:
		return uint64(val)
	default:
		if _, ok := elementTypeOf(v); ok {
			return v
		}
		return fmt.Sprintf("%v", v)
	}
}

// inferColumnTypes fills in element types the driver could not report,
// using the first non-null cell of each column.
func inferColumnTypes(columns []Column, rows [][]interface{}) {
	for i := range columns {
		if columns[i].Type != "" {
			continue
		}

		columns[i].Type = TypeString
		for _, row := range rows {
			if row[i] == nil {
				continue
			}
			if t, ok := elementTypeOf(row[i]); ok {
				columns[i].Type = t
			}
			break
		}
	}
}
