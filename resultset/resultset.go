// Package resultset provides the in-memory model for materialized query
// results: capture from a live row reader, a byte codec for external
// storage, and a replay reader exposing the same streaming contract the
// driver exposes.
package resultset

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors. Compare with errors.Is.
var (
	// ErrTooManyRows indicates a capture exceeded its row limit. The
	// concrete error is a *RowLimitError carrying the drained rows.
	ErrTooManyRows = errors.New("resultset: row limit exceeded")

	// ErrCorrupt indicates a serialized payload failed validation.
	ErrCorrupt = errors.New("resultset: corrupt payload")

	// ErrClosed indicates a read against a closed reader.
	ErrClosed = errors.New("resultset: reader is closed")
)

// ElementType is the canonical identifier of a whitelisted scalar type.
// Only values of these types may appear in result-set cells, and only
// these identifiers are accepted during deserialization.
type ElementType string

const (
	TypeBool           ElementType = "bool"
	TypeInt8           ElementType = "int8"
	TypeUint8          ElementType = "uint8"
	TypeInt16          ElementType = "int16"
	TypeUint16         ElementType = "uint16"
	TypeInt32          ElementType = "int32"
	TypeUint32         ElementType = "uint32"
	TypeInt64          ElementType = "int64"
	TypeUint64         ElementType = "uint64"
	TypeFloat32        ElementType = "float32"
	TypeFloat64        ElementType = "float64"
	TypeDecimal        ElementType = "decimal"
	TypeString         ElementType = "string"
	TypeChar           ElementType = "char"
	TypeBytes          ElementType = "byte-array"
	TypeUUID           ElementType = "uuid"
	TypeDate           ElementType = "date"
	TypeTime           ElementType = "time"
	TypeDateTime       ElementType = "date-time"
	TypeDateTimeOffset ElementType = "date-time-offset"
	TypeDuration       ElementType = "time-span"
)

// whitelist is the set of element types the codec will deserialize.
var whitelist = map[ElementType]bool{
	TypeBool: true, TypeInt8: true, TypeUint8: true, TypeInt16: true,
	TypeUint16: true, TypeInt32: true, TypeUint32: true, TypeInt64: true,
	TypeUint64: true, TypeFloat32: true, TypeFloat64: true,
	TypeDecimal: true, TypeString: true, TypeChar: true, TypeBytes: true,
	TypeUUID: true, TypeDate: true, TypeTime: true, TypeDateTime: true,
	TypeDateTimeOffset: true, TypeDuration: true,
}

// IsWhitelisted reports whether t is a permitted element type.
func IsWhitelisted(t ElementType) bool {
	return whitelist[t]
}

// Decimal is a string-backed exact decimal value. The cache never does
// arithmetic on decimals; it only round-trips their textual form.
type Decimal string

// Char is a single character value, distinct from int32 in cell type
// switches.
type Char rune

// Column describes one column of a result set. Ordinal equals the
// column's position in the schema.
type Column struct {
	Name             string
	Ordinal          int
	DatabaseTypeName string
	Type             ElementType
	Nullable         bool
}

// ResultSet is a materialized query result. Rows are populated once
// during capture and must be treated as immutable afterwards, which makes
// sharing between the cache store and concurrent replay readers safe
// without copying.
type ResultSet struct {
	Columns []Column

	// Rows is the row matrix. Every row has exactly len(Columns) cells.
	// A cell is nil for a database null, otherwise a value whose runtime
	// type corresponds to the column's ElementType.
	Rows [][]interface{}

	// RecordsAffected is the count reported by the reader, or -1 when
	// unknown.
	RecordsAffected int64

	// SizeBytes is the conservative byte-size estimate computed during
	// capture. It drives admission decisions, not memory accounting.
	SizeBytes int64

	// CapturedAt is the wall-clock instant the capture completed.
	CapturedAt time.Time
}

// RowCount returns the number of rows.
func (rs *ResultSet) RowCount() int {
	return len(rs.Rows)
}

// Per-cell byte estimates used by EstimateSize.
const (
	columnOverhead  = 40
	rowOverhead     = 8
	cellOverhead    = 8
	stringOverhead  = 40
	bytesOverhead   = 24
	unknownCellSize = 16
)

// EstimateSize computes the conservative byte-size estimate for a schema
// and row matrix.
func EstimateSize(columns []Column, rows [][]interface{}) int64 {
	size := int64(len(columns)) * columnOverhead

	for _, row := range rows {
		size += rowOverhead + int64(len(row))*cellOverhead
		for _, cell := range row {
			size += cellSize(cell)
		}
	}

	return size
}

// cellSize estimates the in-memory footprint of one cell value.
func cellSize(v interface{}) int64 {
	switch val := v.(type) {
	case nil:
		return 0
	case bool, int8, uint8:
		return 1
	case int16, uint16:
		return 2
	case int32, uint32, float32, Char:
		return 4
	case int64, uint64, float64, time.Duration:
		return 8
	case time.Time:
		return 12
	case uuid.UUID:
		return 16
	case string:
		return 2*int64(len(val)) + stringOverhead
	case Decimal:
		return 2*int64(len(val)) + stringOverhead
	case []byte:
		return int64(len(val)) + bytesOverhead
	default:
		return unknownCellSize
	}
}

// TypeOf maps a cell's runtime type to its canonical identifier.
func TypeOf(v interface{}) (ElementType, bool) {
	return elementTypeOf(v)
}

// elementTypeOf maps a cell's runtime type to its canonical identifier.
func elementTypeOf(v interface{}) (ElementType, bool) {
	switch v.(type) {
	case bool:
		return TypeBool, true
	case int8:
		return TypeInt8, true
	case uint8:
		return TypeUint8, true
	case int16:
		return TypeInt16, true
	case uint16:
		return TypeUint16, true
	case int32:
		return TypeInt32, true
	case uint32:
		return TypeUint32, true
	case int64:
		return TypeInt64, true
	case uint64:
		return TypeUint64, true
	case float32:
		return TypeFloat32, true
	case float64:
		return TypeFloat64, true
	case Decimal:
		return TypeDecimal, true
	case string:
		return TypeString, true
	case Char:
		return TypeChar, true
	case []byte:
		return TypeBytes, true
	case uuid.UUID:
		return TypeUUID, true
	case time.Time:
		return TypeDateTime, true
	case time.Duration:
		return TypeDuration, true
	default:
		return "", false
	}
}
