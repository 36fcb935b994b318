package resultset

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Wire layout of a serialized result set. The document is self
// describing: every column and every non-null cell carries the canonical
// name of its scalar type, and deserialization rejects any name outside
// the whitelist.
type (
	document struct {
		Columns         []documentColumn `json:"columns"`
		Rows            [][]*cell        `json:"rows"`
		RecordsAffected int64            `json:"recordsAffected"`
		SizeBytes       int64            `json:"sizeBytes"`
		CapturedAt      time.Time        `json:"capturedAt"`
	}

	documentColumn struct {
		Name             string `json:"name"`
		Ordinal          int    `json:"ordinal"`
		DatabaseTypeName string `json:"dbType"`
		Type             string `json:"type"`
		Nullable         bool   `json:"nullable"`
	}

	cell struct {
		Type  string `json:"t"`
		Value string `json:"v"`
	}
)

// Serialize encodes a result set into its wire form. It fails only for
// cell values outside the whitelist, which a capture-produced result set
// never contains.
func Serialize(rs *ResultSet) ([]byte, error) {
	doc := document{
		Columns:         make([]documentColumn, len(rs.Columns)),
		Rows:            make([][]*cell, len(rs.Rows)),
		RecordsAffected: rs.RecordsAffected,
		SizeBytes:       rs.SizeBytes,
		CapturedAt:      rs.CapturedAt,
	}

	for i, col := range rs.Columns {
		doc.Columns[i] = documentColumn{
			Name:             col.Name,
			Ordinal:          col.Ordinal,
			DatabaseTypeName: col.DatabaseTypeName,
			Type:             string(col.Type),
			Nullable:         col.Nullable,
		}
	}

	for i, row := range rs.Rows {
		encoded := make([]*cell, len(row))
		for j, v := range row {
			if v == nil {
				continue
			}
			c, err := encodeCell(v)
			if err != nil {
				return nil, fmt.Errorf("resultset: row %d cell %d: %w", i, j, err)
			}
			encoded[j] = c
		}
		doc.Rows[i] = encoded
	}

	return json.Marshal(doc)
}

// Deserialize decodes a serialized result set. Any malformed document,
// truncated input, out-of-range value or non-whitelisted type name yields
// an error matching ErrCorrupt; callers treat that as a cache miss.
// Deserialize never panics.
func Deserialize(data []byte) (*ResultSet, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, corrupt("malformed document", err)
	}

	columns := make([]Column, len(doc.Columns))
	for i, dc := range doc.Columns {
		t := ElementType(dc.Type)
		if !IsWhitelisted(t) {
			return nil, corrupt(fmt.Sprintf("column %q has forbidden type %q", dc.Name, dc.Type), nil)
		}
		if dc.Ordinal != i {
			return nil, corrupt(fmt.Sprintf("column %q ordinal %d out of order", dc.Name, dc.Ordinal), nil)
		}
		columns[i] = Column{
			Name:             dc.Name,
			Ordinal:          dc.Ordinal,
			DatabaseTypeName: dc.DatabaseTypeName,
			Type:             t,
			Nullable:         dc.Nullable,
		}
	}

	rows := make([][]interface{}, len(doc.Rows))
	for i, encoded := range doc.Rows {
		if len(encoded) != len(columns) {
			return nil, corrupt(fmt.Sprintf("row %d has %d cells, schema has %d columns",
				i, len(encoded), len(columns)), nil)
		}

		row := make([]interface{}, len(encoded))
		for j, c := range encoded {
			if c == nil {
				continue
			}
			v, err := decodeCell(c)
			if err != nil {
				return nil, corrupt(fmt.Sprintf("row %d cell %d", i, j), err)
			}
			row[j] = v
		}
		rows[i] = row
	}

	return &ResultSet{
		Columns:         columns,
		Rows:            rows,
		RecordsAffected: doc.RecordsAffected,
		SizeBytes:       doc.SizeBytes,
		CapturedAt:      doc.CapturedAt,
	}, nil
}

// corrupt wraps a validation failure so it matches ErrCorrupt.
func corrupt(reason string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, reason, cause)
	}
	return fmt.Errorf("%w: %s", ErrCorrupt, reason)
}

// Textual renderings for the temporal element types.
const (
	dateLayout      = "2006-01-02"
	timeOfDayLayout = "15:04:05.999999999"
)

// encodeCell renders a non-null cell value as a typed scalar.
func encodeCell(v interface{}) (*cell, error) {
	switch val := v.(type) {
	case bool:
		return &cell{Type: string(TypeBool), Value: strconv.FormatBool(val)}, nil
	case int8:
		return &cell{Type: string(TypeInt8), Value: strconv.FormatInt(int64(val), 10)}, nil
	case uint8:
		return &cell{Type: string(TypeUint8), Value: strconv.FormatUint(uint64(val), 10)}, nil
	case int16:
		return &cell{Type: string(TypeInt16), Value: strconv.FormatInt(int64(val), 10)}, nil
	case uint16:
		return &cell{Type: string(TypeUint16), Value: strconv.FormatUint(uint64(val), 10)}, nil
	case int32:
		return &cell{Type: string(TypeInt32), Value: strconv.FormatInt(int64(val), 10)}, nil
	case uint32:
		return &cell{Type: string(TypeUint32), Value: strconv.FormatUint(uint64(val), 10)}, nil
	case int64:
		return &cell{Type: string(TypeInt64), Value: strconv.FormatInt(val, 10)}, nil
	case uint64:
		return &cell{Type: string(TypeUint64), Value: strconv.FormatUint(val, 10)}, nil
	case float32:
		return &cell{Type: string(TypeFloat32), Value: strconv.FormatFloat(float64(val), 'g', -1, 32)}, nil
	case float64:
		return &cell{Type: string(TypeFloat64), Value: strconv.FormatFloat(val, 'g', -1, 64)}, nil
	case Decimal:
		return &cell{Type: string(TypeDecimal), Value: string(val)}, nil
	case string:
		return &cell{Type: string(TypeString), Value: val}, nil
	case Char:
		return &cell{Type: string(TypeChar), Value: string(rune(val))}, nil
	case []byte:
		return &cell{Type: string(TypeBytes), Value: base64.StdEncoding.EncodeToString(val)}, nil
	case uuid.UUID:
		return &cell{Type: string(TypeUUID), Value: val.String()}, nil
	case time.Time:
		return &cell{Type: string(TypeDateTime), Value: val.UTC().Format(time.RFC3339Nano)}, nil
	case time.Duration:
		return &cell{Type: string(TypeDuration), Value: strconv.FormatInt(int64(val), 10)}, nil
	default:
		return nil, fmt.Errorf("value of type %T is outside the whitelist", v)
	}
}

// decodeCell parses a typed scalar back into its runtime value,
// rejecting any type name outside the whitelist.
func decodeCell(c *cell) (interface{}, error) {
	t := ElementType(c.Type)
	if !IsWhitelisted(t) {
		return nil, fmt.Errorf("forbidden element type %q", c.Type)
	}

	switch t {
	case TypeBool:
		return strconv.ParseBool(c.Value)
	case TypeInt8:
		n, err := strconv.ParseInt(c.Value, 10, 8)
		return int8(n), err
	case TypeUint8:
		n, err := strconv.ParseUint(c.Value, 10, 8)
		return uint8(n), err
	case TypeInt16:
		n, err := strconv.ParseInt(c.Value, 10, 16)
		return int16(n), err
	case TypeUint16:
		n, err := strconv.ParseUint(c.Value, 10, 16)
		return uint16(n), err
	case TypeInt32:
		n, err := strconv.ParseInt(c.Value, 10, 32)
		return int32(n), err
	case TypeUint32:
		n, err := strconv.ParseUint(c.Value, 10, 32)
		return uint32(n), err
	case TypeInt64:
		return strconv.ParseInt(c.Value, 10, 64)
	case TypeUint64:
		return strconv.ParseUint(c.Value, 10, 64)
	case TypeFloat32:
		f, err := strconv.ParseFloat(c.Value, 32)
		return float32(f), err
	case TypeFloat64:
		return strconv.ParseFloat(c.Value, 64)
	case TypeDecimal:
		return Decimal(c.Value), nil
	case TypeString:
		return c.Value, nil
	case TypeChar:
		r, size := utf8.DecodeRuneInString(c.Value)
		if r == utf8.RuneError || size != len(c.Value) {
			return nil, fmt.Errorf("invalid char value %q", c.Value)
		}
		return Char(r), nil
	case TypeBytes:
		return base64.StdEncoding.DecodeString(c.Value)
	case TypeUUID:
		return uuid.Parse(c.Value)
	case TypeDate:
		return time.Parse(dateLayout, c.Value)
	case TypeTime:
		return time.Parse(timeOfDayLayout, c.Value)
	case TypeDateTime:
		parsed, err := time.Parse(time.RFC3339Nano, c.Value)
		if err != nil {
			return nil, err
		}
		return parsed.UTC(), nil
	case TypeDateTimeOffset:
		return time.Parse(time.RFC3339Nano, c.Value)
	case TypeDuration:
		n, err := strconv.ParseInt(c.Value, 10, 64)
		return time.Duration(n), err
	default:
		return nil, fmt.Errorf("forbidden element type %q", c.Type)
	}
}
