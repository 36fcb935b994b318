package resultset_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/stash/resultset"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	id := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	when := time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC)

	rs := &resultset.ResultSet{
		Columns: []resultset.Column{
			{Name: "B", Ordinal: 0, Type: resultset.TypeBool},
			{Name: "I8", Ordinal: 1, Type: resultset.TypeInt8},
			{Name: "U8", Ordinal: 2, Type: resultset.TypeUint8},
			{Name: "I16", Ordinal: 3, Type: resultset.TypeInt16},
			{Name: "U16", Ordinal: 4, Type: resultset.TypeUint16},
			{Name: "I32", Ordinal: 5, Type: resultset.TypeInt32},
			{Name: "U32", Ordinal: 6, Type: resultset.TypeUint32},
			{Name: "I64", Ordinal: 7, Type: resultset.TypeInt64},
			{Name: "U64", Ordinal: 8, Type: resultset.TypeUint64},
			{Name: "F32", Ordinal: 9, Type: resultset.TypeFloat32},
			{Name: "F64", Ordinal: 10, Type: resultset.TypeFloat64},
			{Name: "Dec", Ordinal: 11, Type: resultset.TypeDecimal},
			{Name: "S", Ordinal: 12, Type: resultset.TypeString, Nullable: true},
			{Name: "C", Ordinal: 13, Type: resultset.TypeChar},
			{Name: "Bin", Ordinal: 14, Type: resultset.TypeBytes},
			{Name: "Id", Ordinal: 15, Type: resultset.TypeUUID},
			{Name: "At", Ordinal: 16, Type: resultset.TypeDateTime},
			{Name: "Dur", Ordinal: 17, Type: resultset.TypeDuration},
		},
		Rows: [][]interface{}{
			{
				true, int8(-8), uint8(8), int16(-16), uint16(16),
				int32(-32), uint32(32), int64(-64), uint64(64),
				float32(1.5), float64(-2.25),
				resultset.Decimal("123456789.000000001"),
				"héllo", resultset.Char('Ω'), []byte{0x00, 0xFF},
				id, when, 90 * time.Minute,
			},
			{
				nil, nil, nil, nil, nil, nil, nil, nil, nil,
				nil, nil, nil, nil, nil, nil, nil, nil, nil,
			},
		},
		RecordsAffected: -1,
		SizeBytes:       512,
		CapturedAt:      when,
	}

	data, err := resultset.Serialize(rs)
	require.NoError(t, err)

	decoded, err := resultset.Deserialize(data)
	require.NoError(t, err)

	if diff := cmp.Diff(rs, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSerializeRejectsForeignCellTypes(t *testing.T) {
	rs := &resultset.ResultSet{
		Columns: []resultset.Column{{Name: "X", Type: resultset.TypeString}},
		Rows:    [][]interface{}{{struct{ A int }{1}}},
	}

	_, err := resultset.Serialize(rs)
	require.Error(t, err)
	assert.ErrorContains(t, err, "whitelist")
}

func TestDeserializeCorruptPayloads(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "malformed json",
			data: `{"columns":[`,
		},
		{
			name: "forbidden column type",
			data: `{"columns":[{"name":"X","ordinal":0,"type":"object"}],"rows":[]}`,
		},
		{
			name: "ordinal out of order",
			data: `{"columns":[{"name":"X","ordinal":1,"type":"string"}],"rows":[]}`,
		},
		{
			name: "row width mismatch",
			data: `{"columns":[{"name":"X","ordinal":0,"type":"string"}],"rows":[[{"t":"string","v":"a"},{"t":"string","v":"b"}]]}`,
		},
		{
			name: "forbidden cell type",
			data: `{"columns":[{"name":"X","ordinal":0,"type":"string"}],"rows":[[{"t":"pointer","v":"a"}]]}`,
		},
		{
			name: "unparseable integer",
			data: `{"columns":[{"name":"X","ordinal":0,"type":"int64"}],"rows":[[{"t":"int64","v":"not-a-number"}]]}`,
		},
		{
			name: "int8 overflow",
			data: `{"columns":[{"name":"X","ordinal":0,"type":"int8"}],"rows":[[{"t":"int8","v":"4000"}]]}`,
		},
		{
			name: "invalid uuid",
			data: `{"columns":[{"name":"X","ordinal":0,"type":"uuid"}],"rows":[[{"t":"uuid","v":"nope"}]]}`,
		},
		{
			name: "multi-rune char",
			data: `{"columns":[{"name":"X","ordinal":0,"type":"char"}],"rows":[[{"t":"char","v":"ab"}]]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := resultset.Deserialize([]byte(tt.data))
			assert.Nil(t, rs)
			require.Error(t, err)
			assert.True(t, errors.Is(err, resultset.ErrCorrupt), "expected ErrCorrupt, got %v", err)
		})
	}
}

func TestDeserializeTemporalTypes(t *testing.T) {
	data := `{"columns":[` +
		`{"name":"D","ordinal":0,"type":"date"},` +
		`{"name":"T","ordinal":1,"type":"time"},` +
		`{"name":"O","ordinal":2,"type":"date-time-offset"}],` +
		`"rows":[[{"t":"date","v":"2026-03-01"},{"t":"time","v":"13:45:30.5"},{"t":"date-time-offset","v":"2026-03-01T13:45:30+02:00"}]]}`

	rs, err := resultset.Deserialize([]byte(data))
	require.NoError(t, err)

	d := rs.Rows[0][0].(time.Time)
	assert.Equal(t, 2026, d.Year())
	assert.Equal(t, time.March, d.Month())

	tod := rs.Rows[0][1].(time.Time)
	assert.Equal(t, 13, tod.Hour())
	assert.Equal(t, 500*time.Millisecond, time.Duration(tod.Nanosecond()))

	// Offsets survive the round trip instead of being folded into UTC.
	offset := rs.Rows[0][2].(time.Time)
	_, zone := offset.Zone()
	assert.Equal(t, 2*3600, zone)
}

func TestDeserializeNullCells(t *testing.T) {
	data := `{"columns":[{"name":"X","ordinal":0,"type":"string","nullable":true}],"rows":[[null]]}`

	rs, err := resultset.Deserialize([]byte(data))
	require.NoError(t, err)
	assert.Nil(t, rs.Rows[0][0])
}

func TestDateTimeStoredAsUTC(t *testing.T) {
	loc := time.FixedZone("plus5", 5*3600)
	local := time.Date(2026, 3, 1, 10, 0, 0, 0, loc)

	rs := &resultset.ResultSet{
		Columns: []resultset.Column{{Name: "At", Ordinal: 0, Type: resultset.TypeDateTime}},
		Rows:    [][]interface{}{{local}},
	}

	data, err := resultset.Serialize(rs)
	require.NoError(t, err)

	decoded, err := resultset.Deserialize(data)
	require.NoError(t, err)

	got := decoded.Rows[0][0].(time.Time)
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(local))
}
