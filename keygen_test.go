package stash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	gen := NewKeyGenerator("stash:")

	cmd := &Command{
		Text: "SELECT * FROM P WHERE Id=@id",
		Parameters: []Parameter{
			{Name: "id", Value: int64(1), DeclaredType: "bigint"},
		},
	}

	first := gen.Fingerprint(cmd)
	second := gen.Fingerprint(cmd)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "stash:"))

	// Lowercase hex SHA-256: 64 hex digits after the prefix.
	hexPart := strings.TrimPrefix(first, "stash:")
	require.Len(t, hexPart, 64)
	assert.Equal(t, strings.ToLower(hexPart), hexPart)
}

func TestFingerprintSensitivity(t *testing.T) {
	gen := NewKeyGenerator("")

	base := &Command{
		Text: "SELECT * FROM P WHERE Id=@id",
		Parameters: []Parameter{
			{Name: "id", Value: int64(1), DeclaredType: "bigint"},
		},
	}
	baseKey := gen.Fingerprint(base)

	tests := []struct {
		name string
		cmd  *Command
	}{
		{
			name: "different text",
			cmd: &Command{
				Text:       "SELECT * FROM P WHERE Id=@id ",
				Parameters: base.Parameters,
			},
		},
		{
			name: "different parameter value",
			cmd: &Command{
				Text: base.Text,
				Parameters: []Parameter{
					{Name: "id", Value: int64(2), DeclaredType: "bigint"},
				},
			},
		},
		{
			name: "different parameter name",
			cmd: &Command{
				Text: base.Text,
				Parameters: []Parameter{
					{Name: "id2", Value: int64(1), DeclaredType: "bigint"},
				},
			},
		},
		{
			name: "different declared type",
			cmd: &Command{
				Text: base.Text,
				Parameters: []Parameter{
					{Name: "id", Value: int64(1), DeclaredType: "int"},
				},
			},
		},
		{
			name: "null value",
			cmd: &Command{
				Text: base.Text,
				Parameters: []Parameter{
					{Name: "id", Value: nil, DeclaredType: "bigint"},
				},
			},
		},
		{
			name: "extra parameter",
			cmd: &Command{
				Text: base.Text,
				Parameters: append([]Parameter{}, append(base.Parameters,
					Parameter{Name: "x", Value: "y", DeclaredType: "text"})...),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, baseKey, gen.Fingerprint(tt.cmd))
		})
	}
}

func TestFingerprintNullRendersAsLiteral(t *testing.T) {
	gen := NewKeyGenerator("")

	withNull := gen.Fingerprint(&Command{
		Text: "Q",
		Parameters: []Parameter{
			{Name: "p", Value: nil, DeclaredType: "text"},
		},
	})
	withLiteral := gen.Fingerprint(&Command{
		Text: "Q",
		Parameters: []Parameter{
			{Name: "p", Value: "NULL", DeclaredType: "text"},
		},
	})

	// A null parameter and the string "NULL" render identically; only
	// the canonical rendering is fingerprinted.
	assert.Equal(t, withNull, withLiteral)
}

func TestRenderValueStability(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil", nil, "NULL"},
		{"bool", true, "true"},
		{"int64", int64(-42), "-42"},
		{"uint64", uint64(42), "42"},
		{"float64", 1.5, "1.5"},
		{"string", "abc", "abc"},
		{"bytes", []byte{1, 2}, "AQI="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderValue(tt.in))
		})
	}
}
