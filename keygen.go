package stash

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// KeyGenerator produces deterministic cache keys for commands. Two
// commands map to the same key exactly when their text and their full
// parameter sequences (name, value, declared type, order) agree.
type KeyGenerator struct {
	// Prefix is prepended to every generated key.
	Prefix string
}

// NewKeyGenerator creates a key generator with the given key prefix.
func NewKeyGenerator(prefix string) *KeyGenerator {
	return &KeyGenerator{Prefix: prefix}
}

// Fingerprint returns the cache key for a command: the configured prefix
// followed by the lowercase hex SHA-256 of the canonical command rendering.
func (g *KeyGenerator) Fingerprint(cmd *Command) string {
	h := sha256.New()
	h.Write([]byte(cmd.Text))

	for _, p := range cmd.Parameters {
		h.Write([]byte("|"))
		h.Write([]byte(p.Name))
		h.Write([]byte("="))
		h.Write([]byte(renderValue(p.Value)))
		h.Write([]byte(":"))
		h.Write([]byte(p.DeclaredType))
	}

	return g.Prefix + hex.EncodeToString(h.Sum(nil))
}

// renderValue produces a locale-independent textual rendering of a scalar
// parameter value. Nil renders as the literal NULL.
func renderValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return val.String()
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
