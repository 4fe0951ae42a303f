package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Param is one named command parameter with its declared database type.
type Param struct {
	Name         string
	Value        any
	DeclaredType string
}

// Command is a read request: opaque SQL text plus an ordered parameter
// list.
type Command struct {
	Text   string
	Params []Param
}

// KeyGenerator produces deterministic fingerprints of commands. Identical
// commands (text and parameter sequence) yield identical fingerprints; any
// difference in text or in a parameter's name, value, or declared type
// yields a different one.
type KeyGenerator struct {
	prefix string
}

// NewKeyGenerator creates a generator that prepends prefix to every key.
func NewKeyGenerator(prefix string) *KeyGenerator {
	return &KeyGenerator{prefix: prefix}
}

// Fingerprint returns `<prefix><lowercase-hex-sha256>` of the canonical
// rendering: the command text followed, per parameter in declared order, by
// "|<name>=<value-or-NULL>:<declared-type>".
func (g *KeyGenerator) Fingerprint(cmd *Command) string {
	h := sha256.New()
	h.Write([]byte(cmd.Text))
	for _, p := range cmd.Params {
		h.Write([]byte("|"))
		h.Write([]byte(p.Name))
		h.Write([]byte("="))
		h.Write([]byte(renderValue(p.Value)))
		h.Write([]byte(":"))
		h.Write([]byte(p.DeclaredType))
	}
	return g.prefix + hex.EncodeToString(h.Sum(nil))
}

// renderValue produces the invariant textual rendering of a parameter
// value. The rendering must be stable across runs and platforms; anything
// locale-dependent would split identical commands into distinct keys.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
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
	case string:
		return val
	case []byte:
		return hex.EncodeToString(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return strconv.FormatInt(int64(val), 10)
	case decimal.Decimal:
		return val.String()
	case uuid.UUID:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
