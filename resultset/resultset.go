// Package resultset models a materialized query result: an ordered column
// schema plus an immutable row matrix that can be captured from a live row
// reader, replayed through the same reader contract, and serialized for an
// external cache tier.
package resultset

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Canonical element-type names. These identify the only value types the
// codec will materialize; anything else is rejected as corrupt.
const (
	TypeBool           = "bool"
	TypeInt8           = "int8"
	TypeInt16          = "int16"
	TypeInt32          = "int32"
	TypeInt64          = "int64"
	TypeUint8          = "uint8"
	TypeUint16         = "uint16"
	TypeUint32         = "uint32"
	TypeUint64         = "uint64"
	TypeFloat32        = "float32"
	TypeFloat64        = "float64"
	TypeDecimal        = "decimal"
	TypeString         = "string"
	TypeChar           = "char"
	TypeByteArray      = "byte-array"
	TypeUUID           = "uuid"
	TypeDate           = "date"
	TypeTime           = "time"
	TypeDateTime       = "date-time"
	TypeDateTimeOffset = "date-time-offset"
	TypeTimeSpan       = "time-span"
)

// Char is a single character cell. It is a named type so the codec can tell
// it apart from a plain int32.
type Char rune

// Column describes one column of a result set. Ordinal equals the column's
// position in the schema.
type Column struct {
	Name         string
	Ordinal      int
	DatabaseType string // driver-reported type name, informational
	ValueType    string // canonical element-type name
	Nullable     bool
}

// ResultSet is an immutable captured query result. Null cells are stored as
// untyped nil, never as a driver-specific sentinel. Every row has exactly
// len(Columns) cells and every non-nil cell holds a whitelisted scalar.
//
// A ResultSet is shared between the cache store and any number of replay
// readers; it must not be mutated after capture.
type ResultSet struct {
	Columns         []Column
	Rows            [][]any
	RecordsAffected int64 // -1 when the reader did not report it
	SizeBytes       int64 // conservative estimate, used for admission only
	CapturedAt      time.Time
}

// Empty reports whether the result set holds no rows.
func (rs *ResultSet) Empty() bool { return len(rs.Rows) == 0 }

// RowCount returns the number of captured rows.
func (rs *ResultSet) RowCount() int { return len(rs.Rows) }

// Overhead constants for the size estimate: one reference per row slice,
// one per cell, and a fixed per-column schema cost.
const (
	refSize        = 8
	columnOverhead = 32
	stringOverhead = 40
	bytesOverhead  = 24
)

// EstimateSize recomputes the approximate byte size of the result set. It is
// called once at capture; the estimate is conservative and not authoritative
// for memory accounting.
func (rs *ResultSet) EstimateSize() int64 {
	var size int64
	for _, col := range rs.Columns {
		size += int64(2*len(col.Name)+len(col.DatabaseType)) + columnOverhead
	}
	for _, row := range rs.Rows {
		size += refSize + int64(len(row))*refSize
		for _, cell := range row {
			size += estimateCell(cell)
		}
	}
	return size
}

func estimateCell(v any) int64 {
	switch val := v.(type) {
	case nil:
		return 0
	case bool, int8, uint8:
		return 1
	case int16, uint16, Char:
		return 2
	case int32, uint32, float32:
		return 4
	case int64, uint64, float64, time.Duration:
		return 8
	case time.Time:
		return 12
	case uuid.UUID, decimal.Decimal:
		return 16
	case string:
		return int64(2*len(val)) + stringOverhead
	case []byte:
		return int64(len(val)) + bytesOverhead
	default:
		return 16
	}
}

// classifyValue maps a cell's runtime type to its canonical element-type
// name. It returns false for anything outside the whitelist.
func classifyValue(v any) (string, bool) {
	switch v.(type) {
	case bool:
		return TypeBool, true
	case int8:
		return TypeInt8, true
	case int16:
		return TypeInt16, true
	case int32:
		return TypeInt32, true
	case int64:
		return TypeInt64, true
	case uint8:
		return TypeUint8, true
	case uint16:
		return TypeUint16, true
	case uint32:
		return TypeUint32, true
	case uint64:
		return TypeUint64, true
	case float32:
		return TypeFloat32, true
	case float64:
		return TypeFloat64, true
	case decimal.Decimal:
		return TypeDecimal, true
	case string:
		return TypeString, true
	case Char:
		return TypeChar, true
	case []byte:
		return TypeByteArray, true
	case uuid.UUID:
		return TypeUUID, true
	case time.Time:
		return TypeDateTime, true
	case time.Duration:
		return TypeTimeSpan, true
	default:
		return "", false
	}
}

// ClassifyValue exposes the whitelist mapping for callers building schemas
// by hand (for example the scalar path of the interceptor).
func ClassifyValue(v any) (string, bool) { return classifyValue(v) }

// Scalar wraps a single value as a one-row, one-column result set, the shape
// scalar commands are cached under. A nil value becomes a null cell with a
// string-typed column. Non-whitelisted values are stored as their string
// rendering, mirroring the capture path.
func Scalar(v any) *ResultSet {
	valueType := TypeString
	nullable := v == nil
	if v != nil {
		name, ok := classifyValue(v)
		if !ok {
			v = fmt.Sprint(v)
			name = TypeString
		}
		valueType = name
	}
	rs := &ResultSet{
		Columns:         []Column{{Name: "value", ValueType: valueType, Nullable: nullable}},
		Rows:            [][]any{{v}},
		RecordsAffected: -1,
		CapturedAt:      time.Now().UTC(),
	}
	rs.SizeBytes = rs.EstimateSize()
	return rs
}
