package resultset

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrCorrupt marks a payload Decode refused to materialize: truncated or
// malformed input, a row/schema mismatch, an out-of-range value, or an
// element-type name outside the whitelist. Callers treat it as a cache miss.
var ErrCorrupt = errors.New("resultset: corrupt payload")

type payloadDTO struct {
	Columns         []columnDTO `msgpack:"columns"`
	Rows            [][]cellDTO `msgpack:"rows"`
	RecordsAffected int64       `msgpack:"records_affected"`
	SizeBytes       int64       `msgpack:"size_bytes"`
	CapturedAt      time.Time   `msgpack:"captured_at"`
}

type columnDTO struct {
	Name         string `msgpack:"name"`
	Ordinal      int    `msgpack:"ordinal"`
	DatabaseType string `msgpack:"db_type"`
	ValueType    string `msgpack:"value_type"`
	Nullable     bool   `msgpack:"nullable"`
}

// cellDTO carries one cell: the canonical element-type name plus the scalar
// encoded as its own msgpack document. An empty Type marks a null cell.
type cellDTO struct {
	Type string `msgpack:"t"`
	Data []byte `msgpack:"d,omitempty"`
}

// Encode serializes the result set. Encoding only fails if the result set
// violates the whitelist invariant, which a properly captured set cannot.
func Encode(rs *ResultSet) ([]byte, error) {
	dto := payloadDTO{
		Columns:         make([]columnDTO, len(rs.Columns)),
		Rows:            make([][]cellDTO, len(rs.Rows)),
		RecordsAffected: rs.RecordsAffected,
		SizeBytes:       rs.SizeBytes,
		CapturedAt:      rs.CapturedAt,
	}
	for i, col := range rs.Columns {
		dto.Columns[i] = columnDTO{
			Name:         col.Name,
			Ordinal:      col.Ordinal,
			DatabaseType: col.DatabaseType,
			ValueType:    col.ValueType,
			Nullable:     col.Nullable,
		}
	}
	for i, row := range rs.Rows {
		cells := make([]cellDTO, len(row))
		for j, cell := range row {
			dc, err := encodeCell(cell)
			if err != nil {
				return nil, fmt.Errorf("row %d cell %d: %w", i, j, err)
			}
			cells[j] = dc
		}
		dto.Rows[i] = cells
	}
	return msgpack.Marshal(dto)
}

func encodeCell(v any) (cellDTO, error) {
	if v == nil {
		return cellDTO{}, nil
	}
	name, ok := classifyValue(v)
	if !ok {
		return cellDTO{}, fmt.Errorf("resultset: %T is not a whitelisted element type", v)
	}
	var payload any
	switch val := v.(type) {
	case decimal.Decimal:
		payload = val.String()
	case uuid.UUID:
		payload = val.String()
	case time.Time:
		payload = val.Format(time.RFC3339Nano)
	case time.Duration:
		payload = int64(val)
	case Char:
		payload = int32(val)
	default:
		payload = val
	}
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return cellDTO{}, err
	}
	return cellDTO{Type: name, Data: data}, nil
}

// Decode deserializes a payload produced by Encode (possibly by another
// process writing to the shared cache tier). It never panics; every failure
// mode, including unrecognized element-type names, reports ErrCorrupt.
func Decode(data []byte) (*ResultSet, error) {
	var dto payloadDTO
	if err := msgpack.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	rs := &ResultSet{
		Columns:         make([]Column, len(dto.Columns)),
		Rows:            make([][]any, len(dto.Rows)),
		RecordsAffected: dto.RecordsAffected,
		SizeBytes:       dto.SizeBytes,
		CapturedAt:      dto.CapturedAt,
	}
	for i, col := range dto.Columns {
		if col.ValueType != "" && !isWhitelisted(col.ValueType) {
			return nil, fmt.Errorf("%w: column %q has element type %q", ErrCorrupt, col.Name, col.ValueType)
		}
		rs.Columns[i] = Column{
			Name:         col.Name,
			Ordinal:      col.Ordinal,
			DatabaseType: col.DatabaseType,
			ValueType:    col.ValueType,
			Nullable:     col.Nullable,
		}
	}
	for i, row := range dto.Rows {
		if len(row) != len(rs.Columns) {
			return nil, fmt.Errorf("%w: row %d has %d cells, schema has %d columns", ErrCorrupt, i, len(row), len(rs.Columns))
		}
		cells := make([]any, len(row))
		for j, dc := range row {
			cell, err := decodeCell(dc)
			if err != nil {
				return nil, err
			}
			cells[j] = cell
		}
		rs.Rows[i] = cells
	}
	return rs, nil
}

func isWhitelisted(name string) bool {
	switch name {
	case TypeBool, TypeInt8, TypeInt16, TypeInt32, TypeInt64,
		TypeUint8, TypeUint16, TypeUint32, TypeUint64,
		TypeFloat32, TypeFloat64, TypeDecimal, TypeString, TypeChar,
		TypeByteArray, TypeUUID, TypeDate, TypeTime, TypeDateTime,
		TypeDateTimeOffset, TypeTimeSpan:
		return true
	default:
		return false
	}
}

func decodeCell(dc cellDTO) (any, error) {
	if dc.Type == "" {
		return nil, nil
	}
	switch dc.Type {
	case TypeBool:
		return decodeAs[bool](dc.Data)
	case TypeInt8:
		return decodeAs[int8](dc.Data)
	case TypeInt16:
		return decodeAs[int16](dc.Data)
	case TypeInt32:
		return decodeAs[int32](dc.Data)
	case TypeInt64:
		return decodeAs[int64](dc.Data)
	case TypeUint8:
		return decodeAs[uint8](dc.Data)
	case TypeUint16:
		return decodeAs[uint16](dc.Data)
	case TypeUint32:
		return decodeAs[uint32](dc.Data)
	case TypeUint64:
		return decodeAs[uint64](dc.Data)
	case TypeFloat32:
		return decodeAs[float32](dc.Data)
	case TypeFloat64:
		return decodeAs[float64](dc.Data)
	case TypeString:
		return decodeAs[string](dc.Data)
	case TypeByteArray:
		return decodeAs[[]byte](dc.Data)
	case TypeChar:
		raw, err := decodeAs[int32](dc.Data)
		if err != nil {
			return nil, err
		}
		return Char(raw), nil
	case TypeDecimal:
		raw, err := decodeAs[string](dc.Data)
		if err != nil {
			return nil, err
		}
		dec, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: bad decimal %q", ErrCorrupt, raw)
		}
		return dec, nil
	case TypeUUID:
		raw, err := decodeAs[string](dc.Data)
		if err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: bad uuid %q", ErrCorrupt, raw)
		}
		return id, nil
	case TypeDate, TypeTime, TypeDateTime, TypeDateTimeOffset:
		raw, err := decodeAs[string](dc.Data)
		if err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp %q", ErrCorrupt, raw)
		}
		return ts, nil
	case TypeTimeSpan:
		raw, err := decodeAs[int64](dc.Data)
		if err != nil {
			return nil, err
		}
		return time.Duration(raw), nil
	default:
		return nil, fmt.Errorf("%w: unknown element type %q", ErrCorrupt, dc.Type)
	}
}

func decodeAs[T any](data []byte) (T, error) {
	var v T
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return v, nil
}
