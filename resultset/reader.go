package resultset

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNullValue is returned when a typed getter is asked to materialize a
// null cell.
var ErrNullValue = errors.New("resultset: cannot cast null cell")

// ErrClosed is returned from row access after Close.
var ErrClosed = errors.New("resultset: reader is closed")

// Rows replays a captured ResultSet through a forward-only cursor. Each
// Rows instance owns its own cursor, so any number of readers can iterate
// the same (immutable) result set concurrently without coordination.
type Rows struct {
	rs       *ResultSet
	idx      int
	closed   bool
	ordinals map[string]int
}

// NewRows returns a reader positioned before the first row.
func NewRows(rs *ResultSet) *Rows {
	return &Rows{rs: rs, idx: -1}
}

// Next advances the cursor and reports whether a row is available.
func (r *Rows) Next() bool {
	if r.closed || r.idx+1 >= len(r.rs.Rows) {
		return false
	}
	r.idx++
	return true
}

// NextResultSet always reports false: a captured result holds one set.
func (r *Rows) NextResultSet() bool { return false }

// FieldCount returns the number of columns.
func (r *Rows) FieldCount() int { return len(r.rs.Columns) }

// HasRows reports whether the result set holds at least one row.
func (r *Rows) HasRows() bool { return len(r.rs.Rows) > 0 }

// RecordsAffected returns the captured records-affected count (-1 unknown).
func (r *Rows) RecordsAffected() int64 { return r.rs.RecordsAffected }

// Columns returns the column schema.
func (r *Rows) Columns() []Column { return r.rs.Columns }

// Ordinal resolves a column name to its ordinal, case-insensitively.
func (r *Rows) Ordinal(name string) (int, bool) {
	if r.ordinals == nil {
		r.ordinals = make(map[string]int, len(r.rs.Columns))
		for _, col := range r.rs.Columns {
			r.ordinals[strings.ToLower(col.Name)] = col.Ordinal
		}
	}
	ord, ok := r.ordinals[strings.ToLower(name)]
	return ord, ok
}

func (r *Rows) cell(i int) (any, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.idx < 0 || r.idx >= len(r.rs.Rows) {
		return nil, errors.New("resultset: no current row")
	}
	if i < 0 || i >= len(r.rs.Columns) {
		return nil, fmt.Errorf("resultset: ordinal %d out of range", i)
	}
	return r.rs.Rows[r.idx][i], nil
}

// Value returns the raw cell at ordinal i; null cells come back as nil.
func (r *Rows) Value(i int) (any, error) { return r.cell(i) }

// IsNull reports whether the cell at ordinal i is null.
func (r *Rows) IsNull(i int) (bool, error) {
	v, err := r.cell(i)
	if err != nil {
		return false, err
	}
	return v == nil, nil
}

// Bytes returns the byte-array cell at ordinal i.
func (r *Rows) Bytes(i int) ([]byte, error) {
	v, err := r.cell(i)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w to []byte", ErrNullValue)
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("resultset: cell %d is %T, not []byte", i, v)
	}
	return b, nil
}

// Close releases the cursor. The underlying result set is shared and stays
// valid for other readers.
func (r *Rows) Close() error {
	r.closed = true
	return nil
}

// FieldValue returns the cell at ordinal i as T. The stored value is
// returned directly when it is already a T; otherwise a convertible numeric
// value is widened/narrowed via reflection. Null cells fail with
// ErrNullValue.
func FieldValue[T any](r *Rows, i int) (T, error) {
	var zero T
	v, err := r.cell(i)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, fmt.Errorf("%w to %T", ErrNullValue, zero)
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	want := reflect.TypeOf(zero)
	have := reflect.ValueOf(v)
	if want != nil && have.Type().ConvertibleTo(want) && isNumericKind(have.Kind()) && isNumericKind(want.Kind()) {
		return have.Convert(want).Interface().(T), nil
	}
	return zero, fmt.Errorf("resultset: cannot convert %T to %T", v, zero)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// DriverRows exposes the reader as a database/sql/driver.Rows so cached
// results can be fed back through any database/sql stack.
func (r *Rows) DriverRows() driver.Rows { return &driverRows{rows: r} }

type driverRows struct {
	rows *Rows
}

func (d *driverRows) Columns() []string {
	names := make([]string, len(d.rows.rs.Columns))
	for i, col := range d.rows.rs.Columns {
		names[i] = col.Name
	}
	return names
}

func (d *driverRows) Next(dest []driver.Value) error {
	if !d.rows.Next() {
		return io.EOF
	}
	for i := range dest {
		cell, err := d.rows.cell(i)
		if err != nil {
			return err
		}
		dest[i] = toDriverValue(cell)
	}
	return nil
}

func (d *driverRows) Close() error { return d.rows.Close() }

// toDriverValue narrows whitelisted scalars to the types driver.Value
// permits; nil stays nil, so database/sql reports the cell as NULL.
func toDriverValue(v any) driver.Value {
	switch val := v.(type) {
	case nil:
		return nil
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	case Char:
		return string(rune(val))
	case uuid.UUID:
		return val.String()
	case decimal.Decimal:
		return val.String()
	case time.Duration:
		return int64(val)
	default:
		return val
	}
}
