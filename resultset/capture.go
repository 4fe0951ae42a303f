package resultset

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTooManyRows is returned by Capture when the reader produced more rows
// than the configured limit. The partial result set returned alongside it
// holds the rows drained before the limit was hit so they can still be
// replayed to the caller; it must never be cached.
var ErrTooManyRows = errors.New("resultset: row limit exceeded")

// RowReader is the streaming contract the capture layer consumes from the
// database driver. FromSQLRows adapts a *sql.Rows; tests supply fakes.
type RowReader interface {
	// Schema returns the full column schema. Implementations should prefer
	// rich driver metadata (type names, nullability) and fall back to
	// names plus field count.
	Schema() ([]Column, error)
	// Next advances to the next row, reporting false when the reader is
	// exhausted. It observes ctx cancellation.
	Next(ctx context.Context) (bool, error)
	// Values fills dest with the current row's cells. Null cells must be
	// delivered as untyped nil.
	Values(dest []any) error
	// RecordsAffected returns the driver-reported row count, or -1.
	RecordsAffected() int64
	Close() error
}

// Capture drains reader into an immutable ResultSet, stopping after maxRows
// rows. The reader is closed on every exit path.
//
// When the reader yields more than maxRows rows, Capture stops reading,
// returns the rows drained so far and ErrTooManyRows; the caller replays
// those rows but must not admit the result to the cache. maxRows <= 0 means
// unlimited.
//
// Cells outside the storable scalar types are coerced to their fmt.Sprint
// string form so the result round-trips through the codec. The coercion is
// visible on the very first execution, not only on replay: readers backed
// by database/sql never produce such values, but a custom RowReader that
// does will see strings on both paths.
func Capture(ctx context.Context, reader RowReader, maxRows int) (*ResultSet, error) {
	defer reader.Close()

	columns, err := reader.Schema()
	if err != nil {
		return nil, fmt.Errorf("resultset: read schema: %w", err)
	}

	rs := &ResultSet{
		Columns:         columns,
		RecordsAffected: reader.RecordsAffected(),
		CapturedAt:      time.Now().UTC(),
	}

	overLimit := false
	for {
		ok, err := reader.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("resultset: advance row: %w", err)
		}
		if !ok {
			break
		}
		if maxRows > 0 && len(rs.Rows) >= maxRows {
			overLimit = true
			break
		}
		row := make([]any, len(columns))
		if err := reader.Values(row); err != nil {
			return nil, fmt.Errorf("resultset: read row: %w", err)
		}
		for i, cell := range row {
			if cell == nil {
				continue
			}
			if _, ok := classifyValue(cell); !ok {
				row[i] = fmt.Sprint(cell)
			}
		}
		rs.Rows = append(rs.Rows, row)
	}

	rs.SizeBytes = rs.EstimateSize()
	if overLimit {
		return rs, ErrTooManyRows
	}
	return rs, nil
}
