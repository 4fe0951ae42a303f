package resultset

import (
	"context"
	"database/sql"
)

// sqlRowReader adapts a live *sql.Rows to the RowReader contract.
type sqlRowReader struct {
	rows    *sql.Rows
	columns []Column
}

// FromSQLRows wraps a *sql.Rows so it can be captured. The schema is built
// from ColumnTypes when the driver provides them, falling back to bare
// column names.
func FromSQLRows(rows *sql.Rows) RowReader {
	return &sqlRowReader{rows: rows}
}

func (r *sqlRowReader) Schema() ([]Column, error) {
	if r.columns != nil {
		return r.columns, nil
	}
	types, err := r.rows.ColumnTypes()
	if err == nil && len(types) > 0 {
		cols := make([]Column, len(types))
		for i, ct := range types {
			nullable, _ := ct.Nullable()
			cols[i] = Column{
				Name:         ct.Name(),
				Ordinal:      i,
				DatabaseType: ct.DatabaseTypeName(),
				Nullable:     nullable,
			}
		}
		r.columns = cols
		return cols, nil
	}
	names, err := r.rows.Columns()
	if err != nil {
		return nil, err
	}
	cols := make([]Column, len(names))
	for i, name := range names {
		cols[i] = Column{Name: name, Ordinal: i, Nullable: true}
	}
	r.columns = cols
	return cols, nil
}

func (r *sqlRowReader) Next(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if r.rows.Next() {
		return true, nil
	}
	return false, r.rows.Err()
}

func (r *sqlRowReader) Values(dest []any) error {
	ptrs := make([]any, len(dest))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return err
	}
	// database/sql reuses []byte buffers between rows; the captured result
	// set outlives the reader, so copy them out.
	for i, v := range dest {
		if b, ok := v.([]byte); ok {
			dest[i] = append([]byte(nil), b...)
		}
	}
	return nil
}

// RecordsAffected is unknown for a streaming query.
func (r *sqlRowReader) RecordsAffected() int64 { return -1 }

func (r *sqlRowReader) Close() error { return r.rows.Close() }
