// Package pgxtest provides hand-written pgx doubles for repository tests.
package pgxtest

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SimpleRow is a pgx.Row driven by a scan function. A nil function behaves
// like an empty result.
type SimpleRow struct {
	scan func(dest ...any) error
}

func NewSimpleRow(scanner func(dest ...any) error) SimpleRow {
	return SimpleRow{scan: scanner}
}

func (r SimpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

// ValuesRow scans fixed values into destinations by reflection.
func ValuesRow(values ...any) SimpleRow {
	return NewSimpleRow(func(dest ...any) error { return assign(dest, values) })
}

// TestRowsBase fills in the pgx.Rows methods tests never need.
type TestRowsBase struct{}

func (TestRowsBase) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (TestRowsBase) Conn() *pgx.Conn { return nil }

func (TestRowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (TestRowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (TestRowsBase) RawValues() [][]byte { return nil }

// SliceRows iterates over in-memory records.
type SliceRows struct {
	TestRowsBase
	records [][]any
	pos     int
	err     error
	closed  bool
}

func NewSliceRows(records ...[]any) *SliceRows {
	return &SliceRows{records: records, pos: -1}
}

func (r *SliceRows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	r.pos++
	if r.pos >= len(r.records) {
		r.closed = true
		return false
	}
	return true
}

func (r *SliceRows) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.records) {
		return fmt.Errorf("scan called without a current row")
	}
	return assign(dest, r.records[r.pos])
}

func (r *SliceRows) Err() error { return r.err }

func (r *SliceRows) Close() { r.closed = true }

// Call is one recorded statement.
type Call struct {
	Query string
	Args  []any
}

// Executor records statements and answers them from the configured hooks.
type Executor struct {
	Calls    []Call
	ExecErr  error
	Rows     int64
	RowFunc  func(query string, args []any) pgx.Row
	RowsFunc func(query string, args []any) (pgx.Rows, error)
}

func (e *Executor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	e.Calls = append(e.Calls, Call{Query: query, Args: args})
	if e.ExecErr != nil {
		return pgconn.CommandTag{}, e.ExecErr
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", e.Rows)), nil
}

func (e *Executor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	e.Calls = append(e.Calls, Call{Query: query, Args: args})
	if e.RowFunc == nil {
		return SimpleRow{}
	}
	return e.RowFunc(query, args)
}

func (e *Executor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	e.Calls = append(e.Calls, Call{Query: query, Args: args})
	if e.RowsFunc == nil {
		return NewSliceRows(), nil
	}
	return e.RowsFunc(query, args)
}

func assign(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		target := dv.Elem()
		if values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		switch {
		case v.Type().AssignableTo(target.Type()):
			target.Set(v)
		case v.Type().ConvertibleTo(target.Type()):
			target.Set(v.Convert(target.Type()))
		default:
			return fmt.Errorf("scan: cannot assign %T to %s", values[i], target.Type())
		}
	}
	return nil
}
