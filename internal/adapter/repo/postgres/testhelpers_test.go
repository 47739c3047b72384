package postgres_test

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowsStub implements pgx.Rows over in-memory decoded values.
type rowsStub struct {
	fields  []pgconn.FieldDescription
	values  [][]any
	idx     int
	err     error
	valsErr error
	closed  bool
}

func (r *rowsStub) Close()                                       { r.closed = true }
func (r *rowsStub) Err() error                                   { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *rowsStub) RawValues() [][]byte                          { return nil }
func (r *rowsStub) Conn() *pgx.Conn                              { return nil }
func (r *rowsStub) Scan(_ ...any) error                          { return nil }

func (r *rowsStub) Next() bool {
	if r.idx >= len(r.values) {
		return false
	}
	r.idx++
	return true
}

func (r *rowsStub) Values() ([]any, error) {
	if r.valsErr != nil {
		return nil, r.valsErr
	}
	return r.values[r.idx-1], nil
}

// querierStub implements postgres.PgxQuerier and records the last call.
type querierStub struct {
	rows     *rowsStub
	queryErr error
	lastSQL  string
	lastArgs []any
}

func (q *querierStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.lastSQL = sql
	q.lastArgs = args
	if q.queryErr != nil {
		return nil, q.queryErr
	}
	return q.rows, nil
}

func field(name string, oid uint32) pgconn.FieldDescription {
	return pgconn.FieldDescription{Name: name, DataTypeOID: oid}
}
