package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
)

type fakeResult struct{ rows int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, v := range r.values {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

type call struct {
	query string
	args  []any
}

// fakeDB records every statement, on the pool or on a transaction, into log.
type fakeDB struct {
	log      []string
	execs    []call
	queries  []call
	rows     []fakeRow
	stale    bool
	execErr  error
	failSQL  string

	begun     []*sql.TxOptions
	commitErr error
}

func (d *fakeDB) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	d.execs = append(d.execs, call{query, args})
	if d.failSQL != "" && strings.HasPrefix(query, d.failSQL) {
		return nil, fmt.Errorf("%s refused", d.failSQL)
	}
	if d.execErr != nil {
		return nil, d.execErr
	}
	if d.stale {
		return fakeResult{rows: 0}, nil
	}
	return fakeResult{rows: 1}, nil
}

func (d *fakeDB) QueryRowContext(_ context.Context, query string, args ...any) Row {
	d.queries = append(d.queries, call{query, args})
	if len(d.rows) == 0 {
		return fakeRow{err: sql.ErrNoRows}
	}
	r := d.rows[0]
	d.rows = d.rows[1:]
	return r
}

func (d *fakeDB) BeginTx(_ context.Context, opts *sql.TxOptions) (Tx, error) {
	d.begun = append(d.begun, opts)
	name := fmt.Sprintf("tx%d", len(d.begun))
	d.log = append(d.log, "begin "+name)
	return &fakeTx{name: name, db: d}, nil
}

type fakeTx struct {
	name string
	db   *fakeDB
}

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	t.db.log = append(t.db.log, t.name+": "+query)
	return t.db.ExecContext(ctx, query, args...)
}

func (t *fakeTx) QueryRowContext(ctx context.Context, query string, args ...any) Row {
	return t.db.QueryRowContext(ctx, query, args...)
}

func (t *fakeTx) Commit() error {
	t.db.log = append(t.db.log, "commit "+t.name)
	return t.db.commitErr
}

func (t *fakeTx) Rollback() error {
	t.db.log = append(t.db.log, "rollback "+t.name)
	return nil
}
