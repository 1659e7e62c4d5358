package postgres

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// fakeTx embeds pgx.Tx so unimplemented methods panic if reached.
type fakeTx struct {
	pgx.Tx
	name      string
	j         *journal
	commitErr error
	savepoint int
	db        *fakeDB
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	t.savepoint++
	child := &fakeTx{name: fmt.Sprintf("%s/sp%d", t.name, t.savepoint), j: t.j, db: t.db}
	t.j.add("savepoint %s", child.name)
	return child, nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.j.add("commit %s", t.name)
	return t.commitErr
}

func (t *fakeTx) Rollback(context.Context) error {
	t.j.add("rollback %s", t.name)
	return nil
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.j.add("exec %s", t.name)
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

type fakeBeginner struct {
	j         *journal
	n         int
	opts      []pgx.TxOptions
	commitErr error
	db        *fakeDB
}

func newFakeBeginner() *fakeBeginner {
	return &fakeBeginner{j: &journal{}, db: &fakeDB{}}
}

func (b *fakeBeginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.n++
	b.opts = append(b.opts, opts)
	tx := &fakeTx{name: fmt.Sprintf("tx%d", b.n), j: b.j, commitErr: b.commitErr, db: b.db}
	b.j.add("begin %s %s", tx.name, opts.IsoLevel)
	return tx, nil
}

type execCall struct {
	sql  string
	args []any
}

// fakeDB answers QueryRow from a queue of rows and Exec with a fixed tag.
type fakeDB struct {
	mu      sync.Mutex
	rows    []fakeRow
	execs   []execCall
	queries []execCall
	tag     string
	execErr error
}

func (d *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("not implemented")
}

func (d *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, execCall{sql, args})
	if len(d.rows) == 0 {
		return fakeRow{err: pgx.ErrNoRows}
	}
	r := d.rows[0]
	d.rows = d.rows[1:]
	return r
}

func (d *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execs = append(d.execs, execCall{sql, args})
	tag := d.tag
	if tag == "" {
		tag = "INSERT 0 1"
	}
	return pgconn.NewCommandTag(tag), d.execErr
}

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
