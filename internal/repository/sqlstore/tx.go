package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
	"github.com/rs/zerolog"
)

type ctxKey int

const txKey ctxKey = iota

// TxManager implements dualwrite.TxManager on database/sql. Nested scopes are
// issued as SAVEPOINT statements on the enclosing transaction.
type TxManager struct {
	db     DB
	logger zerolog.Logger
}

func NewTxManager(db DB, logger zerolog.Logger) *TxManager {
	return &TxManager{db: db, logger: logger}
}

type scope struct {
	tx           Tx
	savepoint    string
	seq          *int
	rollbackOnly bool
}

func (s *scope) SetRollbackOnly()     { s.rollbackOnly = true }
func (s *scope) IsRollbackOnly() bool { return s.rollbackOnly }

func (m *TxManager) WithScope(ctx context.Context, opts dualwrite.ScopeOptions, fn func(ctx context.Context, scope dualwrite.Scope) error) error {
	current, _ := ctx.Value(txKey).(*scope)

	switch {
	case opts.Propagation == dualwrite.PropagationRequired && current != nil:
		return fn(ctx, current)
	case opts.Propagation == dualwrite.PropagationNested && current != nil:
		return m.withSavepoint(ctx, current, opts, fn)
	}

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: isolationLevel(opts.Isolation)})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	sc := &scope{tx: tx, seq: new(int)}

	defer func() {
		if p := recover(); p != nil {
			m.logRollback(tx.Rollback(), "panic")
			panic(p)
		}
	}()

	fnErr := fn(context.WithValue(ctx, txKey, sc), sc)

	if sc.rollbackOnly || (fnErr != nil && !opts.NoRollbackOnError) {
		m.logRollback(tx.Rollback(), "error")
		if fnErr == nil {
			return dualwrite.ErrRollbackOnly
		}
		return fnErr
	}

	if err := tx.Commit(); err != nil {
		if fnErr != nil {
			m.logger.Error().Err(err).AnErr("cause", fnErr).Msg("commit failed after error")
			return fnErr
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return fnErr
}

func (m *TxManager) withSavepoint(ctx context.Context, parent *scope, opts dualwrite.ScopeOptions, fn func(ctx context.Context, scope dualwrite.Scope) error) error {
	*parent.seq++
	name := fmt.Sprintf("dualwrite_sp_%d", *parent.seq)
	if _, err := parent.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}
	sc := &scope{tx: parent.tx, savepoint: name, seq: parent.seq}

	rollback := func(reason string) {
		_, err := parent.tx.ExecContext(context.WithoutCancel(ctx), "ROLLBACK TO SAVEPOINT "+name)
		m.logRollback(err, reason)
	}

	defer func() {
		if p := recover(); p != nil {
			rollback("panic")
			panic(p)
		}
	}()

	fnErr := fn(context.WithValue(ctx, txKey, sc), sc)

	if sc.rollbackOnly || (fnErr != nil && !opts.NoRollbackOnError) {
		rollback("error")
		if fnErr == nil {
			return dualwrite.ErrRollbackOnly
		}
		return fnErr
	}

	if _, err := parent.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		if fnErr != nil {
			return fnErr
		}
		return fmt.Errorf("release savepoint: %w", err)
	}
	return fnErr
}

func (m *TxManager) logRollback(err error, reason string) {
	if err != nil {
		m.logger.Error().Err(err).Str("reason", reason).Msg("rollback failed")
	}
}

func isolationLevel(i dualwrite.Isolation) sql.IsolationLevel {
	switch i {
	case dualwrite.IsolationReadCommitted:
		return sql.LevelReadCommitted
	case dualwrite.IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case dualwrite.IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

// ConnFromCtx returns the transaction of the scope in ctx, otherwise fallback.
func ConnFromCtx(ctx context.Context, fallback Queryer) Queryer {
	if sc, ok := ctx.Value(txKey).(*scope); ok {
		return sc.tx
	}
	return fallback
}
