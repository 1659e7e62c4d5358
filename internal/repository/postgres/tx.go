package postgres

import (
	"context"
	"fmt"

	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// ctxKey is an unexported type for context keys in this package.
type ctxKey int

const txKey ctxKey = iota

// DBTX is the common query interface satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Beginner starts top-level transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// TxManager implements dualwrite.TxManager on pgx. The active transaction
// travels in the context; nested scopes become savepoints.
type TxManager struct {
	db     Beginner
	logger zerolog.Logger
}

// NewTxManager creates a new transaction manager.
func NewTxManager(db Beginner, logger zerolog.Logger) *TxManager {
	return &TxManager{db: db, logger: logger}
}

type scope struct {
	tx           pgx.Tx
	rollbackOnly bool
}

func (s *scope) SetRollbackOnly()     { s.rollbackOnly = true }
func (s *scope) IsRollbackOnly() bool { return s.rollbackOnly }

func (m *TxManager) WithScope(ctx context.Context, opts dualwrite.ScopeOptions, fn func(ctx context.Context, scope dualwrite.Scope) error) (err error) {
	current, _ := ctx.Value(txKey).(*scope)

	var tx pgx.Tx
	switch {
	case opts.Propagation == dualwrite.PropagationRequired && current != nil:
		return fn(ctx, current)
	case opts.Propagation == dualwrite.PropagationNested && current != nil:
		tx, err = current.tx.Begin(ctx)
		if err != nil {
			return fmt.Errorf("create savepoint: %w", err)
		}
	default:
		tx, err = m.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: isoLevel(opts.Isolation)})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
	}

	sc := &scope{tx: tx}
	defer func() {
		if p := recover(); p != nil {
			m.rollback(ctx, tx, "panic")
			panic(p)
		}
	}()

	fnErr := fn(context.WithValue(ctx, txKey, sc), sc)

	if sc.rollbackOnly || (fnErr != nil && !opts.NoRollbackOnError) {
		m.rollback(ctx, tx, "error")
		if fnErr == nil {
			return dualwrite.ErrRollbackOnly
		}
		return fnErr
	}

	if err := tx.Commit(ctx); err != nil {
		if fnErr != nil {
			m.logger.Error().Err(err).AnErr("cause", fnErr).Msg("commit failed after error")
			return fnErr
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return fnErr
}

// rollback runs on a context detached from ctx so a cancelled request still
// releases the transaction.
func (m *TxManager) rollback(ctx context.Context, tx pgx.Tx, reason string) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		m.logger.Error().Err(err).Str("reason", reason).Msg("rollback failed")
	}
}

func isoLevel(i dualwrite.Isolation) pgx.TxIsoLevel {
	switch i {
	case dualwrite.IsolationReadCommitted:
		return pgx.ReadCommitted
	case dualwrite.IsolationRepeatableRead:
		return pgx.RepeatableRead
	case dualwrite.IsolationSerializable:
		return pgx.Serializable
	default:
		return ""
	}
}

// ConnFromCtx returns the transaction from context if present, otherwise fallback.
func ConnFromCtx(ctx context.Context, fallback DBTX) DBTX {
	if sc, ok := ctx.Value(txKey).(*scope); ok {
		return sc.tx
	}
	return fallback
}
