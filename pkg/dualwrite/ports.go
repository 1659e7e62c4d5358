package dualwrite

import "context"

// Propagation selects how a scope relates to the one already open in the context.
type Propagation int

const (
	// PropagationRequired joins the current scope, or begins one if none is open.
	PropagationRequired Propagation = iota
	// PropagationRequiresNew always begins an independent transaction.
	PropagationRequiresNew
	// PropagationNested opens a savepoint inside the current scope. Rolling it
	// back does not roll back the enclosing scope. Without a current scope it
	// behaves like PropagationRequiresNew.
	PropagationNested
)

func (p Propagation) String() string {
	switch p {
	case PropagationRequired:
		return "required"
	case PropagationRequiresNew:
		return "requires_new"
	case PropagationNested:
		return "nested"
	default:
		return "unknown"
	}
}

// Isolation is the transaction isolation level requested for a scope.
type Isolation int

const (
	IsolationDefault Isolation = iota
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

func (i Isolation) String() string {
	switch i {
	case IsolationDefault:
		return "default"
	case IsolationReadCommitted:
		return "read_committed"
	case IsolationRepeatableRead:
		return "repeatable_read"
	case IsolationSerializable:
		return "serializable"
	default:
		return "unknown"
	}
}

// ScopeOptions configures a transactional scope.
type ScopeOptions struct {
	Propagation Propagation
	Isolation   Isolation
	// NoRollbackOnError commits the scope even when fn returns an error, unless the
	// scope was marked rollback-only. The error is still returned.
	NoRollbackOnError bool
}

// Scope is the handle to an open transactional scope.
type Scope interface {
	// SetRollbackOnly flags the scope so that it cannot commit.
	SetRollbackOnly()
	IsRollbackOnly() bool
}

// TxManager opens transactional scopes.
//
// WithScope runs fn inside a scope and commits or rolls it back on every exit
// path. The context passed to fn carries the scope so that repositories can join
// it. A panic in fn rolls the scope back and is re-raised. If fn returns nil but
// the scope was marked rollback-only, WithScope rolls back and returns
// ErrRollbackOnly.
type TxManager interface {
	WithScope(ctx context.Context, opts ScopeOptions, fn func(ctx context.Context, scope Scope) error) error
}

// Producer submits messages to a channel asynchronously.
//
// Send must not block on the broker's acknowledgment; it returns a Future that
// resolves when the channel confirms or rejects the message. A non-nil error
// means the message was not submitted.
type Producer interface {
	Send(ctx context.Context, topic string, key, value []byte) (Future, error)
}

// Future is the pending acknowledgment of a sent message.
type Future interface {
	// Await blocks until the message is acknowledged (nil), rejected (error) or
	// ctx is done (ctx.Err()).
	Await(ctx context.Context) error
}
