package dualwrite

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAckTimeout reports that the channel did not acknowledge a message within
	// the bound. The message may still be accepted later.
	ErrAckTimeout = errors.New("dualwrite: acknowledgment not observed within bound")

	// ErrNotConfigured is matched by every *ConfigurationError.
	ErrNotConfigured = errors.New("dualwrite: request not configured")

	// ErrRollbackOnly is returned by a TxManager when a scope marked rollback-only
	// is asked to commit.
	ErrRollbackOnly = errors.New("dualwrite: scope marked rollback-only")

	errNilFuture = errors.New("producer returned no future")
)

// Channel operations reported by ChannelError.
const (
	OpSend  = "send"
	OpAwait = "await"
)

// ConfigurationError reports request fields that were never set. It is raised
// before any side effect.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) == 0 {
		return ErrNotConfigured.Error()
	}
	return fmt.Sprintf("%s: missing %s", ErrNotConfigured, strings.Join(e.Missing, ", "))
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrNotConfigured
}

// ChannelError is a transport-level failure of the message channel: the send was
// refused, the broker rejected the message, or the acknowledgment wait expired.
type ChannelError struct {
	Op    string
	Topic string
	Err   error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s to %q: %v", e.Op, e.Topic, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// NewChannelError lets adapters mark their own errors as channel failures.
func NewChannelError(op, topic string, err error) *ChannelError {
	return &ChannelError{Op: op, Topic: topic, Err: err}
}

// PanicError carries a panic raised inside an attempt while compensation runs.
// Execute re-panics with Value afterwards.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("dualwrite: attempt panicked: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
