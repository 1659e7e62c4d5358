package dualwrite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
)

// AttemptState is the mutable state of a single attempt. It is never shared
// between calls.
type AttemptState struct {
	// Published is set once the channel acknowledged the message in time.
	Published bool
	// NeedsCorrection is set when the failure was not caused by the channel.
	NeedsCorrection bool
}

// attempt runs one persist-then-publish cycle for one request.
type attempt[E any, K Key, P any] struct {
	id     uuid.UUID
	req    Request[E, K, P]
	deps   *Coordinator[E, K, P]
	logger zerolog.Logger
	state  AttemptState
}

var attemptScope = ScopeOptions{
	Propagation: PropagationRequiresNew,
	Isolation:   IsolationRepeatableRead,
}

func (a *attempt[E, K, P]) execute(ctx context.Context) error {
	ctx, span := a.deps.tracer.Start(ctx, "dualwrite.attempt")
	defer span.End()

	err := a.deps.tx.WithScope(ctx, attemptScope, func(ctx context.Context, scope Scope) error {
		entity, err := a.req.Persist(ctx)
		if err != nil {
			return err
		}

		if err := a.publish(ctx, entity); err != nil {
			a.logger.Error().Err(err).Msg("publish failed, rolling back persisted write")
			scope.SetRollbackOnly()
			return err
		}
		a.state.Published = true

		if a.req.Verify != nil {
			return a.req.Verify(ctx, entity)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt failed")
	}
	return err
}

func (a *attempt[E, K, P]) publish(ctx context.Context, entity E) error {
	value, err := a.encode(entity)
	if err != nil {
		return err
	}

	fut, err := a.deps.producer.Send(ctx, a.req.Topic, []byte(a.req.Key), value)
	if err == nil && fut == nil {
		err = errNilFuture
	}
	if err != nil {
		return &ChannelError{Op: OpSend, Topic: a.req.Topic, Err: err}
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.deps.ackTimeout)
	defer cancel()

	start := time.Now()
	err = fut.Await(waitCtx)
	a.deps.metrics.ackWait(a.req.Topic, time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrAckTimeout, a.deps.ackTimeout, err)
		}
		return &ChannelError{Op: OpAwait, Topic: a.req.Topic, Err: err}
	}
	return nil
}

func (a *attempt[E, K, P]) encode(entity E) ([]byte, error) {
	msg, err := a.req.Mapper(entity)
	if err != nil {
		return nil, fmt.Errorf("map entity: %w", err)
	}
	value, err := a.deps.codec.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return value, nil
}

// sendCorrection publishes the compensating message without waiting for an
// acknowledgment and without a transactional scope of its own. The error is
// returned for inspection only; it has already been logged.
func (a *attempt[E, K, P]) sendCorrection(ctx context.Context) (err error) {
	ctx, span := a.deps.tracer.Start(ctx, "dualwrite.correction")
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("correction panicked: %v", p)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "correction failed")
			a.deps.metrics.correction(a.req.Topic, "failed")
			a.logger.Warn().Err(err).Msg("correction message not sent")
			return
		}
		a.deps.metrics.correction(a.req.Topic, "sent")
		a.logger.Warn().Msg("correction message sent")
	}()

	if err := a.req.Validate(); err != nil {
		return err
	}

	entity, err := a.req.Correction(ctx)
	if err != nil {
		return fmt.Errorf("load correction record: %w", err)
	}
	value, err := a.encode(entity)
	if err != nil {
		return err
	}
	if _, err := a.deps.producer.Send(context.WithoutCancel(ctx), a.req.Topic, []byte(a.req.Key), value); err != nil {
		return &ChannelError{Op: OpSend, Topic: a.req.Topic, Err: err}
	}
	return nil
}
