package dualwrite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultAckTimeout bounds the wait for a channel acknowledgment.
const DefaultAckTimeout = time.Second

const tracerName = "github.com/cassiomorais/dualwrite/pkg/dualwrite"

type options struct {
	logger     zerolog.Logger
	ackTimeout time.Duration
	metrics    *Metrics
	tracer     trace.Tracer
	classifier Classifier
}

// Option configures a Coordinator.
type Option func(*options)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithAckTimeout sets the acknowledgment bound. Non-positive values are ignored.
func WithAckTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ackTimeout = d
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithClassifier replaces the failure classifier, typically to recognise
// transport errors of a specific broker client.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		o.classifier = c
	}
}

// Coordinator executes dual writes. It holds no per-call state and is safe for
// concurrent use; every Execute gets its own attempt.
type Coordinator[E any, K Key, P any] struct {
	tx         TxManager
	producer   Producer
	codec      Codec[P]
	logger     zerolog.Logger
	ackTimeout time.Duration
	metrics    *Metrics
	tracer     trace.Tracer
	classifier Classifier
}

// New creates a Coordinator.
func New[E any, K Key, P any](tx TxManager, producer Producer, codec Codec[P], opts ...Option) *Coordinator[E, K, P] {
	o := options{
		logger:     zerolog.Nop(),
		ackTimeout: DefaultAckTimeout,
		classifier: NewClassifier(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	return &Coordinator[E, K, P]{
		tx:         tx,
		producer:   producer,
		codec:      codec,
		logger:     o.logger,
		ackTimeout: o.ackTimeout,
		metrics:    o.metrics,
		tracer:     o.tracer,
		classifier: o.classifier,
	}
}

var (
	// The outer scope only brackets compensation; the domain write has its own.
	outerScope = ScopeOptions{
		Propagation:       PropagationRequiresNew,
		NoRollbackOnError: true,
	}
	compensationScope = ScopeOptions{
		Propagation: PropagationNested,
		Isolation:   IsolationRepeatableRead,
	}
)

// Execute persists and publishes req. On failure it runs compensation and then
// returns the original error unchanged; a panic is re-raised with its original
// value once compensation has run. A *ConfigurationError is returned
// before any side effect if req is incomplete.
func (c *Coordinator[E, K, P]) Execute(ctx context.Context, req Request[E, K, P]) error {
	if err := req.Validate(); err != nil {
		return err
	}

	ctx, span := c.tracer.Start(ctx, "dualwrite.Execute", trace.WithAttributes(
		attribute.String("messaging.destination.name", req.Topic),
	))
	defer span.End()

	a := c.newAttempt(req)
	span.SetAttributes(attribute.String("dualwrite.attempt_id", a.id.String()))

	var (
		attemptErr error
		recovered  any
	)
	err := c.tx.WithScope(ctx, outerScope, func(ctx context.Context, _ Scope) error {
		recovered, attemptErr = c.runAttempt(ctx, a)
		if attemptErr != nil {
			c.handleFailure(ctx, a, attemptErr)
		}
		return attemptErr
	})

	if attemptErr != nil {
		span.RecordError(attemptErr)
		span.SetStatus(codes.Error, "dual write failed")
		c.metrics.attempt(req.Topic, "failed")
		if recovered != nil {
			panic(recovered)
		}
		return attemptErr
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "outer scope failed")
		c.metrics.attempt(req.Topic, "failed")
		return fmt.Errorf("dualwrite outer scope: %w", err)
	}

	c.metrics.attempt(req.Topic, "published")
	a.logger.Debug().Msg("dual write committed")
	return nil
}

// runAttempt turns a panic inside the attempt into a *PanicError so that
// compensation still runs. The attempt scope has already rolled back by then.
func (c *Coordinator[E, K, P]) runAttempt(ctx context.Context, a *attempt[E, K, P]) (recovered any, err error) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
			err = &PanicError{Value: r}
		}
	}()
	return nil, a.execute(ctx)
}

// newAttempt always builds a fresh attempt; state from earlier calls must
// never reach a later classification.
func (c *Coordinator[E, K, P]) newAttempt(req Request[E, K, P]) *attempt[E, K, P] {
	id := uuid.New()
	return &attempt[E, K, P]{
		id:   id,
		req:  req,
		deps: c,
		logger: c.logger.With().
			Str("attempt_id", id.String()).
			Str("topic", req.Topic).
			Str("key", string(req.Key)).
			Logger(),
	}
}

// handleFailure classifies cause and sends a correction when the message was
// acknowledged but the attempt failed for a reason other than the channel.
// It never returns an error; the caller re-raises cause.
func (c *Coordinator[E, K, P]) handleFailure(ctx context.Context, a *attempt[E, K, P], cause error) {
	class := c.classifier.Classify(cause)
	c.metrics.failure(a.req.Topic, class)
	a.logger.Error().Err(cause).Stringer("class", class).Bool("published", a.state.Published).
		Msg("rolling back dual write")

	classify := func() {
		if class == OtherFailure {
			a.state.NeedsCorrection = true
		}
	}
	finalized := false
	finalize := func(ctx context.Context) {
		finalized = true
		if a.state.Published && a.state.NeedsCorrection {
			_ = a.sendCorrection(ctx)
		}
	}

	err := c.tx.WithScope(ctx, compensationScope, func(ctx context.Context, _ Scope) error {
		defer finalize(ctx)
		classify()
		return nil
	})
	if err != nil {
		a.logger.Warn().Err(err).Msg("compensation scope failed")
	}
	if !finalized {
		classify()
		finalize(ctx)
	}
}
