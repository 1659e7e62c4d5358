// Package breaker guards a dualwrite.Producer with a circuit breaker so a dead
// broker fails sends fast instead of holding every request for the full
// acknowledgment bound.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/cassiomorais/dualwrite/internal/infrastructure/config"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// settleTimeout bounds how long a send is tracked before it counts as failed.
const settleTimeout = 30 * time.Second

// ErrNoFuture is returned when the wrapped producer reports success without a
// future to await. The send counts as a failure.
var ErrNoFuture = errors.New("breaker: producer returned no future")

// Producer counts a send as successful only once its future resolves without
// error. Sends are tracked whether or not the caller awaits them.
type Producer struct {
	next dualwrite.Producer
	cb   *gobreaker.TwoStepCircuitBreaker[struct{}]
}

type Options struct {
	Name   string
	Logger zerolog.Logger
	// State and Requests are optional; they are labelled by Name.
	State    *prometheus.GaugeVec
	Requests *prometheus.CounterVec
}

func New(next dualwrite.Producer, cfg config.CircuitBreakerConfig, opts Options) *Producer {
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = 5
	}

	if opts.State != nil {
		opts.State.WithLabelValues(opts.Name).Set(stateValue(gobreaker.StateClosed))
	}

	settings := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			opts.Logger.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).
				Msg("circuit breaker state changed")
			if opts.State != nil {
				opts.State.WithLabelValues(name).Set(stateValue(to))
			}
		},
	}

	p := &Producer{next: next, cb: gobreaker.NewTwoStepCircuitBreaker[struct{}](settings)}
	if opts.Requests != nil {
		p.next = countingProducer{next: next, name: opts.Name, requests: opts.Requests}
	}
	return p
}

func (p *Producer) Send(ctx context.Context, topic string, key, value []byte) (dualwrite.Future, error) {
	done, err := p.cb.Allow()
	if err != nil {
		return nil, err
	}

	fut, err := p.next.Send(ctx, topic, key, value)
	if err == nil && fut == nil {
		err = ErrNoFuture
	}
	if err != nil {
		done(false)
		return nil, err
	}

	settled := dualwrite.NewPromise()
	go func() {
		settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
		defer cancel()
		err := fut.Await(settleCtx)
		done(err == nil)
		settled.Resolve(err)
	}()
	return settled, nil
}

// State returns the current breaker state.
func (p *Producer) State() gobreaker.State {
	return p.cb.State()
}

// IsOpen reports errors returned while the breaker rejects sends. Register it
// with dualwrite.Classifier.With. A rejected Send inside a dual write is
// already a *dualwrite.ChannelError; IsOpen covers callers that share the
// breaker outside the publish path.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

type countingProducer struct {
	next     dualwrite.Producer
	name     string
	requests *prometheus.CounterVec
}

func (c countingProducer) Send(ctx context.Context, topic string, key, value []byte) (dualwrite.Future, error) {
	fut, err := c.next.Send(ctx, topic, key, value)
	result := "success"
	if err != nil || fut == nil {
		result = "failure"
	}
	c.requests.WithLabelValues(c.name, result).Inc()
	return fut, err
}
