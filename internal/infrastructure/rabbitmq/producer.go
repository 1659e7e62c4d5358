// Package rabbitmq publishes dual-write messages to RabbitMQ with publisher
// confirms. A message counts as acknowledged when the broker confirms it.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cassiomorais/dualwrite/internal/infrastructure/config"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
	"github.com/cassiomorais/dualwrite/pkg/retry"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var (
	// ErrNacked is returned by Await when the broker rejected the message.
	ErrNacked = errors.New("rabbitmq: message nacked by broker")

	errNoConfirm = errors.New("rabbitmq: channel is not in confirm mode")
)

// confirmation is the part of *amqp.DeferredConfirmation the producer reads.
type confirmation interface {
	Done() <-chan struct{}
	Acked() bool
}

type publisher interface {
	publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (confirmation, error)
}

type channelPublisher struct {
	ch *amqp.Channel
}

func (p channelPublisher) publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (confirmation, error) {
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errNoConfirm
	}
	return dc, nil
}

// Producer routes each message to the exchange with the topic as routing key.
type Producer struct {
	pub      publisher
	exchange string
	healthy  atomic.Bool
	now      func() time.Time

	conn      *amqp.Connection
	channel   *amqp.Channel
	closeOnce sync.Once
	stop      chan struct{}
}

// Dial connects, opens a channel in confirm mode and declares the exchange if
// one is configured. Connecting is retried with backoff.
func Dial(ctx context.Context, cfg config.BrokerConfig, logger zerolog.Logger) (*Producer, error) {
	rc := retry.DefaultConfig()
	if cfg.ConnectRetries > 0 {
		rc.MaxAttempts = uint(cfg.ConnectRetries)
	}
	if cfg.ConnectRetryDelay > 0 {
		rc.InitialDelay = cfg.ConnectRetryDelay
	}
	rc.OnRetry = func(n uint, err error) {
		logger.Warn().Err(err).Uint("attempt", n+1).Msg("rabbitmq not reachable, retrying")
	}

	conn, err := retry.DoWithResult(ctx, rc, func() (*amqp.Connection, error) {
		return amqp.Dial(cfg.RabbitMQ.URL)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if cfg.RabbitMQ.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.RabbitMQ.Exchange, "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare exchange %q: %w", cfg.RabbitMQ.Exchange, err)
		}
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	p := newProducer(channelPublisher{ch: ch}, cfg.RabbitMQ.Exchange)
	p.conn = conn
	p.channel = ch
	p.watch(logger)

	logger.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("connected to RabbitMQ with publisher confirms")
	return p, nil
}

func newProducer(pub publisher, exchange string) *Producer {
	p := &Producer{pub: pub, exchange: exchange, now: time.Now, stop: make(chan struct{})}
	p.healthy.Store(true)
	return p
}

func (p *Producer) watch(logger zerolog.Logger) {
	connClosed := p.conn.NotifyClose(make(chan *amqp.Error, 1))
	chanClosed := p.channel.NotifyClose(make(chan *amqp.Error, 1))

	go func() {
		select {
		case err := <-connClosed:
			p.healthy.Store(false)
			logger.Warn().Err(err).Msg("RabbitMQ connection closed")
		case err := <-chanClosed:
			p.healthy.Store(false)
			logger.Warn().Err(err).Msg("RabbitMQ channel closed")
		case <-p.stop:
		}
	}()
}

func (p *Producer) Send(ctx context.Context, topic string, key, value []byte) (dualwrite.Future, error) {
	if !p.healthy.Load() {
		return nil, amqp.ErrClosed
	}

	dc, err := p.pub.publish(ctx, p.exchange, topic, amqp.Publishing{
		Headers:      amqp.Table{"message_key": string(key)},
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now(),
		Body:         value,
	})
	if err != nil {
		return nil, err
	}
	return confirmFuture{dc}, nil
}

// Healthy reports whether the connection and channel are still open.
func (p *Producer) Healthy(context.Context) error {
	if !p.healthy.Load() {
		return amqp.ErrClosed
	}
	return nil
}

func (p *Producer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.stop)
		p.healthy.Store(false)
		if p.channel != nil {
			err = p.channel.Close()
		}
		if p.conn != nil {
			err = errors.Join(err, p.conn.Close())
		}
	})
	return err
}

type confirmFuture struct {
	c confirmation
}

func (f confirmFuture) Await(ctx context.Context) error {
	select {
	case <-f.c.Done():
		if !f.c.Acked() {
			return ErrNacked
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsTransportError reports AMQP connection and channel errors. Register it
// with dualwrite.Classifier.With.
// Errors from Send and Await already reach the classifier as
// *dualwrite.ChannelError; this matters for transport errors raised outside
// the publish, such as a Verify hook that talks to the broker.
func IsTransportError(err error) bool {
	if errors.Is(err, amqp.ErrClosed) || errors.Is(err, ErrNacked) {
		return true
	}
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr)
}
