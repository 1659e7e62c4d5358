// Package nats publishes dual-write messages to JetStream. The publish
// acknowledgment from the stream is the acknowledgment the coordinator waits on.
package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/cassiomorais/dualwrite/internal/infrastructure/config"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
	"github.com/cassiomorais/dualwrite/pkg/retry"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// AsyncPublisher is the subset of nats.JetStreamContext the producer needs.
type AsyncPublisher interface {
	PublishMsgAsync(m *nats.Msg, opts ...nats.PubOpt) (nats.PubAckFuture, error)
}

type Producer struct {
	js   AsyncPublisher
	conn *nats.Conn
}

// Dial connects with retries and makes sure a stream captures the given
// subjects.
func Dial(ctx context.Context, cfg config.BrokerConfig, subjects []string, logger zerolog.Logger) (*Producer, error) {
	rc := retry.DefaultConfig()
	if cfg.ConnectRetries > 0 {
		rc.MaxAttempts = uint(cfg.ConnectRetries)
	}
	if cfg.ConnectRetryDelay > 0 {
		rc.InitialDelay = cfg.ConnectRetryDelay
	}
	rc.OnRetry = func(n uint, err error) {
		logger.Warn().Err(err).Uint("attempt", n+1).Msg("nats not reachable, retrying")
	}

	nc, err := retry.DoWithResult(ctx, rc, func() (*nats.Conn, error) {
		return nats.Connect(cfg.NATS.URL,
			nats.Name("dualwrite"),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn().Err(err).Msg("nats disconnected")
			}),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.NATS.Stream); errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{Name: cfg.NATS.Stream, Subjects: subjects})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream %q: %w", cfg.NATS.Stream, err)
		}
		logger.Info().Str("stream", cfg.NATS.Stream).Strs("subjects", subjects).Msg("created JetStream stream")
	} else if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to look up stream %q: %w", cfg.NATS.Stream, err)
	}

	return &Producer{js: js, conn: nc}, nil
}

func NewProducer(js AsyncPublisher) *Producer {
	return &Producer{js: js}
}

func (p *Producer) Send(_ context.Context, topic string, key, value []byte) (dualwrite.Future, error) {
	msg := nats.NewMsg(topic)
	msg.Data = value
	msg.Header.Set("Message-Key", string(key))

	paf, err := p.js.PublishMsgAsync(msg)
	if err != nil {
		return nil, err
	}
	return ackFuture{paf}, nil
}

// Healthy reports whether the underlying connection is up.
func (p *Producer) Healthy(context.Context) error {
	if p.conn != nil && !p.conn.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return nil
}

func (p *Producer) Close() error {
	if p.conn != nil {
		return p.conn.Drain()
	}
	return nil
}

type ackFuture struct {
	paf nats.PubAckFuture
}

func (f ackFuture) Await(ctx context.Context) error {
	select {
	case <-f.paf.Ok():
		return nil
	case err := <-f.paf.Err():
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsTransportError reports NATS connection and JetStream availability errors.
// Register it with dualwrite.Classifier.With.
// Errors from Send and Await already reach the classifier as
// *dualwrite.ChannelError; this matters for transport errors raised outside
// the publish, such as a Verify hook that talks to the broker.
func IsTransportError(err error) bool {
	for _, target := range []error{
		nats.ErrTimeout,
		nats.ErrConnectionClosed,
		nats.ErrNoResponders,
		nats.ErrNoStreamResponse,
		nats.ErrJetStreamNotEnabled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
