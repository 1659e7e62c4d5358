package bootstrap

import (
	"context"
	"fmt"

	"github.com/cassiomorais/dualwrite/internal/infrastructure/breaker"
	"github.com/cassiomorais/dualwrite/internal/infrastructure/config"
	"github.com/cassiomorais/dualwrite/internal/infrastructure/kafka"
	"github.com/cassiomorais/dualwrite/internal/infrastructure/nats"
	"github.com/cassiomorais/dualwrite/internal/infrastructure/observability"
	"github.com/cassiomorais/dualwrite/internal/infrastructure/rabbitmq"
	infraRedis "github.com/cassiomorais/dualwrite/internal/infrastructure/redis"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// channel is the messaging side of the dual write. matchers classify the
// transport's own errors as channel failures when they escape an attempt
// unwrapped, for example from a Verify hook; publish errors are always
// wrapped in *dualwrite.ChannelError and need no matcher.
type channel struct {
	producer dualwrite.Producer
	matchers []dualwrite.Matcher
	health   func(ctx context.Context) error
	close    func() error
}

func openChannel(ctx context.Context, cfg *config.Config, redisClient *redis.Client, metrics *observability.Metrics, logger zerolog.Logger) (*channel, error) {
	ch := &channel{close: func() error { return nil }}

	switch cfg.Broker.Kind {
	case config.BrokerRedis:
		ch.producer = infraRedis.NewStreamProducer(redisClient, cfg.Broker.RedisStream.MaxLen)

	case config.BrokerRabbitMQ:
		p, err := rabbitmq.Dial(ctx, cfg.Broker, logger)
		if err != nil {
			return nil, err
		}
		ch.producer, ch.health, ch.close = p, p.Healthy, p.Close
		ch.matchers = append(ch.matchers, rabbitmq.IsTransportError)

	case config.BrokerKafka:
		p := kafka.NewProducer(kafka.NewWriter(cfg.Broker.Kafka))
		ch.producer, ch.close = p, p.Close
		ch.matchers = append(ch.matchers, kafka.IsTransportError)

	case config.BrokerNATS:
		p, err := nats.Dial(ctx, cfg.Broker, []string{cfg.Broker.Topic}, logger)
		if err != nil {
			return nil, err
		}
		ch.producer, ch.health, ch.close = p, p.Healthy, p.Close
		ch.matchers = append(ch.matchers, nats.IsTransportError)

	default:
		return nil, fmt.Errorf("unsupported broker kind %q", cfg.Broker.Kind)
	}

	if cfg.Broker.CircuitBreaker.Enabled {
		ch.producer = breaker.New(ch.producer, cfg.Broker.CircuitBreaker, breaker.Options{
			Name:     cfg.Broker.Kind,
			Logger:   logger,
			State:    metrics.CircuitBreakerState,
			Requests: metrics.CircuitBreakerRequests,
		})
		ch.matchers = append(ch.matchers, breaker.IsOpen)
	}

	logger.Info().Str("kind", cfg.Broker.Kind).Bool("circuit_breaker", cfg.Broker.CircuitBreaker.Enabled).Msg("Broker ready")
	return ch, nil
}
