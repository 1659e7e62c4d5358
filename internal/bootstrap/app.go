package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cassiomorais/dualwrite/internal/controller"
	"github.com/cassiomorais/dualwrite/internal/events"
	"github.com/cassiomorais/dualwrite/internal/infrastructure/config"
	"github.com/cassiomorais/dualwrite/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/dualwrite/internal/infrastructure/redis"
	"github.com/cassiomorais/dualwrite/internal/service"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
	"github.com/cassiomorais/dualwrite/pkg/saga"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

// App holds everything the API process is wired from. Resources opened by New
// are released by Close in reverse order.
type App struct {
	Config       *config.Config
	Logger       zerolog.Logger
	Metrics      *observability.Metrics
	Accounts     *service.AccountService
	HealthChecks []controller.HealthCheck

	resources *saga.Saga
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, cfg.InstanceID, os.Stdout)
	logger.Info().Str("service", serviceName).Str("driver", cfg.Database.Driver).Str("broker", cfg.Broker.Kind).Msg("Starting")

	metrics := observability.NewMetrics(metricsNamespace, nil)

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		resources: saga.New("startup"),
	}

	var (
		shutdownTracer func(context.Context) error
		st             *store
		redisClient    *redis.Client
		ch             *channel
	)

	app.resources.
		AddStep(saga.Step{
			Name: "tracer",
			Execute: func(ctx context.Context) error {
				shutdownTracer, err = observability.InitTracer(cfg.Observability.EnableTracing,
					cfg.Observability.JaegerEndpoint, serviceName, cfg.InstanceID)
				if err != nil {
					logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
					shutdownTracer = nil
				}
				return nil
			},
			Compensate: func(ctx context.Context) error {
				if shutdownTracer == nil {
					return nil
				}
				return shutdownTracer(ctx)
			},
		}).
		AddStep(saga.Step{
			Name: "store",
			Execute: func(ctx context.Context) error {
				st, err = openStore(ctx, &cfg.Database, observability.Component(logger, "store"))
				return err
			},
			Compensate: func(context.Context) error { return st.close() },
		}).
		AddStep(saga.Step{
			Name: "redis",
			Execute: func(ctx context.Context) error {
				redisClient, err = infraRedis.NewClient(ctx, &cfg.Redis, logger)
				return err
			},
			Compensate: func(context.Context) error { return redisClient.Close() },
		}).
		AddStep(saga.Step{
			Name: "broker",
			Execute: func(ctx context.Context) error {
				ch, err = openChannel(ctx, cfg, redisClient, metrics, observability.Component(logger, "broker"))
				return err
			},
			Compensate: func(context.Context) error { return ch.close() },
		})

	if err := app.resources.Execute(ctx); err != nil {
		return nil, err
	}

	coordinator := dualwrite.New[events.Change, string, events.AccountEvent](
		st.tx,
		ch.producer,
		dualwrite.JSONCodec[events.AccountEvent]{},
		dualwrite.WithLogger(observability.Component(logger, "dualwrite")),
		dualwrite.WithAckTimeout(cfg.Broker.AckTimeout),
		dualwrite.WithMetrics(metrics.DualWrite),
		dualwrite.WithTracer(otel.Tracer(serviceName)),
		dualwrite.WithClassifier(dualwrite.NewClassifier(ch.matchers...)),
	)

	locker := infraRedis.NewLocker(redisClient, cfg.Lock.TTL, observability.Component(logger, "lock"))
	locker.OnContention = func(resource string) {
		metrics.LockContention.WithLabelValues(lockResourceLabel(resource)).Inc()
	}

	app.Accounts = service.NewAccountService(st.repo, coordinator, locker, cfg.Broker.Topic,
		service.WithOperationsCounter(metrics.AccountOperations),
		service.WithServiceLogger(observability.Component(logger, "accounts")),
	)

	app.HealthChecks = []controller.HealthCheck{
		{Name: "database", Check: st.ping},
		{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
	}
	if ch.health != nil {
		app.HealthChecks = append(app.HealthChecks, controller.HealthCheck{Name: "broker", Check: ch.health})
	}

	return app, nil
}

// Close releases the broker, redis, the store and the tracer, in that order.
func (a *App) Close(ctx context.Context) {
	if err := a.resources.Compensate(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("Failed to release resources")
	}
}

// lockResourceLabel drops the per-account suffix so the metric stays low
// cardinality.
func lockResourceLabel(resource string) string {
	prefix, _, _ := strings.Cut(resource, ":")
	return prefix
}
