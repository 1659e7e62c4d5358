package bootstrap

import (
	"context"
	"fmt"

	"github.com/cassiomorais/dualwrite/internal/domain/account"
	"github.com/cassiomorais/dualwrite/internal/infrastructure/config"
	"github.com/cassiomorais/dualwrite/internal/repository/postgres"
	"github.com/cassiomorais/dualwrite/internal/repository/sqlstore"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
	"github.com/rs/zerolog"
)

// store is the transactional side of the dual write.
type store struct {
	tx    dualwrite.TxManager
	repo  account.Repository
	ping  func(ctx context.Context) error
	close func() error
}

// openStore connects the driver named in cfg. postgres uses the pgx pool, pq
// and mysql go through database/sql.
func openStore(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		logger.Info().Msg("Connected to PostgreSQL")
		return &store{
			tx:    postgres.NewTxManager(pool, logger),
			repo:  postgres.NewAccountRepository(pool),
			ping:  pool.Ping,
			close: func() error { pool.Close(); return nil },
		}, nil

	case config.DriverPQ, config.DriverMySQL:
		sqlDB, dialect, err := sqlstore.Open(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		db := sqlstore.NewDB(sqlDB)
		logger.Info().Str("dialect", string(dialect)).Msg("Connected to database")
		return &store{
			tx:    sqlstore.NewTxManager(db, logger),
			repo:  sqlstore.NewAccountRepository(db, dialect),
			ping:  sqlDB.PingContext,
			close: sqlDB.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
