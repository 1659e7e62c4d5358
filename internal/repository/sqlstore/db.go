// Package sqlstore implements the transactional store on database/sql for
// MySQL/MariaDB and for PostgreSQL through lib/pq.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cassiomorais/dualwrite/internal/infrastructure/config"
	"github.com/cassiomorais/dualwrite/pkg/retry"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Dialect selects placeholder syntax and error codes.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Queryer runs statements. Rows are returned as Row so tests can fake them.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) Row
}

// Row is satisfied by *sql.Row.
type Row interface {
	Scan(dest ...any) error
}

// Tx is a database transaction.
type Tx interface {
	Queryer
	Commit() error
	Rollback() error
}

// DB is a connection pool. NewDB adapts *sql.DB.
type DB interface {
	Queryer
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
}

// Open connects with the driver configured for cfg and waits until the
// database answers a ping.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*sql.DB, Dialect, error) {
	var (
		driverName string
		dialect    Dialect
	)
	switch cfg.Driver {
	case config.DriverMySQL:
		mc, err := mysql.ParseDSN(cfg.DatabaseDSN())
		if err != nil {
			return nil, "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		mc.ParseTime = true
		connector, err := mysql.NewConnector(mc)
		if err != nil {
			return nil, "", fmt.Errorf("mysql connector: %w", err)
		}
		return finishOpen(ctx, sql.OpenDB(connector), DialectMySQL, cfg, logger)
	case config.DriverPQ:
		driverName, dialect = "postgres", DialectPostgres
	default:
		return nil, "", fmt.Errorf("database driver %q is not served by database/sql", cfg.Driver)
	}

	connector, err := pq.NewConnector(cfg.DatabaseDSN())
	if err != nil {
		return nil, "", fmt.Errorf("%s connector: %w", driverName, err)
	}
	return finishOpen(ctx, sql.OpenDB(connector), dialect, cfg, logger)
}

func finishOpen(ctx context.Context, db *sql.DB, dialect Dialect, cfg *config.DatabaseConfig, logger zerolog.Logger) (*sql.DB, Dialect, error) {
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MinConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	rc := retry.DefaultConfig()
	rc.OnRetry = func(n uint, err error) {
		logger.Warn().Err(err).Uint("attempt", n+1).Str("host", cfg.Host).Str("dialect", string(dialect)).
			Msg("database not reachable, retrying")
	}
	if err := retry.Do(ctx, rc, func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("failed to ping database: %w", err)
	}
	return db, dialect, nil
}

// NewDB adapts a *sql.DB to DB.
func NewDB(db *sql.DB) DB {
	return &dbAdapter{db: db}
}

type dbAdapter struct {
	db *sql.DB
}

func (a *dbAdapter) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return a.db.ExecContext(ctx, query, args...)
}

func (a *dbAdapter) QueryRowContext(ctx context.Context, query string, args ...any) Row {
	return a.db.QueryRowContext(ctx, query, args...)
}

func (a *dbAdapter) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	tx, err := a.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &txAdapter{tx: tx}, nil
}

type txAdapter struct {
	tx *sql.Tx
}

func (a *txAdapter) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return a.tx.ExecContext(ctx, query, args...)
}

func (a *txAdapter) QueryRowContext(ctx context.Context, query string, args ...any) Row {
	return a.tx.QueryRowContext(ctx, query, args...)
}

func (a *txAdapter) Commit() error   { return a.tx.Commit() }
func (a *txAdapter) Rollback() error { return a.tx.Rollback() }

// placeholder returns the bind parameter for the 1-based index.
func (d Dialect) placeholder(index int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", index)
	}
	return "?"
}

// isUniqueViolation reports whether err is a duplicate key error.
func (d Dialect) isUniqueViolation(err error) bool {
	switch d {
	case DialectMySQL:
		var myErr *mysql.MySQLError
		return errors.As(err, &myErr) && myErr.Number == 1062
	default:
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	}
}
