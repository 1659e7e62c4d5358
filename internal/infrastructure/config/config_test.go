package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:   DriverPostgres,
			Host:     "localhost",
			Port:     5432,
			User:     "test",
			Password: "test",
			Database: "test_db",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Broker: BrokerConfig{
			Kind:       BrokerRedis,
			Topic:      "accounts",
			AckTimeout: time.Second,
		},
		Lock: LockConfig{TTL: 10 * time.Second},
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_InvalidServerPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"port too low", 0},
		{"port negative", -1},
		{"port too high", 99999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = tt.port

			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "server.port")
		})
	}
}

func TestConfig_Validate_SingleField(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantMsg string
	}{
		{"read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }, "read_timeout"},
		{"write timeout", func(c *Config) { c.Server.WriteTimeout = 0 }, "write_timeout"},
		{"rate limit", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"database driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"database host", func(c *Config) { c.Database.Host = "" }, "database.host"},
		{"database port", func(c *Config) { c.Database.Port = 0 }, "database.port"},
		{"redis port", func(c *Config) { c.Redis.Port = 0 }, "redis.port"},
		{"lock ttl", func(c *Config) { c.Lock.TTL = 0 }, "lock.ttl"},
		{"broker topic", func(c *Config) { c.Broker.Topic = "" }, "broker.topic"},
		{"ack timeout", func(c *Config) { c.Broker.AckTimeout = 0 }, "broker.ack_timeout"},
		{"broker kind", func(c *Config) { c.Broker.Kind = "sqs" }, "broker.kind"},
		{"rabbitmq url", func(c *Config) { c.Broker.Kind = BrokerRabbitMQ }, "broker.rabbitmq.url"},
		{"kafka brokers", func(c *Config) { c.Broker.Kind = BrokerKafka }, "broker.kafka.brokers"},
		{"nats url", func(c *Config) { c.Broker.Kind = BrokerNATS; c.Broker.NATS.Stream = "S" }, "broker.nats.url"},
		{"nats stream", func(c *Config) { c.Broker.Kind = BrokerNATS; c.Broker.NATS.URL = "nats://x" }, "broker.nats.stream"},
		{"breaker threshold", func(c *Config) { c.Broker.CircuitBreaker.Enabled = true }, "circuit_breaker.threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate()
	require.Error(t, err)

	errStr := err.Error()
	assert.Contains(t, errStr, "server.port")
	assert.Contains(t, errStr, "read_timeout")
	assert.Contains(t, errStr, "write_timeout")
	assert.Contains(t, errStr, "database.driver")
	assert.Contains(t, errStr, "database.host")
	assert.Contains(t, errStr, "database.port")
	assert.Contains(t, errStr, "redis.port")
	assert.Contains(t, errStr, "lock.ttl")
	assert.Contains(t, errStr, "broker.topic")
	assert.Contains(t, errStr, "broker.kind")
}

func TestConfig_Validate_ProductionRequiresPassword(t *testing.T) {
	t.Setenv("ENV", "production")
	cfg := validConfig()
	cfg.Database.Password = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.password")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, BrokerRedis, cfg.Broker.Kind)
	assert.Equal(t, "accounts", cfg.Broker.Topic)
	assert.Equal(t, time.Second, cfg.Broker.AckTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, uint32(5), cfg.Broker.CircuitBreaker.Threshold)
	assert.Equal(t, 10*time.Second, cfg.Lock.TTL)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("DUALWRITE_BROKER_KIND", "kafka")
	t.Setenv("DUALWRITE_BROKER_ACK_TIMEOUT", "250ms")
	t.Setenv("DUALWRITE_DATABASE_DRIVER", "mysql")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BrokerKafka, cfg.Broker.Kind)
	assert.Equal(t, 250*time.Millisecond, cfg.Broker.AckTimeout)
	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
}

func TestLoad_DotEnv(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("DUALWRITE_BROKER_KIND", "nats")
	t.Cleanup(func() { os.Unsetenv("DUALWRITE_BROKER_TOPIC") })

	dir := t.TempDir()
	env := "DUALWRITE_BROKER_TOPIC=ledger\nDUALWRITE_BROKER_KIND=kafka\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ledger", cfg.Broker.Topic)
	// Variables already in the environment win over .env.
	assert.Equal(t, BrokerNATS, cfg.Broker.Kind)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{
		Driver: DriverPostgres, Host: "db", Port: 5432, User: "u", Password: "p",
		Database: "d", SSLMode: "require",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=require", pg.DatabaseDSN())
	assert.Equal(t, "postgres://u:p@db:5432/d?sslmode=require", pg.MigrateURL())

	pq := pg
	pq.Driver = DriverPQ
	assert.Equal(t, pg.DatabaseDSN(), pq.DatabaseDSN())
	assert.Equal(t, pg.MigrateURL(), pq.MigrateURL())

	my := DatabaseConfig{Driver: DriverMySQL, Host: "db", Port: 3306, User: "u", Password: "p", Database: "d"}
	assert.Equal(t, "u:p@tcp(db:3306)/d?parseTime=true", my.DatabaseDSN())
	assert.Equal(t, "mysql://u:p@tcp(db:3306)/d?parseTime=true", my.MigrateURL())
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{Host: "redis.example.com", Port: 6379}
	assert.Equal(t, "redis.example.com:6379", cfg.RedisAddr())
}
