package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_NAME", "")
	t.Setenv("KAFKA_CONSUMER_GROUP", "")

	cfg, err := Load("payment-service")
	require.NoError(t, err)

	assert.Equal(t, "payment-service", cfg.App.Name)
	assert.Equal(t, "payment-service", cfg.Kafka.ConsumerGroup)
	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Saga.PublishRetries)
	assert.Equal(t, 24*time.Hour, cfg.Saga.IdempotencyTTL)
	assert.True(t, cfg.Outbox.Enabled)
	assert.False(t, cfg.JWT.Enabled())
	assert.Equal(t, ":3000", cfg.HTTP.Addr())
	assert.Equal(t, 100, cfg.HTTP.RateLimit)
	assert.Equal(t, time.Minute, cfg.HTTP.RateLimitWindow)
}

func TestLoad_SagaTopicsFromEnv(t *testing.T) {
	t.Setenv("SAGA_TOPIC_ADVANCE", "custom-advance")
	t.Setenv("SAGA_TOPIC_OWN_COMPENSATION", "custom-fail")

	cfg, err := Load("inventory-service")
	require.NoError(t, err)

	assert.Equal(t, "custom-advance", cfg.Saga.AdvanceTopic)
	assert.Equal(t, "custom-fail", cfg.Saga.OwnCompensationTopic)
	assert.Empty(t, cfg.Saga.PredecessorCompensationTopic)
}

func TestLoad_UnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "oracle")

	_, err := Load("order-service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	base := DatabaseConfig{
		Host: "db", Port: 5432, User: "saga", Password: "secret",
		Name: "orders", SSLMode: "disable", Path: "/tmp/saga.db",
	}

	tests := []struct {
		name   string
		driver string
		want   string
	}{
		{"mysql", DriverMySQL, "saga:secret@tcp(db:5432)/orders?charset=utf8mb4&parseTime=True&loc=UTC"},
		{"postgres", DriverPostgres, "host=db port=5432 user=saga password=secret dbname=orders sslmode=disable TimeZone=UTC"},
		{"sqlite", DriverSQLite, "/tmp/saga.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			c.Driver = tt.driver
			got, err := c.DSN()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_RATE_LIMIT=7\nSAGA_TOPIC_ADVANCE=from-file\n"), 0o600))
	t.Setenv(EnvFileVar, path)
	// godotenv не перезаписывает уже заданные переменные; t.Setenv вернёт их после теста.
	t.Setenv("HTTP_RATE_LIMIT", "")
	t.Setenv("SAGA_TOPIC_ADVANCE", "")
	require.NoError(t, os.Unsetenv("HTTP_RATE_LIMIT"))
	require.NoError(t, os.Unsetenv("SAGA_TOPIC_ADVANCE"))

	cfg, err := Load("inventory-service")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.HTTP.RateLimit)
	assert.Equal(t, "from-file", cfg.Saga.AdvanceTopic)
}

func TestLoad_EnvFileMissing(t *testing.T) {
	t.Setenv(EnvFileVar, filepath.Join(t.TempDir(), "missing.env"))

	_, err := Load("payment-service")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.env")
}
