// Package config загружает конфигурацию сервисов саги из переменных окружения.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Поддерживаемые драйверы БД.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config — общая конфигурация, одинаковая для всех сервисов.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Saga     SagaConfig
	Outbox   OutboxConfig
	JWT      JWTConfig
	Jaeger   JaegerConfig
	Metrics  MetricsConfig
	HTTP     HTTPConfig
}

type AppConfig struct {
	Name      string `env:"APP_NAME"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// DatabaseConfig описывает подключение к локальному хранилищу сервиса.
// Для sqlite используется только Path.
type DatabaseConfig struct {
	Driver          string        `env:"DB_DRIVER" envDefault:"mysql"`
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            int           `env:"DB_PORT" envDefault:"3306"`
	User            string        `env:"DB_USER" envDefault:"root"`
	Password        string        `env:"DB_PASSWORD" envDefault:"root"`
	Name            string        `env:"DB_NAME" envDefault:"saga"`
	SSLMode         string        `env:"DB_SSLMODE" envDefault:"disable"`
	Path            string        `env:"DB_PATH" envDefault:"saga.db"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	AutoMigrate     bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// DSN строит строку подключения для выбранного драйвера.
func (c DatabaseConfig) DSN() (string, error) {
	switch c.Driver {
	case DriverMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User, c.Password, c.Host, c.Port, c.Name), nil
	case DriverPostgres:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode), nil
	case DriverSQLite:
		return c.Path, nil
	default:
		return "", fmt.Errorf("неизвестный драйвер БД: %q", c.Driver)
	}
}

type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"true"`
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers          []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ConsumerGroup    string   `env:"KAFKA_CONSUMER_GROUP"`
	AutoCreateTopics bool     `env:"KAFKA_AUTO_CREATE_TOPICS" envDefault:"true"`
	Partitions       int      `env:"KAFKA_TOPIC_PARTITIONS" envDefault:"3"`
}

// SagaConfig переопределяет топики маршрутизации сервиса.
// Пустые значения заменяются значениями по умолчанию для позиции сервиса в цепочке.
type SagaConfig struct {
	StartTopic                   string        `env:"SAGA_TOPIC_START"`
	AdvanceTopic                 string        `env:"SAGA_TOPIC_ADVANCE"`
	OwnCompensationTopic         string        `env:"SAGA_TOPIC_OWN_COMPENSATION"`
	PredecessorCompensationTopic string        `env:"SAGA_TOPIC_PREDECESSOR_COMPENSATION"`
	PublishRetries               int           `env:"SAGA_PUBLISH_RETRIES" envDefault:"3"`
	IdempotencyTTL               time.Duration `env:"SAGA_IDEMPOTENCY_TTL" envDefault:"24h"`
}

// OutboxConfig управляет публикацией через transactional outbox.
// При Enabled=false события отправляются в Kafka напрямую.
type OutboxConfig struct {
	Enabled       bool          `env:"OUTBOX_ENABLED" envDefault:"true"`
	PollInterval  time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"500ms"`
	BatchSize     int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	MaxRetries    int           `env:"OUTBOX_MAX_RETRIES" envDefault:"5"`
	RetentionTime time.Duration `env:"OUTBOX_RETENTION" envDefault:"24h"`
}

// JWTConfig — проверка RS256 токенов на HTTP API order-service.
// Пустой PublicKeyPath отключает аутентификацию.
type JWTConfig struct {
	PublicKeyPath string `env:"JWT_PUBLIC_KEY_PATH"`
	Issuer        string `env:"JWT_ISSUER" envDefault:"saga-choreography"`
}

func (c JWTConfig) Enabled() bool {
	return c.PublicKeyPath != ""
}

type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"false"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"`
}

// OTLPEndpoint возвращает адрес OTLP gRPC коллектора.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// HTTPConfig используется только order-service.
type HTTPConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"3000"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// RateLimit — запросов на создание заказа с одного IP за RateLimitWindow; 0 отключает лимит.
	RateLimit       int           `env:"HTTP_RATE_LIMIT" envDefault:"100"`
	RateLimitWindow time.Duration `env:"HTTP_RATE_LIMIT_WINDOW" envDefault:"1m"`
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// EnvFileVar — переменная с путём к .env файлу сервиса.
const EnvFileVar = "APP_ENV_FILE"

// Load читает .env (если есть) и переменные окружения.
// Если задан APP_ENV_FILE, читается указанный файл, и его отсутствие — ошибка.
// service подставляется в APP_NAME и KAFKA_CONSUMER_GROUP, если они не заданы.
func Load(service string) (*Config, error) {
	if path := os.Getenv(EnvFileVar); path != "" {
		return LoadFromFile(path, service)
	}
	_ = godotenv.Load()
	return parse(service)
}

// LoadFromFile — то же, что Load, но с явным путём к .env.
func LoadFromFile(path, service string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}
	return parse(service)
}

func parse(service string) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	if cfg.App.Name == "" {
		cfg.App.Name = service
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = cfg.App.Name
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения, которые env не умеет проверить сам.
func (c *Config) Validate() error {
	if _, err := c.Database.DSN(); err != nil {
		return err
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("не указаны брокеры Kafka")
	}
	if c.Saga.PublishRetries < 0 {
		return fmt.Errorf("SAGA_PUBLISH_RETRIES не может быть отрицательным")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}
