package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageDriver выбирает бэкенд хранения.
type StorageDriver string

const (
	// StorageDriverMemory — потокобезопасные in-memory хранилища для разработки и тестов.
	StorageDriverMemory StorageDriver = "memory"
	// StorageDriverPostgres — PostgreSQL через pgx.
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	// KafkaBrokers — список брокеров через запятую; пустое значение отключает Kafka.
	KafkaBrokers string
	// RedisAddr — адрес Redis для кеша публичной статистики; пустое значение отключает кеш.
	RedisAddr string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает базовые настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   500 * time.Millisecond,

		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfig строит конфигурацию из окружения поверх значений по умолчанию.
func LoadConfig() Config {
	cfg := DefaultConfig()

	if v := envString("SHOPFRONT_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := envString("SHOPFRONT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := envString("SHOPFRONT_STORAGE_DRIVER"); v != "" {
		cfg.StorageDriver = StorageDriver(strings.ToLower(v))
	}
	if v := envString("SHOPFRONT_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := envString("SHOPFRONT_POSTGRES_AUTO_MIGRATE"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.PostgresAutoMigrate = parsed
		}
	}
	if v := envString("SHOPFRONT_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = v
	}
	if v := envString("SHOPFRONT_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := envDuration("SHOPFRONT_OUTBOX_POLL_INTERVAL"); v > 0 {
		cfg.OutboxPollInterval = v
	}
	if v := envInt("SHOPFRONT_OUTBOX_BATCH_SIZE"); v > 0 {
		cfg.OutboxBatchSize = v
	}
	if v := envInt("SHOPFRONT_OUTBOX_MAX_ATTEMPTS"); v > 0 {
		cfg.OutboxMaxAttempts = v
	}
	if v := envDuration("SHOPFRONT_OUTBOX_RETRY_DELAY"); v > 0 {
		cfg.OutboxRetryDelay = v
	}
	if v := envDuration("SHOPFRONT_IDEMPOTENCY_CLEANUP_INTERVAL"); v > 0 {
		cfg.IdempotencyCleanupInterval = v
	}
	if v := envInt("SHOPFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"); v > 0 {
		cfg.IdempotencyCleanupBatchSize = v
	}

	return cfg
}

func envString(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func envInt(name string) int {
	raw := envString(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}

func envDuration(name string) time.Duration {
	raw := envString(name)
	if raw == "" {
		return 0
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return v
}
