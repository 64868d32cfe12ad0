package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
	"github.com/vladislavdragonenkov/shopfront/internal/storage/memory"
	"github.com/vladislavdragonenkov/shopfront/internal/storage/postgres"
)

// Dependencies содержит хранилища, выбранные по конфигурации.
type Dependencies struct {
	Products    domain.ProductStore
	Accounts    domain.AccountStore
	Outbox      domain.OutboxRepository
	Idempotency domain.IdempotencyRepository

	// Store не nil только для postgres-бэкенда; используется health-проверкой.
	Store  *postgres.Store
	Logger *log.Entry
}

// NewDependencies инициализирует хранилища по выбранному драйверу.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory storage")
		return &Dependencies{
			Products:    memory.NewProductStore(),
			Accounts:    memory.NewAccountStore(),
			Outbox:      memory.NewOutboxRepository(),
			Idempotency: memory.NewIdempotencyRepository(),
			Logger:      logger,
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires SHOPFRONT_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("using postgres storage")
		return &Dependencies{
			Products:    postgres.NewProductStore(store),
			Accounts:    postgres.NewAccountStore(store),
			Outbox:      postgres.NewOutboxRepository(store),
			Idempotency: postgres.NewIdempotencyRepository(store),
			Store:       store,
			Logger:      logger,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

// Close освобождает ресурсы хранилищ.
func (d *Dependencies) Close() {
	if d == nil || d.Store == nil {
		return
	}
	if err := d.Store.Close(); err != nil {
		d.Logger.WithError(err).Warn("failed to close postgres store")
	}
}
