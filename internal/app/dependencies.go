package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shop/internal/health"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shop/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/shop/internal/storage/redis"
)

// runtimeDependencies — хранилища и кеш, выбранные конфигурацией.
type runtimeDependencies struct {
	orders      domain.OrderRepository
	products    domain.ProductRepository
	users       domain.UserRepository
	catalog     domain.ProductCatalog
	invalidator domain.CatalogInvalidator
	checkers    map[string]healthcheck.Checker
	closers     []func() error
}

// initRuntimeDependencies открывает хранилище и, если задан Redis, оборачивает каталог кешем.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	policy, err := domain.ParseDeletePolicy(cfg.OrderDeletePolicy)
	if err != nil {
		return nil, err
	}

	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		deps.orders = memory.NewOrderRepository(policy)
		deps.products = memory.NewProductRepository()
		deps.users = memory.NewUserRepository()
		deps.checkers["storage"] = healthcheck.NewFuncChecker("storage", true, func(context.Context) error { return nil })
		logger.WithField("delete_policy", policy).Info("using in-memory storage")
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, logger.WithField("component", "postgres"))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.Migrator().Up(ctx, 0); err != nil {
				deps.close(logger)
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		deps.orders = postgres.NewOrderRepository(store, policy)
		deps.products = postgres.NewProductRepository(store)
		deps.users = postgres.NewUserRepository(store)
		deps.checkers["storage"] = healthcheck.NewPingChecker("storage", true, store)
		logger.WithField("delete_policy", policy).Info("using postgres storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}

	deps.catalog = deps.products
	if cfg.RedisAddr != "" {
		client := redisstore.NewClient(cfg.RedisAddr)
		cache := redisstore.NewCatalogCache(deps.products, client, cfg.CatalogCacheTTL, logger.WithField("component", "catalog-cache"))
		deps.catalog = cache
		deps.invalidator = cache
		deps.closers = append(deps.closers, client.Close)
		// Недоступный Redis переводит сервис в degraded: чтение идёт мимо кеша.
		deps.checkers["catalog_cache"] = healthcheck.NewPingChecker("catalog_cache", false, cache)
		logger.WithField("redis_addr", cfg.RedisAddr).Info("catalog cache enabled")
	}

	return deps, nil
}

// close освобождает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to release storage resource")
		}
	}
	d.closers = nil
}
