// Package redis кеширует каталог товаров в Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	defaultTTL       = 30 * time.Second
	defaultOpTimeout = 100 * time.Millisecond
	keyPrefix        = "shop:catalog:product:"
)

// Client — подмножество команд go-redis, которое использует кеш.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
}

// NewClient создаёт go-redis клиент по адресу addr.
// Таймауты короткие: кеш не должен съедать дедлайн запроса к каталогу.
func NewClient(addr string) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  200 * time.Millisecond,
		ReadTimeout:  200 * time.Millisecond,
		WriteTimeout: 200 * time.Millisecond,
		MaxRetries:   1,
	})
}

// CatalogCache — read-through кеш поверх ProductCatalog.
// Недоступность Redis не ломает чтение: запрос уходит в исходный каталог.
type CatalogCache struct {
	next      domain.ProductCatalog
	client    Client
	ttl       time.Duration
	opTimeout time.Duration
	logger    *log.Entry
}

// NewCatalogCache оборачивает next. ttl<=0 заменяется значением по умолчанию.
func NewCatalogCache(next domain.ProductCatalog, client Client, ttl time.Duration, logger *log.Entry) *CatalogCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "catalog-cache")
	}
	return &CatalogCache{next: next, client: client, ttl: ttl, opTimeout: defaultOpTimeout, logger: logger}
}

// WithOpTimeout задаёт предел для одной команды Redis. d<=0 игнорируется.
func (c *CatalogCache) WithOpTimeout(d time.Duration) *CatalogCache {
	if d > 0 {
		c.opTimeout = d
	}
	return c
}

// cacheContext ограничивает команду Redis opTimeout и половиной оставшегося дедлайна,
// чтобы чтению каталога всегда оставалось время.
func (c *CatalogCache) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.opTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if half := time.Until(deadline) / 2; half < timeout {
			timeout = half
		}
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *CatalogCache) read(ctx context.Context, key string) ([]byte, error) {
	opCtx, cancel := c.cacheContext(ctx)
	defer cancel()
	return c.client.Get(opCtx, key).Bytes()
}

func (c *CatalogCache) write(ctx context.Context, key string, payload []byte) error {
	opCtx, cancel := c.cacheContext(ctx)
	defer cancel()
	return c.client.Set(opCtx, key, payload, c.ttl).Err()
}

// Get возвращает товар из кеша, при промахе читает каталог и кладёт результат в Redis.
// Отсутствующие товары не кешируются.
func (c *CatalogCache) Get(ctx context.Context, id string) (domain.Product, error) {
	key := keyPrefix + id

	raw, err := c.read(ctx, key)
	switch {
	case err == nil:
		var product domain.Product
		if decodeErr := json.Unmarshal(raw, &product); decodeErr == nil {
			return product, nil
		}
		c.logger.WithField("product_id", id).Warn("corrupted catalog cache entry, reading through")
	case errors.Is(err, goredis.Nil):
	default:
		c.logger.WithError(err).WithField("product_id", id).Warn("catalog cache read failed, reading through")
	}

	product, err := c.next.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	payload, err := json.Marshal(product)
	if err != nil {
		return product, nil
	}
	if err := c.write(ctx, key, payload); err != nil {
		c.logger.WithError(err).WithField("product_id", id).Warn("catalog cache write failed")
	}
	return product, nil
}

// Invalidate удаляет товар из кеша.
func (c *CatalogCache) Invalidate(ctx context.Context, productID string) error {
	return c.client.Del(ctx, keyPrefix+productID).Err()
}

// Ping проверяет доступность Redis.
func (c *CatalogCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var (
	_ domain.ProductCatalog     = (*CatalogCache)(nil)
	_ domain.CatalogInvalidator = (*CatalogCache)(nil)
)
