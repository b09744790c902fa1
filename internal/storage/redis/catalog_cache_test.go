package redis

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

type fakeClient struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failAll error
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return goredis.NewStringResult("", f.failAll)
	}
	value, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(value, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return goredis.NewStatusResult("", f.failAll)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Del(_ context.Context, keys ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return goredis.NewIntResult(0, f.failAll)
	}
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			n++
		}
	}
	return goredis.NewIntResult(n, nil)
}

func (f *fakeClient) Ping(context.Context) *goredis.StatusCmd {
	if f.failAll != nil {
		return goredis.NewStatusResult("", f.failAll)
	}
	return goredis.NewStatusResult("PONG", nil)
}

type countingCatalog struct {
	domain.ProductCatalog
	calls int
}

func (c *countingCatalog) Get(ctx context.Context, id string) (domain.Product, error) {
	c.calls++
	return c.ProductCatalog.Get(ctx, id)
}

func newCatalog() (domain.ProductRepository, *countingCatalog) {
	repo := memory.NewProductRepository(domain.Product{ID: "P1", Name: "Keyboard", Price: decimal.RequireFromString("10.00"), Stock: 5})
	return repo, &countingCatalog{ProductCatalog: repo}
}

func TestCatalogCache_ReadThrough(t *testing.T) {
	_, source := newCatalog()
	client := newFakeClient()
	cache := NewCatalogCache(source, client, time.Minute, nil)
	ctx := context.Background()

	first, err := cache.Get(ctx, "P1")
	require.NoError(t, err)
	second, err := cache.Get(ctx, "P1")
	require.NoError(t, err)

	require.Equal(t, 1, source.calls)
	require.Equal(t, first.Name, second.Name)
	require.True(t, second.Price.Equal(decimal.RequireFromString("10.00")))
	require.Equal(t, time.Minute, client.ttls[keyPrefix+"P1"])
}

func TestCatalogCache_NotFoundIsNotCached(t *testing.T) {
	_, source := newCatalog()
	client := newFakeClient()
	cache := NewCatalogCache(source, client, 0, nil)

	_, err := cache.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	require.Empty(t, client.data)
}

func TestCatalogCache_InvalidateForcesReload(t *testing.T) {
	repo, source := newCatalog()
	cache := NewCatalogCache(source, newFakeClient(), time.Minute, nil)
	ctx := context.Background()

	_, err := cache.Get(ctx, "P1")
	require.NoError(t, err)

	product, err := repo.Get(ctx, "P1")
	require.NoError(t, err)
	product.Price = decimal.RequireFromString("12.00")
	_, err = repo.Save(ctx, product)
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(ctx, "P1"))
	reloaded, err := cache.Get(ctx, "P1")
	require.NoError(t, err)
	require.True(t, reloaded.Price.Equal(decimal.RequireFromString("12.00")))
	require.Equal(t, 2, source.calls)
}

func TestCatalogCache_RedisFailureFallsThrough(t *testing.T) {
	_, source := newCatalog()
	client := newFakeClient()
	client.failAll = errors.New("connection refused")
	logger, hook := logtest.NewNullLogger()
	cache := NewCatalogCache(source, client, time.Minute, logger.WithField("component", "test"))

	product, err := cache.Get(context.Background(), "P1")
	require.NoError(t, err)
	require.Equal(t, "Keyboard", product.Name)
	require.Len(t, hook.AllEntries(), 2)
	require.Error(t, cache.Ping(context.Background()))
}

// hangingClient отвечает только по отмене контекста, как Redis за потерянным соединением.
type hangingClient struct{ *fakeClient }

func (h hangingClient) Get(ctx context.Context, _ string) *goredis.StringCmd {
	<-ctx.Done()
	return goredis.NewStringResult("", ctx.Err())
}

func (h hangingClient) Set(ctx context.Context, _ string, _ any, _ time.Duration) *goredis.StatusCmd {
	<-ctx.Done()
	return goredis.NewStatusResult("", ctx.Err())
}

func TestCatalogCache_HangingRedisLeavesTimeForCatalog(t *testing.T) {
	_, source := newCatalog()
	cache := NewCatalogCache(source, hangingClient{newFakeClient()}, time.Minute, nil).WithOpTimeout(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	started := time.Now()
	product, err := cache.Get(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, "Keyboard", product.Name)
	require.Less(t, time.Since(started), 500*time.Millisecond)
	require.NoError(t, ctx.Err())
}

func TestCatalogCache_ShortDeadlineIsSplit(t *testing.T) {
	_, source := newCatalog()
	cache := NewCatalogCache(source, hangingClient{newFakeClient()}, time.Minute, nil).WithOpTimeout(time.Hour)

	// Redis получает не больше половины оставшегося дедлайна.
	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	product, err := cache.Get(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, "P1", product.ID)
}

func TestCatalogCache_UnreachableRedis(t *testing.T) {
	client := NewClient("127.0.0.1:1")
	t.Cleanup(func() { _ = client.Close() })

	_, source := newCatalog()
	cache := NewCatalogCache(source, client, time.Minute, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	product, err := cache.Get(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, "Keyboard", product.Name)
	require.Equal(t, 1, source.calls)
}

func TestCatalogCache_CorruptedEntry(t *testing.T) {
	_, source := newCatalog()
	client := newFakeClient()
	client.data[keyPrefix+"P1"] = "{not json"
	cache := NewCatalogCache(source, client, time.Minute, nil)

	product, err := cache.Get(context.Background(), "P1")
	require.NoError(t, err)
	require.Equal(t, "P1", product.ID)
	require.Equal(t, 1, source.calls)
}

func TestCatalogCacheIntegration(t *testing.T) {
	addr := os.Getenv("SHOP_REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("SHOP_REDIS_TEST_ADDR is not set")
	}
	client := NewClient(addr)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis is not available: %v", err)
	}

	_, source := newCatalog()
	cache := NewCatalogCache(source, client, time.Minute, nil)
	require.NoError(t, cache.Invalidate(ctx, "P1"))

	_, err := cache.Get(ctx, "P1")
	require.NoError(t, err)
	_, err = cache.Get(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, 1, source.calls)
	require.NoError(t, cache.Invalidate(ctx, "P1"))
}
