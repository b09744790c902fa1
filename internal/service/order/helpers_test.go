package order_test

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	return logger.WithField("component", "test")
}

func testCustomer() domain.Customer {
	return domain.Customer{
		FullName: "Juan Cliente",
		Email:    "juan@test.com",
		Phone:    "600111222",
		Address: domain.Address{
			Street:     "Calle Falsa",
			Number:     "123",
			City:       "Testville",
			Province:   "Testlandia",
			Country:    "Testland",
			PostalCode: "12345",
		},
	}
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// seededCatalog — каталог с товарами P1 (10.00) и P2 (5.50).
func seededCatalog() domain.ProductRepository {
	return memory.NewProductRepository(
		domain.Product{ID: "P1", Name: "Keyboard", Price: decimal.RequireFromString("10.00"), Stock: 10},
		domain.Product{ID: "P2", Name: "Mouse", Price: decimal.RequireFromString("5.50"), Stock: 10},
	)
}

// slowCatalog блокируется до отмены контекста.
type slowCatalog struct{}

func (slowCatalog) Get(ctx context.Context, _ string) (domain.Product, error) {
	<-ctx.Done()
	return domain.Product{}, ctx.Err()
}

// recordingPublisher запоминает переданные конверты.
type recordingPublisher struct {
	mu   sync.Mutex
	envs []domain.Envelope[domain.Order]
	err  error
}

func (p *recordingPublisher) Publish(env domain.Envelope[domain.Order]) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.envs = append(p.envs, env)
	return nil
}

func (p *recordingPublisher) envelopes() []domain.Envelope[domain.Order] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Envelope[domain.Order](nil), p.envs...)
}

// countingRepo считает записи и позволяет подменить ошибки.
type countingRepo struct {
	domain.OrderRepository

	mu        sync.Mutex
	writes    int
	createErr error
	saveErr   error
	deleteErr error
}

func (r *countingRepo) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	r.writes++
	err := r.createErr
	r.mu.Unlock()
	if err != nil {
		return domain.Order{}, err
	}
	return r.OrderRepository.Create(ctx, order)
}

func (r *countingRepo) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	r.writes++
	err := r.saveErr
	r.mu.Unlock()
	if err != nil {
		return domain.Order{}, err
	}
	return r.OrderRepository.Save(ctx, order)
}

func (r *countingRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	r.writes++
	err := r.deleteErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.OrderRepository.Delete(ctx, id)
}

func (r *countingRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}
