package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func newOrder(customerID string, createdAt time.Time) domain.Order {
	return domain.Order{
		CustomerID: customerID,
		Lines: []domain.LineItem{
			{ProductID: "p1", ProductName: "Keyboard", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOrderRepository_CreateAssignsID(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository(domain.DeleteHard)

	created, err := repo.Create(ctx, newOrder("customer-1", time.Now()))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected repository to assign id")
	}
	if created.Version != 1 {
		t.Fatalf("expected version 1, got %d", created.Version)
	}

	stored, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !stored.TotalAmount().Equal(decimal.RequireFromString("20")) {
		t.Fatalf("unexpected total %s", stored.TotalAmount())
	}
}

func TestOrderRepository_StoresCopies(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository(domain.DeleteHard)

	order := newOrder("customer-1", time.Now())
	created, err := repo.Create(ctx, order)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	order.Lines[0].Quantity = 50
	created.Lines[0].Quantity = 60

	stored, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Lines[0].Quantity != 2 {
		t.Fatalf("stored order was mutated from outside: %d", stored.Lines[0].Quantity)
	}
}

func TestOrderRepository_ListByCustomer(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository(domain.DeleteHard)
	base := time.Now().UTC()

	older, _ := repo.Create(ctx, newOrder("customer-1", base))
	newer, _ := repo.Create(ctx, newOrder("customer-1", base.Add(time.Minute)))
	if _, err := repo.Create(ctx, newOrder("customer-2", base)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	orders, err := repo.ListByCustomer(ctx, "customer-1", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != newer.ID || orders[1].ID != older.ID {
		t.Fatal("expected newest order first")
	}

	limited, err := repo.ListByCustomer(ctx, "customer-1", 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 order, got %d", len(limited))
	}
}

func TestOrderRepository_SaveVersioning(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository(domain.DeleteHard)

	created, err := repo.Create(ctx, newOrder("customer-1", time.Now()))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first := created.Clone()
	first.Lines[0].Quantity = 3
	saved, err := repo.Save(ctx, first)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("expected version 2, got %d", saved.Version)
	}

	stale := created.Clone()
	stale.Lines[0].Quantity = 4
	if _, err := repo.Save(ctx, stale); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	stored, _ := repo.Get(ctx, created.ID)
	if stored.TotalItems() != 3 {
		t.Fatalf("expected winner's lines, got total items %d", stored.TotalItems())
	}
}

func TestOrderRepository_SaveMissing(t *testing.T) {
	repo := memory.NewOrderRepository(domain.DeleteHard)
	order := newOrder("customer-1", time.Now())
	order.ID = "missing"

	if _, err := repo.Save(context.Background(), order); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderRepository_Delete(t *testing.T) {
	for _, policy := range []domain.DeletePolicy{domain.DeleteHard, domain.DeleteSoft} {
		t.Run(string(policy), func(t *testing.T) {
			ctx := context.Background()
			repo := memory.NewOrderRepository(policy)

			created, err := repo.Create(ctx, newOrder("customer-1", time.Now()))
			if err != nil {
				t.Fatalf("create failed: %v", err)
			}
			if err := repo.Delete(ctx, created.ID); err != nil {
				t.Fatalf("delete failed: %v", err)
			}
			if _, err := repo.Get(ctx, created.ID); !errors.Is(err, domain.ErrOrderNotFound) {
				t.Fatalf("expected not found after delete, got %v", err)
			}
			if err := repo.Delete(ctx, created.ID); !errors.Is(err, domain.ErrOrderNotFound) {
				t.Fatalf("expected not found on second delete, got %v", err)
			}
			orders, _ := repo.ListByCustomer(ctx, "customer-1", 0)
			if len(orders) != 0 {
				t.Fatalf("deleted order must not be listed, got %d", len(orders))
			}
		})
	}
}

func TestOrderRepository_CanceledContext(t *testing.T) {
	repo := memory.NewOrderRepository(domain.DeleteHard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := repo.Create(ctx, newOrder("customer-1", time.Now())); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOrderRepository_ConcurrentSaveSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository(domain.DeleteHard)
	created, err := repo.Create(ctx, newOrder("customer-1", time.Now()))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			update := created.Clone()
			update.Lines[0].Quantity = qty
			if _, err := repo.Save(ctx, update); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i + 1)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one winner, got %d", successes)
	}
}
