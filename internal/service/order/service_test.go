package order_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/notify"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

// OrderServiceTestSuite проверяет жизненный цикл заказа на in-memory зависимостях.
type OrderServiceTestSuite struct {
	suite.Suite

	catalog   domain.ProductRepository
	repo      *countingRepo
	publisher *recordingPublisher
	service   *order.Service
	now       time.Time
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceTestSuite))
}

func (s *OrderServiceTestSuite) SetupTest() {
	s.catalog = seededCatalog()
	s.repo = &countingRepo{OrderRepository: memory.NewOrderRepository(domain.DeleteHard)}
	s.publisher = &recordingPublisher{}
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.service = order.NewService(s.catalog, s.repo, s.publisher,
		order.WithLogger(loggerForTests()),
		order.WithCallTimeout(time.Second),
		order.WithClock(func() time.Time { return s.now }),
	)
}

func (s *OrderServiceTestSuite) createRequest() order.Request {
	return order.Request{
		CustomerID: "customer-1",
		Customer:   testCustomer(),
		Lines: []domain.RequestedLine{
			{ProductID: "P1", Quantity: 2, UnitPrice: price("10.00")},
			{ProductID: "P2", Quantity: 1, UnitPrice: price("5.50")},
		},
	}
}

func (s *OrderServiceTestSuite) TestCreateOrder_PersistsAndNotifies() {
	ctx := context.Background()

	created, err := s.service.CreateOrder(ctx, s.createRequest())
	s.Require().NoError(err)
	s.Require().NotEmpty(created.ID)
	s.Equal(3, created.TotalItems())
	s.True(created.TotalAmount().Equal(decimal.RequireFromString("25.50")))
	s.Equal(s.now, created.CreatedAt)

	stored, err := s.service.GetOrder(ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(created.ID, stored.ID)

	envs := s.publisher.envelopes()
	s.Require().Len(envs, 1)
	s.Equal(domain.EventCreated, envs[0].Type())
	s.Equal(domain.EntityOrder, envs[0].Entity())
	s.Equal(created.ID, envs[0].Payload().ID)
	s.True(envs[0].Payload().TotalAmount().Equal(decimal.RequireFromString("25.50")))
}

func (s *OrderServiceTestSuite) TestCreateOrder_RejectsWithoutSideEffects() {
	tests := []struct {
		name  string
		lines []domain.RequestedLine
		want  domain.ErrorKind
	}{
		{name: "no lines", lines: nil, want: domain.KindNoLines},
		{name: "unknown product", lines: []domain.RequestedLine{{ProductID: "P404", Quantity: 1, UnitPrice: price("1.00")}}, want: domain.KindNotFound},
		{name: "bad price", lines: []domain.RequestedLine{{ProductID: "P1", Quantity: 1, UnitPrice: price("9.99")}}, want: domain.KindBadPrice},
		{name: "out of stock", lines: []domain.RequestedLine{{ProductID: "P2", Quantity: 50}}, want: domain.KindOutOfStock},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			req := s.createRequest()
			req.Lines = tt.lines

			_, err := s.service.CreateOrder(context.Background(), req)
			s.Require().Error(err)
			s.Equal(tt.want, domain.KindOf(err))
		})
	}

	s.Zero(s.repo.writeCount())
	s.Empty(s.publisher.envelopes())
	orders, err := s.service.ListOrders(context.Background(), "customer-1", 0)
	s.Require().NoError(err)
	s.Empty(orders)
}

func (s *OrderServiceTestSuite) TestCreateOrder_RepositoryFailureIsTransient() {
	s.repo.createErr = errors.New("connection reset")

	_, err := s.service.CreateOrder(context.Background(), s.createRequest())
	s.Require().Error(err)
	s.Equal(domain.KindTransient, domain.KindOf(err))
	s.Empty(s.publisher.envelopes())
}

func (s *OrderServiceTestSuite) TestCreateOrder_CatalogTimeoutIsTransient() {
	service := order.NewService(slowCatalog{}, s.repo, s.publisher,
		order.WithLogger(loggerForTests()),
		order.WithCallTimeout(20*time.Millisecond),
	)

	_, err := service.CreateOrder(context.Background(), s.createRequest())
	s.Require().Error(err)
	s.Equal(domain.KindTransient, domain.KindOf(err))
	s.Zero(s.repo.writeCount())
}

func (s *OrderServiceTestSuite) TestCreateOrder_PublishFailureDoesNotFailOperation() {
	s.publisher.err = notify.ErrDispatcherClosed

	created, err := s.service.CreateOrder(context.Background(), s.createRequest())
	s.Require().NoError(err)

	_, err = s.service.GetOrder(context.Background(), created.ID)
	s.Require().NoError(err)
}

func (s *OrderServiceTestSuite) TestUpdateOrder_RecomputesTotals() {
	ctx := context.Background()
	created, err := s.service.CreateOrder(ctx, s.createRequest())
	s.Require().NoError(err)

	s.now = s.now.Add(time.Hour)
	req := order.Request{
		CustomerID: "someone-else",
		Customer:   testCustomer(),
		Lines:      []domain.RequestedLine{{ProductID: "P2", Quantity: 3}},
	}
	req.Customer.FullName = "Juana Cliente"

	updated, err := s.service.UpdateOrder(ctx, created.ID, req)
	s.Require().NoError(err)
	s.Equal(created.ID, updated.ID)
	s.Equal("customer-1", updated.CustomerID)
	s.Equal("Juana Cliente", updated.Customer.FullName)
	s.Equal(3, updated.TotalItems())
	s.True(updated.TotalAmount().Equal(decimal.RequireFromString("16.50")))
	s.Equal(created.CreatedAt, updated.CreatedAt)
	s.Equal(s.now, updated.UpdatedAt)
	s.Greater(updated.Version, created.Version)

	envs := s.publisher.envelopes()
	s.Require().Len(envs, 2)
	s.Equal(domain.EventUpdated, envs[1].Type())
	s.True(envs[1].Payload().TotalAmount().Equal(decimal.RequireFromString("16.50")))
}

func (s *OrderServiceTestSuite) TestUpdateOrder_InvalidLinesKeepStoredOrder() {
	ctx := context.Background()
	created, err := s.service.CreateOrder(ctx, s.createRequest())
	s.Require().NoError(err)

	req := s.createRequest()
	req.Lines = []domain.RequestedLine{{ProductID: "P1", Quantity: 1, UnitPrice: price("1.00")}}
	_, err = s.service.UpdateOrder(ctx, created.ID, req)
	s.Require().Error(err)
	s.Equal(domain.KindBadPrice, domain.KindOf(err))

	stored, err := s.service.GetOrder(ctx, created.ID)
	s.Require().NoError(err)
	s.True(stored.TotalAmount().Equal(decimal.RequireFromString("25.50")))
	s.Len(s.publisher.envelopes(), 1)
}

func (s *OrderServiceTestSuite) TestUpdateOrder_NotFound() {
	_, err := s.service.UpdateOrder(context.Background(), "missing", s.createRequest())
	s.Require().Error(err)
	s.Equal(domain.KindNotFound, domain.KindOf(err))
	s.Empty(s.publisher.envelopes())
}

func (s *OrderServiceTestSuite) TestUpdateOrder_VersionConflict() {
	ctx := context.Background()
	created, err := s.service.CreateOrder(ctx, s.createRequest())
	s.Require().NoError(err)

	s.repo.saveErr = domain.ErrOrderVersionConflict
	_, err = s.service.UpdateOrder(ctx, created.ID, s.createRequest())
	s.Require().Error(err)
	s.Equal(domain.KindConflict, domain.KindOf(err))
	s.True(domain.IsRetryable(err))
}

func (s *OrderServiceTestSuite) TestDeleteOrder_NotifiesWithLastSnapshot() {
	ctx := context.Background()
	created, err := s.service.CreateOrder(ctx, s.createRequest())
	s.Require().NoError(err)

	result, err := s.service.DeleteOrder(ctx, created.ID)
	s.Require().NoError(err)
	s.Equal("order "+created.ID+" deleted", result.Message)
	s.Equal(created.ID, result.Order.ID)

	_, err = s.service.GetOrder(ctx, created.ID)
	s.Equal(domain.KindNotFound, domain.KindOf(err))

	envs := s.publisher.envelopes()
	s.Require().Len(envs, 2)
	s.Equal(domain.EventDeleted, envs[1].Type())
	s.Equal(created.ID, envs[1].Payload().ID)
	s.True(envs[1].Payload().TotalAmount().Equal(decimal.RequireFromString("25.50")))
}

func (s *OrderServiceTestSuite) TestDeleteOrder_MissingEmitsNothing() {
	_, err := s.service.DeleteOrder(context.Background(), "missing")
	s.Require().Error(err)
	s.Equal(domain.KindNotFound, domain.KindOf(err))
	s.Zero(s.repo.writeCount())
	s.Empty(s.publisher.envelopes())
}

func (s *OrderServiceTestSuite) TestListOrders_RequiresCustomer() {
	_, err := s.service.ListOrders(context.Background(), "", 10)
	s.Require().Error(err)
	s.Equal(domain.KindInvalidRequest, domain.KindOf(err))
}

func TestService_StuckSubscriberDoesNotBlockOperations(t *testing.T) {
	dispatcher := notify.NewDispatcher[domain.Order](
		notify.WithLogger(loggerForTests()),
		notify.WithInboxSize(4),
		notify.WithHandlerTimeout(time.Minute),
	)
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = dispatcher.Close(ctx)
	})

	_, err := dispatcher.Subscribe("stuck", notify.HandlerFunc[domain.Order](func(ctx context.Context, _ domain.Envelope[domain.Order]) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		received []string
	)
	_, err = dispatcher.Subscribe("healthy", notify.HandlerFunc[domain.Order](func(_ context.Context, env domain.Envelope[domain.Order]) error {
		mu.Lock()
		received = append(received, env.Payload().ID)
		mu.Unlock()
		return nil
	}), notify.WithSubscriberInbox[domain.Order](64))
	require.NoError(t, err)

	service := order.NewService(seededCatalog(), memory.NewOrderRepository(domain.DeleteHard), dispatcher,
		order.WithLogger(loggerForTests()),
	)

	const total = 20
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			_, err := service.CreateOrder(context.Background(), order.Request{
				CustomerID: "customer-1",
				Customer:   testCustomer(),
				Lines:      []domain.RequestedLine{{ProductID: "P1", Quantity: 1}},
			})
			assert.NoError(t, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("order operations blocked by a stuck subscriber")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == total
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_RecordsOperationOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	orderMetrics := metrics.NewOrderMetrics(registry)

	var published atomic.Int32
	publisher := notify.NewDispatcher[domain.Order](notify.WithLogger(loggerForTests()))
	t.Cleanup(func() { _ = publisher.Close(context.Background()) })
	_, err := publisher.Subscribe("counter", notify.HandlerFunc[domain.Order](func(context.Context, domain.Envelope[domain.Order]) error {
		published.Add(1)
		return nil
	}))
	require.NoError(t, err)

	service := order.NewService(seededCatalog(), memory.NewOrderRepository(domain.DeleteSoft), publisher,
		order.WithLogger(loggerForTests()),
		order.WithMetrics(orderMetrics),
	)

	_, err = service.CreateOrder(context.Background(), order.Request{
		CustomerID: "customer-1",
		Customer:   testCustomer(),
		Lines:      []domain.RequestedLine{{ProductID: "P1", Quantity: 1}},
	})
	require.NoError(t, err)
	_, err = service.CreateOrder(context.Background(), order.Request{CustomerID: "customer-1", Customer: testCustomer()})
	require.Error(t, err)

	families, err := registry.Gather()
	require.NoError(t, err)
	outcomes := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "shop_order_operations_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" {
					outcomes[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	require.Equal(t, map[string]float64{"notified": 1, "no_lines": 1}, outcomes)
	require.Eventually(t, func() bool { return published.Load() == 1 }, time.Second, 10*time.Millisecond)
}
