package order

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
)

const defaultListLimit = 100

// Request — данные для создания или замены заказа.
// При обновлении CustomerID игнорируется: владелец заказа не меняется.
type Request struct {
	CustomerID string
	Customer   domain.Customer
	Lines      []domain.RequestedLine
}

// DeleteResult — подтверждение удаления с последним известным снимком заказа.
type DeleteResult struct {
	Order   domain.Order
	Message string
}

// Options задаёт необязательные зависимости сервиса.
type Options struct {
	Logger      *log.Entry
	Metrics     *metrics.OrderMetrics
	CallTimeout time.Duration
	Clock       func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики операций.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithCallTimeout ограничивает каждое обращение к каталогу и репозиторию.
func WithCallTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.CallTimeout = timeout
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Service реализует use case-ы заказов: Requested → Validated → Persisted → Notified.
type Service struct {
	builder     *Builder
	repo        domain.OrderRepository
	events      domain.Publisher[domain.Order]
	logger      *log.Entry
	metrics     *metrics.OrderMetrics
	callTimeout time.Duration
	now         func() time.Time
}

// NewService конструирует сервис с каталогом, репозиторием и диспетчером уведомлений.
func NewService(
	catalog domain.ProductCatalog,
	repo domain.OrderRepository,
	events domain.Publisher[domain.Order],
	options ...Option,
) *Service {
	opts := Options{CallTimeout: defaultCallTimeout}
	for _, option := range options {
		option(&opts)
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}

	return &Service{
		builder:     NewBuilder(catalog, opts.CallTimeout),
		repo:        repo,
		events:      events,
		logger:      logger,
		metrics:     opts.Metrics,
		callTimeout: opts.CallTimeout,
		now:         opts.Clock,
	}
}

// CreateOrder валидирует запрос, сохраняет заказ и публикует CREATED.
func (s *Service) CreateOrder(ctx context.Context, req Request) (domain.Order, error) {
	const operation = "create"
	started := time.Now()
	logger := s.logger.WithFields(log.Fields{"operation": operation, "customer_id": req.CustomerID})

	order, err := s.builder.Build(ctx, req.CustomerID, req.Customer, req.Lines)
	if err != nil {
		return domain.Order{}, s.fail(logger, operation, started, domain.StageRejectedValidation, err)
	}
	logger.WithField("stage", domain.StageValidated).Debug("order validated")

	now := s.now()
	order.CreatedAt = now
	order.UpdatedAt = now

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	saved, err := s.repo.Create(callCtx, order)
	cancel()
	if err != nil {
		return domain.Order{}, s.fail(logger, operation, started, domain.StagePersistenceFailed, persistenceError("order.create", "", err))
	}
	logger = logger.WithField("order_id", saved.ID)
	logger.WithField("stage", domain.StagePersisted).Debug("order persisted")

	s.notify(logger, domain.EventCreated, saved)
	s.succeed(logger, operation, started)
	return saved, nil
}

// UpdateOrder заменяет клиента и позиции заказа целиком, пересчитывая итоги, и публикует UPDATED.
func (s *Service) UpdateOrder(ctx context.Context, id string, req Request) (domain.Order, error) {
	const operation = "update"
	started := time.Now()
	logger := s.logger.WithFields(log.Fields{"operation": operation, "order_id": id})

	existing, err := s.load(ctx, "order.update", id)
	if err != nil {
		return domain.Order{}, s.fail(logger, operation, started, domain.StageRejectedValidation, err)
	}

	built, err := s.builder.Build(ctx, existing.CustomerID, req.Customer, req.Lines)
	if err != nil {
		return domain.Order{}, s.fail(logger, operation, started, domain.StageRejectedValidation, err)
	}
	logger.WithField("stage", domain.StageValidated).Debug("order validated")

	updated := existing.Clone()
	updated.Customer = built.Customer
	updated.Lines = built.Lines
	updated.UpdatedAt = s.now()

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	saved, err := s.repo.Save(callCtx, updated)
	cancel()
	if err != nil {
		return domain.Order{}, s.fail(logger, operation, started, domain.StagePersistenceFailed, persistenceError("order.update", id, err))
	}
	logger.WithField("stage", domain.StagePersisted).Debug("order persisted")

	s.notify(logger, domain.EventUpdated, saved)
	s.succeed(logger, operation, started)
	return saved, nil
}

// DeleteOrder удаляет заказ и публикует DELETED с последним известным снимком.
func (s *Service) DeleteOrder(ctx context.Context, id string) (DeleteResult, error) {
	const operation = "delete"
	started := time.Now()
	logger := s.logger.WithFields(log.Fields{"operation": operation, "order_id": id})

	existing, err := s.load(ctx, "order.delete", id)
	if err != nil {
		return DeleteResult{}, s.fail(logger, operation, started, domain.StageRejectedValidation, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	err = s.repo.Delete(callCtx, id)
	cancel()
	if err != nil {
		return DeleteResult{}, s.fail(logger, operation, started, domain.StagePersistenceFailed, persistenceError("order.delete", id, err))
	}
	logger.WithField("stage", domain.StagePersisted).Debug("order deleted")

	s.notify(logger, domain.EventDeleted, existing)
	s.succeed(logger, operation, started)
	return DeleteResult{
		Order:   existing,
		Message: fmt.Sprintf("order %s deleted", id),
	}, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.load(ctx, "order.get", id)
}

// ListOrders возвращает заказы клиента, новые первыми.
func (s *Service) ListOrders(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	const op = "order.list"
	if customerID == "" {
		return nil, domain.WrapError(domain.KindInvalidRequest, op, domain.ErrCustomerRequired, "customer_id is required")
	}
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	orders, err := s.repo.ListByCustomer(callCtx, customerID, limit)
	if err != nil {
		return nil, persistenceError(op, "", err)
	}
	return orders, nil
}

func (s *Service) load(ctx context.Context, op, id string) (domain.Order, error) {
	if id == "" {
		return domain.Order{}, domain.NewError(domain.KindInvalidRequest, op, "order id is required")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	order, err := s.repo.Get(callCtx, id)
	if err != nil {
		return domain.Order{}, persistenceError(op, id, err)
	}
	return order, nil
}

// notify передаёт конверт диспетчеру. Ошибка передачи не отменяет сохранённый заказ.
func (s *Service) notify(logger *log.Entry, eventType domain.EventType, order domain.Order) {
	if s.events == nil {
		return
	}
	env := domain.NewEnvelope(domain.EntityOrder, eventType, order, s.now())
	if err := s.events.Publish(env); err != nil {
		logger.WithError(domain.WrapError(domain.KindNotificationDelivery, "order.notify", err, "")).
			WithField("event_type", eventType.String()).
			Warn("failed to hand off order notification")
		return
	}
	logger.WithFields(log.Fields{
		"stage":       domain.StageNotified,
		"event_type":  eventType.String(),
		"envelope_id": env.ID(),
	}).Debug("order notification handed off")
}

func (s *Service) succeed(logger *log.Entry, operation string, started time.Time) {
	s.metrics.RecordOperation(operation, string(domain.StageNotified), time.Since(started))
	logger.Info("order operation completed")
}

func (s *Service) fail(logger *log.Entry, operation string, started time.Time, stage domain.OrderStage, err error) error {
	kind := domain.KindOf(err)
	s.metrics.RecordOperation(operation, kind.String(), time.Since(started))

	entry := logger.WithError(err).WithFields(log.Fields{
		"stage": stage,
		"kind":  kind.String(),
	})
	if kind == domain.KindTransient || kind == domain.KindUnknown {
		entry.Error("order operation failed")
	} else {
		entry.Warn("order operation rejected")
	}
	return err
}

// persistenceError переводит ошибку репозитория в доменный вид.
// Всё, что не NotFound и не конфликт, считается временной недоступностью хранилища.
func persistenceError(op, id string, err error) error {
	subject := "order"
	if id != "" {
		subject = "order " + id
	}
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return domain.WrapError(domain.KindNotFound, op, err, subject+" not found")
	case domain.KindConflict:
		return domain.WrapError(domain.KindConflict, op, err, subject+" was modified concurrently")
	default:
		return domain.WrapError(domain.KindTransient, op, err, "order repository unavailable")
	}
}
