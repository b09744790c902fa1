package product

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	defaultCallTimeout = 2 * time.Second
	defaultListLimit   = 100
)

// Input — поля товара, которые задаёт клиент API.
// Nil-поля при обновлении оставляют текущее значение.
type Input struct {
	ID          string
	Name        *string
	Description *string
	Category    *string
	Image       *string
	Price       *decimal.Decimal
	Stock       *int
}

// Options задаёт необязательные зависимости сервиса.
type Options struct {
	Logger      *log.Entry
	Invalidator domain.CatalogInvalidator
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

// WithInvalidator подключает сброс кеша каталога после изменений.
func WithInvalidator(invalidator domain.CatalogInvalidator) Option {
	return func(opts *Options) {
		opts.Invalidator = invalidator
	}
}

// WithCallTimeout ограничивает каждое обращение к репозиторию.
func WithCallTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.CallTimeout = timeout
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Service управляет каталогом товаров и публикует изменения.
type Service struct {
	repo        domain.ProductRepository
	events      domain.Publisher[domain.Product]
	invalidator domain.CatalogInvalidator
	logger      *log.Entry
	callTimeout time.Duration
	now         func() time.Time
}

// NewService конструирует сервис каталога.
func NewService(repo domain.ProductRepository, events domain.Publisher[domain.Product], options ...Option) *Service {
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
		logger = log.WithField("component", "product-service")
	}

	return &Service{
		repo:        repo,
		events:      events,
		invalidator: opts.Invalidator,
		logger:      logger,
		callTimeout: opts.CallTimeout,
		now:         opts.Clock,
	}
}

// CreateProduct добавляет товар в каталог и публикует CREATED.
func (s *Service) CreateProduct(ctx context.Context, in Input) (domain.Product, error) {
	const op = "product.create"
	if in.Name == nil || in.Price == nil {
		return domain.Product{}, domain.NewError(domain.KindInvalidRequest, op, "name and price are required")
	}

	product := domain.Product{ID: strings.TrimSpace(in.ID), Image: domain.DefaultProductImage}
	apply(&product, in)
	if err := validate(op, product); err != nil {
		return domain.Product{}, err
	}
	now := s.now()
	product.CreatedAt = now
	product.UpdatedAt = now

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	created, err := s.repo.Create(callCtx, product)
	cancel()
	if err != nil {
		return domain.Product{}, s.fail(op, product.ID, err)
	}

	s.notify(domain.EventCreated, created)
	return created, nil
}

// UpdateProduct частично обновляет товар, сбрасывает кеш и публикует UPDATED.
func (s *Service) UpdateProduct(ctx context.Context, id string, in Input) (domain.Product, error) {
	const op = "product.update"
	current, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	apply(&current, in)
	if err := validate(op, current); err != nil {
		return domain.Product{}, err
	}
	current.UpdatedAt = s.now()

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	saved, err := s.repo.Save(callCtx, current)
	cancel()
	if err != nil {
		return domain.Product{}, s.fail(op, id, err)
	}

	s.invalidate(ctx, id)
	s.notify(domain.EventUpdated, saved)
	return saved, nil
}

// DeleteProduct удаляет товар, сбрасывает кеш и публикует DELETED с последним снимком.
func (s *Service) DeleteProduct(ctx context.Context, id string) (domain.Product, error) {
	const op = "product.delete"
	current, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	err = s.repo.Delete(callCtx, id)
	cancel()
	if err != nil {
		return domain.Product{}, s.fail(op, id, err)
	}

	s.invalidate(ctx, id)
	s.notify(domain.EventDeleted, current)
	return current, nil
}

// GetProduct возвращает товар каталога.
func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	const op = "product.get"
	if strings.TrimSpace(id) == "" {
		return domain.Product{}, domain.NewError(domain.KindInvalidRequest, op, "product id is required")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	product, err := s.repo.Get(callCtx, id)
	if err != nil {
		return domain.Product{}, s.fail(op, id, err)
	}
	return product, nil
}

// ListProducts возвращает товары, отсортированные по имени.
func (s *Service) ListProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	products, err := s.repo.List(callCtx, limit)
	if err != nil {
		return nil, s.fail("product.list", "", err)
	}
	return products, nil
}

func apply(product *domain.Product, in Input) {
	if in.Name != nil {
		product.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		product.Description = *in.Description
	}
	if in.Category != nil {
		product.Category = *in.Category
	}
	if in.Image != nil {
		product.Image = *in.Image
		if strings.TrimSpace(product.Image) == "" {
			product.Image = domain.DefaultProductImage
		}
	}
	if in.Price != nil {
		product.Price = *in.Price
	}
	if in.Stock != nil {
		product.Stock = *in.Stock
	}
}

func validate(op string, product domain.Product) error {
	if errs := product.Validate(); len(errs) > 0 {
		return domain.WrapError(domain.KindInvalidRequest, op, errors.Join(errs...), "")
	}
	return nil
}

// invalidate сбрасывает кеш; ошибка только логируется, TTL кеша ограничит устаревание.
func (s *Service) invalidate(ctx context.Context, id string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, id); err != nil {
		s.logger.WithError(err).WithField("product_id", id).Warn("failed to invalidate catalog cache")
	}
}

func (s *Service) notify(eventType domain.EventType, product domain.Product) {
	if s.events == nil {
		return
	}
	env := domain.NewEnvelope(domain.EntityProduct, eventType, product, s.now())
	if err := s.events.Publish(env); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"product_id": product.ID,
			"event_type": eventType.String(),
		}).Warn("failed to hand off product notification")
		return
	}
	s.logger.WithFields(log.Fields{
		"product_id":  product.ID,
		"event_type":  eventType.String(),
		"envelope_id": env.ID(),
	}).Info("product change published")
}

func (s *Service) fail(op, id string, err error) error {
	var wrapped error
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		wrapped = domain.WrapError(domain.KindNotFound, op, err, fmt.Sprintf("product %s not found", id))
	case domain.KindConflict:
		wrapped = domain.WrapError(domain.KindConflict, op, err, fmt.Sprintf("product %s already exists", id))
	default:
		wrapped = domain.WrapError(domain.KindTransient, op, err, "product repository unavailable")
		s.logger.WithError(err).WithField("operation", op).Error("product repository call failed")
	}
	return wrapped
}
