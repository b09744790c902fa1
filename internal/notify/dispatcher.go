// Package notify доставляет конверты изменений независимым подписчикам.
//
// У каждого подписчика собственный ограниченный inbox и собственная горутина доставки.
// Publish никогда не блокируется на медленном подписчике: при переполнении inbox
// вытесняется самый старый ожидающий конверт (DropOldest) либо отбрасывается новый
// (DropNewest). Реестр подписчиков копируется при записи, поэтому Publish всегда
// видит согласованный снимок.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
)

const (
	defaultInboxSize      = 64
	defaultHandlerTimeout = 5 * time.Second
	maxHandoffAttempts    = 3
)

var (
	// ErrDispatcherClosed возвращается при публикации или подписке после Close.
	ErrDispatcherClosed = errors.New("dispatcher is closed")
	// ErrDuplicateSubscriber возвращается при повторной подписке с тем же именем.
	ErrDuplicateSubscriber = errors.New("subscriber with this name is already registered")
)

// DropPolicy определяет, что вытесняется при переполнении inbox подписчика.
type DropPolicy int

const (
	// DropOldest вытесняет самый старый ожидающий конверт.
	DropOldest DropPolicy = iota
	// DropNewest отбрасывает публикуемый конверт.
	DropNewest
)

func (p DropPolicy) String() string {
	if p == DropNewest {
		return "newest"
	}
	return "oldest"
}

// ParseDropPolicy разбирает политику из конфигурации; пустая строка означает DropOldest.
func ParseDropPolicy(raw string) (DropPolicy, error) {
	switch raw {
	case "", "oldest":
		return DropOldest, nil
	case "newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("unsupported drop policy: %s", raw)
	}
}

// Handler получает конверты одного подписчика последовательно, в порядке передачи.
type Handler[T any] interface {
	Handle(ctx context.Context, env domain.Envelope[T]) error
}

// HandlerFunc адаптирует функцию к Handler.
type HandlerFunc[T any] func(ctx context.Context, env domain.Envelope[T]) error

// Handle вызывает f(ctx, env).
func (f HandlerFunc[T]) Handle(ctx context.Context, env domain.Envelope[T]) error {
	return f(ctx, env)
}

// Options задаёт параметры диспетчера.
type Options struct {
	Logger         *log.Entry
	Metrics        *metrics.NotificationMetrics
	InboxSize      int
	DropPolicy     DropPolicy
	HandlerTimeout time.Duration
}

// Option настраивает Dispatcher.
type Option func(*Options)

// WithLogger задаёт logger диспетчера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики доставки.
func WithMetrics(m *metrics.NotificationMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithInboxSize задаёт ёмкость inbox по умолчанию.
func WithInboxSize(size int) Option {
	return func(opts *Options) {
		opts.InboxSize = size
	}
}

// WithDropPolicy задаёт политику вытеснения.
func WithDropPolicy(policy DropPolicy) Option {
	return func(opts *Options) {
		opts.DropPolicy = policy
	}
}

// WithHandlerTimeout ограничивает время одной доставки.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.HandlerTimeout = timeout
	}
}

// SubscribeOption настраивает отдельного подписчика.
type SubscribeOption[T any] func(*subscriber[T])

// WithFilter пропускает в inbox только конверты, для которых accept вернул true.
func WithFilter[T any](accept func(domain.Envelope[T]) bool) SubscribeOption[T] {
	return func(s *subscriber[T]) {
		s.filter = accept
	}
}

// WithEventTypes ограничивает подписчика перечисленными типами событий.
func WithEventTypes[T any](types ...domain.EventType) SubscribeOption[T] {
	allowed := make(map[domain.EventType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return WithFilter(func(env domain.Envelope[T]) bool {
		_, ok := allowed[env.Type()]
		return ok
	})
}

// WithSubscriberInbox переопределяет ёмкость inbox для подписчика.
func WithSubscriberInbox[T any](size int) SubscribeOption[T] {
	return func(s *subscriber[T]) {
		if size > 0 {
			s.inbox = make(chan domain.Envelope[T], size)
		}
	}
}

type subscriber[T any] struct {
	name    string
	handler Handler[T]
	filter  func(domain.Envelope[T]) bool
	inbox   chan domain.Envelope[T]
	done    chan struct{}
	drain   atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

func (s *subscriber[T]) stop(drain bool) {
	s.once.Do(func() {
		s.drain.Store(drain)
		close(s.done)
		if !drain {
			s.cancel()
		}
	})
}

// discarding сообщает, что подписка снята без дренажа и inbox больше не читается.
func (s *subscriber[T]) discarding() bool {
	select {
	case <-s.done:
		return !s.drain.Load()
	default:
		return false
	}
}

// Subscription — дескриптор подписки.
type Subscription struct {
	name        string
	unsubscribe func()
}

// Name возвращает имя подписчика.
func (s *Subscription) Name() string {
	return s.name
}

// Unsubscribe исключает подписчика из реестра. Новые публикации ему не передаются,
// ожидающие в inbox конверты отбрасываются. Повторный вызов безопасен.
func (s *Subscription) Unsubscribe() {
	s.unsubscribe()
}

// Dispatcher раздаёт конверты типа T зарегистрированным подписчикам.
type Dispatcher[T any] struct {
	opts    Options
	logger  *log.Entry
	metrics *metrics.NotificationMetrics

	mu     sync.Mutex
	subs   atomic.Pointer[[]*subscriber[T]]
	closed atomic.Bool
	wg     sync.WaitGroup

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewDispatcher создаёт диспетчер без подписчиков.
func NewDispatcher[T any](options ...Option) *Dispatcher[T] {
	opts := Options{
		InboxSize:      defaultInboxSize,
		DropPolicy:     DropOldest,
		HandlerTimeout: defaultHandlerTimeout,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaultHandlerTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "notify-dispatcher")
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher[T]{
		opts:       opts,
		logger:     logger,
		metrics:    opts.Metrics,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	empty := make([]*subscriber[T], 0)
	d.subs.Store(&empty)
	return d
}

// Subscribe регистрирует подписчика и запускает его горутину доставки.
func (d *Dispatcher[T]) Subscribe(name string, handler Handler[T], options ...SubscribeOption[T]) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("subscriber %s: handler is nil", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return nil, ErrDispatcherClosed
	}
	current := *d.subs.Load()
	for _, s := range current {
		if s.name == name {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscriber, name)
		}
	}

	ctx, cancel := context.WithCancel(d.baseCtx)
	sub := &subscriber[T]{
		name:    name,
		handler: handler,
		inbox:   make(chan domain.Envelope[T], d.opts.InboxSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, option := range options {
		option(sub)
	}

	next := make([]*subscriber[T], 0, len(current)+1)
	next = append(next, current...)
	next = append(next, sub)
	d.subs.Store(&next)

	d.wg.Add(1)
	go d.run(sub)

	d.logger.WithFields(log.Fields{
		"subscriber": name,
		"inbox_size": cap(sub.inbox),
	}).Info("subscriber registered")

	return &Subscription{
		name:        name,
		unsubscribe: func() { d.unsubscribe(sub) },
	}, nil
}

func (d *Dispatcher[T]) unsubscribe(sub *subscriber[T]) {
	d.mu.Lock()
	current := *d.subs.Load()
	next := make([]*subscriber[T], 0, len(current))
	removed := false
	for _, s := range current {
		if s == sub {
			removed = true
			continue
		}
		next = append(next, s)
	}
	if removed {
		d.subs.Store(&next)
	}
	d.mu.Unlock()

	sub.stop(false)
	if removed {
		d.metrics.ForgetSubscriber(sub.name)
		d.logger.WithField("subscriber", sub.name).Info("subscriber removed")
	}
}

// Subscribers возвращает имена подписчиков из текущего снимка реестра.
func (d *Dispatcher[T]) Subscribers() []string {
	current := *d.subs.Load()
	names := make([]string, 0, len(current))
	for _, s := range current {
		names = append(names, s.name)
	}
	return names
}

// Publish передаёт конверт каждому подписчику из текущего снимка и сразу возвращается.
// Каждый подписчик получает собственную копию конверта.
func (d *Dispatcher[T]) Publish(env domain.Envelope[T]) error {
	if d.closed.Load() {
		return ErrDispatcherClosed
	}

	d.metrics.RecordPublished(env.Entity().String(), env.Type().String())

	for _, sub := range *d.subs.Load() {
		if sub.filter != nil && !sub.filter(env) {
			continue
		}
		d.handoff(sub, env.Clone())
	}
	return nil
}

func (d *Dispatcher[T]) handoff(sub *subscriber[T], env domain.Envelope[T]) {
	select {
	case sub.inbox <- env:
		d.metrics.SetInboxDepth(sub.name, len(sub.inbox))
		return
	default:
	}

	if d.opts.DropPolicy == DropNewest {
		d.recordDrop(sub, env)
		return
	}

	// Конкурирующие публикации могут занять освободившийся слот,
	// поэтому число попыток ограничено; после них отбрасывается новый конверт.
	for attempt := 0; attempt < maxHandoffAttempts; attempt++ {
		select {
		case oldest := <-sub.inbox:
			d.recordDrop(sub, oldest)
		default:
		}
		select {
		case sub.inbox <- env:
			d.metrics.SetInboxDepth(sub.name, len(sub.inbox))
			return
		default:
		}
	}
	d.recordDrop(sub, env)
}

func (d *Dispatcher[T]) recordDrop(sub *subscriber[T], env domain.Envelope[T]) {
	d.metrics.RecordDropped(sub.name)
	d.logger.WithFields(log.Fields{
		"subscriber":  sub.name,
		"envelope_id": env.ID(),
		"entity":      env.Entity().String(),
		"event_type":  env.Type().String(),
		"policy":      d.opts.DropPolicy.String(),
	}).Debug("subscriber inbox is full, envelope dropped")
}

func (d *Dispatcher[T]) run(sub *subscriber[T]) {
	defer d.wg.Done()
	defer sub.cancel()

	for {
		if sub.discarding() {
			return
		}
		select {
		case env := <-sub.inbox:
			// done мог закрыться одновременно с приходом конверта
			if sub.discarding() {
				return
			}
			d.deliver(sub, env)
		case <-sub.done:
			if !sub.drain.Load() {
				return
			}
			for {
				select {
				case env := <-sub.inbox:
					d.deliver(sub, env)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher[T]) deliver(sub *subscriber[T], env domain.Envelope[T]) {
	d.metrics.SetInboxDepth(sub.name, len(sub.inbox))

	ctx, cancel := context.WithTimeout(sub.ctx, d.opts.HandlerTimeout)
	defer cancel()

	if err := safeHandle(ctx, sub.handler, env); err != nil {
		deliveryErr := domain.WrapError(domain.KindNotificationDelivery, "notify.deliver", err, "subscriber "+sub.name)
		d.metrics.RecordDelivery(sub.name, metrics.DeliveryFailed)
		d.logger.WithError(deliveryErr).WithFields(log.Fields{
			"subscriber":  sub.name,
			"envelope_id": env.ID(),
			"entity":      env.Entity().String(),
			"event_type":  env.Type().String(),
		}).Warn("notification delivery failed")
		return
	}
	d.metrics.RecordDelivery(sub.name, metrics.DeliveryDelivered)
}

func safeHandle[T any](ctx context.Context, handler Handler[T], env domain.Envelope[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return handler.Handle(ctx, env)
}

// Close запрещает новые публикации, даёт подписчикам доставить ожидающие конверты
// и ждёт завершения горутин. По истечении ctx текущие доставки отменяются.
func (d *Dispatcher[T]) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed.Swap(true) {
		d.mu.Unlock()
		return nil
	}
	current := *d.subs.Load()
	empty := make([]*subscriber[T], 0)
	d.subs.Store(&empty)
	d.mu.Unlock()

	for _, sub := range current {
		sub.stop(true)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelBase()
		return nil
	case <-ctx.Done():
		d.cancelBase()
		d.logger.WithError(ctx.Err()).Warn("dispatcher close timed out, pending deliveries canceled")
		return ctx.Err()
	}
}
