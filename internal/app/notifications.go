package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/notify"
	"github.com/vladislavdragonenkov/shop/internal/notify/email"
	"github.com/vladislavdragonenkov/shop/internal/notify/realtime"
)

// Имена подписчиков попадают в логи и в метку subscriber метрик.
const (
	subscriberOrderEmail      = "order-email"
	subscriberOrderRealtime   = "order-realtime"
	subscriberOrderKafka      = "order-kafka"
	subscriberProductRealtime = "product-realtime"
	subscriberProductKafka    = "product-kafka"
	subscriberProductDigest   = "product-digest"
)

// notificationPipeline связывает диспетчеры заказов и товаров с их подписчиками.
type notificationPipeline struct {
	orders     *notify.Dispatcher[domain.Order]
	products   *notify.Dispatcher[domain.Product]
	orderHub   *realtime.Hub
	productHub *realtime.Hub
	producer   *kafka.Producer
	mailer     email.Mailer
}

// newNotificationPipeline создаёт диспетчеры и подписывает на них email, websocket и Kafka.
// Kafka подключается только при заданных брокерах; ошибка подключения не останавливает сервис.
func newNotificationPipeline(cfg Config, registerer prometheus.Registerer, logger *log.Entry) (*notificationPipeline, error) {
	dropPolicy, err := notify.ParseDropPolicy(cfg.NotifyDropPolicy)
	if err != nil {
		return nil, err
	}
	notificationMetrics := metrics.NewNotificationMetrics(registerer)
	dispatcherOptions := func(entity domain.EntityKind) []notify.Option {
		return []notify.Option{
			notify.WithLogger(logger.WithFields(log.Fields{"component": "notify-dispatcher", "entity": entity.String()})),
			notify.WithMetrics(notificationMetrics),
			notify.WithInboxSize(cfg.NotifyInboxSize),
			notify.WithDropPolicy(dropPolicy),
			notify.WithHandlerTimeout(cfg.NotifyHandlerTimeout),
		}
	}

	p := &notificationPipeline{
		orders:     notify.NewDispatcher[domain.Order](dispatcherOptions(domain.EntityOrder)...),
		products:   notify.NewDispatcher[domain.Product](dispatcherOptions(domain.EntityProduct)...),
		orderHub:   realtime.NewHub(domain.EntityOrder, realtime.WithLogger(logger.WithField("component", "realtime-hub"))),
		productHub: realtime.NewHub(domain.EntityProduct, realtime.WithLogger(logger.WithField("component", "realtime-hub"))),
	}

	p.mailer, err = newMailer(cfg, logger)
	if err != nil {
		p.close(context.Background(), logger)
		return nil, err
	}
	if _, err := p.orders.Subscribe(subscriberOrderEmail,
		email.NewNotifier(p.mailer, logger.WithField("component", "email-notifier")),
		notify.WithEventTypes[domain.Order](domain.EventCreated),
	); err != nil {
		p.close(context.Background(), logger)
		return nil, fmt.Errorf("subscribe %s: %w", subscriberOrderEmail, err)
	}
	if _, err := p.orders.Subscribe(subscriberOrderRealtime, realtime.NewHandler[domain.Order](p.orderHub)); err != nil {
		p.close(context.Background(), logger)
		return nil, fmt.Errorf("subscribe %s: %w", subscriberOrderRealtime, err)
	}
	if _, err := p.products.Subscribe(subscriberProductRealtime, realtime.NewHandler[domain.Product](p.productHub)); err != nil {
		p.close(context.Background(), logger)
		return nil, fmt.Errorf("subscribe %s: %w", subscriberProductRealtime, err)
	}

	p.producer = initKafkaProducer(cfg.KafkaBrokers, logger)
	if p.producer != nil {
		if err := p.subscribeKafka(cfg, registerer, logger); err != nil {
			p.close(context.Background(), logger)
			return nil, err
		}
	}

	return p, nil
}

func (p *notificationPipeline) subscribeKafka(cfg Config, registerer prometheus.Registerer, logger *log.Entry) error {
	brokerMetrics := metrics.NewBrokerMetrics(registerer)
	kafkaLogger := logger.WithField("component", "kafka-subscriber")

	orderOptions := []kafka.SubscriberOption[domain.Order]{
		kafka.WithLogger[domain.Order](kafkaLogger),
		kafka.WithMetrics[domain.Order](brokerMetrics),
		// Ключ партиционирования: id заказа, чтобы события одного заказа шли по порядку.
		kafka.WithKey[domain.Order](func(o domain.Order) string { return o.ID }),
	}
	productOptions := []kafka.SubscriberOption[domain.Product]{
		kafka.WithLogger[domain.Product](kafkaLogger),
		kafka.WithMetrics[domain.Product](brokerMetrics),
		kafka.WithKey[domain.Product](func(p domain.Product) string { return p.ID }),
	}
	if cfg.KafkaTopic != "" {
		orderOptions = append(orderOptions, kafka.WithTopic[domain.Order](cfg.KafkaTopic))
	}
	if cfg.KafkaProductTopic != "" {
		productOptions = append(productOptions, kafka.WithTopic[domain.Product](cfg.KafkaProductTopic))
	}
	if cfg.KafkaDLQTopic != "" {
		orderOptions = append(orderOptions, kafka.WithDLQTopic[domain.Order](cfg.KafkaDLQTopic))
		productOptions = append(productOptions, kafka.WithDLQTopic[domain.Product](cfg.KafkaDLQTopic))
	}

	if _, err := p.orders.Subscribe(subscriberOrderKafka,
		kafka.NewSubscriber(p.producer, domain.EntityOrder, orderOptions...)); err != nil {
		return fmt.Errorf("subscribe %s: %w", subscriberOrderKafka, err)
	}
	if _, err := p.products.Subscribe(subscriberProductKafka,
		kafka.NewSubscriber(p.producer, domain.EntityProduct, productOptions...)); err != nil {
		return fmt.Errorf("subscribe %s: %w", subscriberProductKafka, err)
	}
	return nil
}

// subscribeDigest подписывает рассылку новых товаров на диспетчер товаров.
// Запуск периодической отправки остаётся за вызывающим.
func (p *notificationPipeline) subscribeDigest(users email.Recipients, logger *log.Entry) (*email.Digest, error) {
	digest := email.NewDigest(p.mailer, users, logger.WithField("component", "email-digest"))
	if _, err := p.products.Subscribe(subscriberProductDigest, digest); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subscriberProductDigest, err)
	}
	return digest, nil
}

// close дожидается доставки ожидающих конвертов, затем отключает websocket-клиентов и Kafka.
func (p *notificationPipeline) close(ctx context.Context, logger *log.Entry) {
	if p == nil {
		return
	}
	if err := p.orders.Close(ctx); err != nil {
		logger.WithError(err).Warn("order dispatcher closed with pending deliveries")
	}
	if err := p.products.Close(ctx); err != nil {
		logger.WithError(err).Warn("product dispatcher closed with pending deliveries")
	}
	p.orderHub.Close()
	p.productHub.Close()
	closeKafka(p.producer, logger)
	p.producer = nil
}

// newMailer выбирает SMTP при заданном адресе, иначе письма только логируются.
func newMailer(cfg Config, logger *log.Entry) (email.Mailer, error) {
	if cfg.SMTPAddr == "" {
		logger.Info("smtp is not configured, confirmation emails will be logged")
		return email.NewLogMailer(logger.WithField("component", "mailer")), nil
	}
	mailer, err := email.NewSMTPMailer(email.SMTPConfig{
		Addr:     cfg.SMTPAddr,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("configure smtp: %w", err)
	}
	return mailer, nil
}

// initKafkaProducer подключается к брокерам; при пустом списке или ошибке возвращает nil.
func initKafkaProducer(brokers []string, logger *log.Entry) *kafka.Producer {
	if len(brokers) == 0 {
		return nil
	}
	producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: brokers, ClientID: "shop-service"}, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}
	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer
}

func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
