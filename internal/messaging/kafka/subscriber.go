package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/notify"
)

const (
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// SubscriberOption настраивает Subscriber.
type SubscriberOption[T any] func(*Subscriber[T])

// WithLogger задаёт logger подписчика.
func WithLogger[T any](logger *log.Entry) SubscriberOption[T] {
	return func(s *Subscriber[T]) {
		s.logger = logger
	}
}

// WithTopic переопределяет topic событий.
func WithTopic[T any](topic string) SubscriberOption[T] {
	return func(s *Subscriber[T]) {
		s.topic = topic
	}
}

// WithDLQTopic задаёт topic для сообщений, не опубликованных после всех попыток.
// Пустая строка отключает DLQ.
func WithDLQTopic[T any](topic string) SubscriberOption[T] {
	return func(s *Subscriber[T]) {
		s.dlqTopic = topic
	}
}

// WithMaxAttempts задаёт число попыток публикации перед DLQ.
func WithMaxAttempts[T any](attempts int) SubscriberOption[T] {
	return func(s *Subscriber[T]) {
		s.maxAttempts = attempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay[T any](delay time.Duration) SubscriberOption[T] {
	return func(s *Subscriber[T]) {
		s.retryBaseDelay = delay
	}
}

// WithKey задаёт ключ партиционирования по payload (по умолчанию ID конверта).
func WithKey[T any](key func(T) string) SubscriberOption[T] {
	return func(s *Subscriber[T]) {
		s.key = key
	}
}

// WithMetrics подключает метрики попыток публикации.
func WithMetrics[T any](m *metrics.BrokerMetrics) SubscriberOption[T] {
	return func(s *Subscriber[T]) {
		s.metrics = m
	}
}

// Subscriber — подписчик диспетчера, пересылающий конверты в Kafka.
// Повторы и DLQ реализованы здесь: диспетчер доставку не повторяет.
type Subscriber[T any] struct {
	producer       *Producer
	logger         *log.Entry
	metrics        *metrics.BrokerMetrics
	topic          string
	dlqTopic       string
	maxAttempts    int
	retryBaseDelay time.Duration
	key            func(T) string
}

// NewSubscriber создаёт подписчика для сущности entity.
func NewSubscriber[T any](producer *Producer, entity domain.EntityKind, options ...SubscriberOption[T]) *Subscriber[T] {
	s := &Subscriber[T]{
		producer:       producer,
		topic:          TopicFor(entity),
		dlqTopic:       TopicDeadLetterQueue,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "kafka-subscriber")
	}
	s.logger = s.logger.WithField("topic", s.topic)
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.retryBaseDelay < 0 {
		s.retryBaseDelay = 0
	}
	return s
}

// Handle публикует конверт с повторами; после исчерпания попыток отправляет его в DLQ.
// Ошибка возвращается, только если сообщение не удалось сохранить ни в topic, ни в DLQ.
func (s *Subscriber[T]) Handle(ctx context.Context, env domain.Envelope[T]) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.ID(), err)
	}
	key := env.ID()
	if s.key != nil {
		key = s.key(env.Payload())
	}
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderEnvelopeID), Value: []byte(env.ID())},
		{Key: []byte(HeaderEntity), Value: []byte(env.Entity().String())},
		{Key: []byte(HeaderEventType), Value: []byte(env.Type().String())},
	}

	attempts, publishErr := s.publishWithRetry(ctx, key, value, headers)
	if publishErr == nil {
		return nil
	}

	logger := s.logger.WithError(publishErr).WithFields(log.Fields{
		"envelope_id": env.ID(),
		"event_type":  env.Type().String(),
	})
	if s.dlqTopic == "" {
		logger.Error("envelope publish failed after retries, dlq disabled")
		return publishErr
	}
	if dlqErr := s.publishToDLQ(env, key, value, attempts, publishErr); dlqErr != nil {
		s.metrics.RecordAttempt(s.dlqTopic, metrics.BrokerDLQFailed)
		logger.WithField("dlq_error", dlqErr.Error()).Error("failed to publish envelope to DLQ")
		return fmt.Errorf("%w; dlq: %v", publishErr, dlqErr)
	}
	s.metrics.RecordAttempt(s.dlqTopic, metrics.BrokerDLQ)
	logger.WithField("attempts", attempts).Error("envelope sent to DLQ")
	return nil
}

// publishWithRetry возвращает число сделанных попыток вместе с итоговой ошибкой.
func (s *Subscriber[T]) publishWithRetry(ctx context.Context, key string, value []byte, headers []sarama.RecordHeader) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.producer.PublishRaw(s.topic, key, value, headers...)
		if err == nil {
			s.metrics.RecordAttempt(s.topic, metrics.BrokerSent)
			return attempt, nil
		}
		lastErr = err
		s.metrics.RecordAttempt(s.topic, metrics.BrokerRetryError)

		if attempt >= s.maxAttempts {
			break
		}
		delay := retryBackoff(s.retryBaseDelay, attempt)
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("publish interrupted after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}

	return s.maxAttempts, fmt.Errorf("publish failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *Subscriber[T]) publishToDLQ(env domain.Envelope[T], key string, value []byte, attempts int, publishErr error) error {
	failedAt := time.Now().UTC()
	letter := DeadLetter{
		OriginalTopic: s.topic,
		Key:           key,
		EnvelopeID:    env.ID(),
		Entity:        env.Entity().String(),
		EventType:     env.Type().String(),
		Envelope:      json.RawMessage(value),
		Attempts:      attempts,
		PublishError:  publishErr.Error(),
		FailedAt:      failedAt,
	}
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderOriginalTopic), Value: []byte(s.topic)},
		{Key: []byte(HeaderErrorMessage), Value: []byte(publishErr.Error())},
		{Key: []byte(HeaderFailedAt), Value: []byte(failedAt.Format(time.RFC3339))},
	}
	return s.producer.PublishEvent(s.dlqTopic, key, letter, headers...)
}

// retryBackoff удваивает задержку на каждой попытке, не переполняя Duration.
func retryBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	const maxDuration = time.Duration(1<<63 - 1)
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}

var _ notify.Handler[domain.Order] = (*Subscriber[domain.Order])(nil)
