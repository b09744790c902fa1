package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultClientID   = "shop"
	defaultMaxRetries = 5
)

// ErrEmptyTopic возвращается при попытке отправить сообщение без topic.
var ErrEmptyTopic = errors.New("kafka topic is empty")

// ProducerConfig описывает подключение producer к кластеру.
type ProducerConfig struct {
	Brokers    []string
	ClientID   string
	MaxRetries int
}

// saramaConfig собирает настройки идемпотентного синхронного producer.
func (c ProducerConfig) saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = c.ClientID
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.MaxRetries
	if cfg.Producer.Retry.Max <= 0 {
		cfg.Producer.Retry.Max = defaultMaxRetries
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	// idempotent producer требует не больше одного запроса в полёте
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// Producer синхронно публикует сообщения в Kafka.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
}

// NewProducer подключается к брокерам из cfg.
func NewProducer(cfg ProducerConfig, logger *log.Entry) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}
	sp, err := sarama.NewSyncProducer(cfg.Brokers, cfg.saramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducerFromSync(sp, logger), nil
}

// NewProducerFromSync оборачивает готовый SyncProducer (в тестах mocks.SyncProducer).
func NewProducerFromSync(sp sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: sp, logger: logger}
}

// PublishEvent кодирует value в JSON и отправляет его в topic.
func (p *Producer) PublishEvent(topic, key string, value any, headers ...sarama.RecordHeader) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode kafka message for %s: %w", topic, err)
	}
	return p.PublishRaw(topic, key, raw, headers...)
}

// PublishRaw отправляет уже закодированное сообщение и ждёт подтверждения брокера.
func (p *Producer) PublishRaw(topic, key string, value []byte, headers ...sarama.RecordHeader) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	fields := log.Fields{"topic": topic, "key": key}

	partition, offset, err := p.sync.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   headers,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Warn("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	fields["partition"], fields["offset"] = partition, offset
	p.logger.WithFields(fields).Debug("kafka message acknowledged")
	return nil
}

// Close дожидается отправки буферизованных сообщений и закрывает соединения.
func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
