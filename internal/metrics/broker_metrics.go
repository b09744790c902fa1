package metrics

import "github.com/prometheus/client_golang/prometheus"

// Результаты попытки публикации в брокер.
const (
	BrokerSent       = "sent"
	BrokerRetryError = "retry_error"
	BrokerDLQ        = "dlq"
	BrokerDLQFailed  = "dlq_failed"
)

// BrokerMetrics считает попытки публикации конвертов в Kafka.
type BrokerMetrics struct {
	attempts *prometheus.CounterVec
}

// NewBrokerMetrics регистрирует метрики в registerer (nil означает default registerer).
func NewBrokerMetrics(registerer prometheus.Registerer) *BrokerMetrics {
	return &BrokerMetrics{
		attempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_broker_publish_attempts_total",
			Help: "Total number of broker publish attempts grouped by topic and result.",
		}, []string{"topic", "result"}),
	}
}

// RecordAttempt фиксирует результат попытки публикации.
func (m *BrokerMetrics) RecordAttempt(topic, result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(topic, result).Inc()
}
