package metrics

import "github.com/prometheus/client_golang/prometheus"

// Результаты доставки уведомления подписчику.
const (
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// NotificationMetrics содержит метрики диспетчера уведомлений.
type NotificationMetrics struct {
	published  *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	inboxDepth *prometheus.GaugeVec
}

// NewNotificationMetrics регистрирует метрики в registerer (nil означает default registerer).
func NewNotificationMetrics(registerer prometheus.Registerer) *NotificationMetrics {
	return &NotificationMetrics{
		published: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_notifications_published_total",
			Help: "Total number of envelopes handed to the dispatcher.",
		}, []string{"entity", "event_type"}),
		deliveries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_notification_deliveries_total",
			Help: "Total number of envelope deliveries grouped by subscriber and result.",
		}, []string{"subscriber", "result"}),
		dropped: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_notification_dropped_total",
			Help: "Total number of envelopes dropped because a subscriber inbox was full.",
		}, []string{"subscriber"}),
		inboxDepth: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "shop_notification_inbox_depth",
			Help: "Current number of pending envelopes per subscriber inbox.",
		}, []string{"subscriber"}),
	}
}

// RecordPublished увеличивает счётчик опубликованных конвертов.
func (m *NotificationMetrics) RecordPublished(entity, eventType string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(entity, eventType).Inc()
}

// RecordDelivery фиксирует результат доставки подписчику.
func (m *NotificationMetrics) RecordDelivery(subscriber, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(subscriber, result).Inc()
}

// RecordDropped фиксирует вытеснение конверта из переполненного inbox.
func (m *NotificationMetrics) RecordDropped(subscriber string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(subscriber).Inc()
}

// SetInboxDepth публикует текущую глубину inbox подписчика.
func (m *NotificationMetrics) SetInboxDepth(subscriber string, depth int) {
	if m == nil {
		return
	}
	m.inboxDepth.WithLabelValues(subscriber).Set(float64(depth))
}

// ForgetSubscriber удаляет gauge отписавшегося подписчика.
func (m *NotificationMetrics) ForgetSubscriber(subscriber string) {
	if m == nil {
		return
	}
	m.inboxDepth.DeleteLabelValues(subscriber)
}
