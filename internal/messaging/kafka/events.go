package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "shop.order.events"
	TopicProductEvents   = "shop.product.events"
	TopicDeadLetterQueue = "shop.notifications.dlq"
)

// Kafka headers событий и DLQ
const (
	HeaderEnvelopeID    = "x-envelope-id"
	HeaderEntity        = "x-entity"
	HeaderEventType     = "x-event-type"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// TopicFor возвращает topic по умолчанию для сущности.
func TopicFor(entity domain.EntityKind) string {
	if entity == domain.EntityProduct {
		return TopicProductEvents
	}
	return TopicOrderEvents
}

// DeadLetter — сообщение, которое не удалось опубликовать после всех попыток.
type DeadLetter struct {
	OriginalTopic string          `json:"original_topic"`
	Key           string          `json:"key"`
	EnvelopeID    string          `json:"envelope_id"`
	Entity        string          `json:"entity"`
	EventType     string          `json:"event_type"`
	Envelope      json.RawMessage `json:"envelope"`
	Attempts      int             `json:"attempts"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

// ErrInvalidDeadLetter возвращается, если запись DLQ нельзя переиграть.
var ErrInvalidDeadLetter = errors.New("invalid dead letter")

// DecodeDeadLetter разбирает запись DLQ и проверяет, что в ней есть конверт.
func DecodeDeadLetter(value []byte) (DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(value, &letter); err != nil {
		return DeadLetter{}, fmt.Errorf("%w: %v", ErrInvalidDeadLetter, err)
	}
	if len(letter.Envelope) == 0 || string(letter.Envelope) == "null" {
		return DeadLetter{}, fmt.Errorf("%w: envelope is empty", ErrInvalidDeadLetter)
	}
	return letter, nil
}

// ReplayTopic — topic, в который конверт должен вернуться.
// Пустой original_topic восстанавливается по сущности.
func (d DeadLetter) ReplayTopic() string {
	if topic := strings.TrimSpace(d.OriginalTopic); topic != "" {
		return topic
	}
	if d.Entity == domain.EntityProduct.String() {
		return TopicProductEvents
	}
	return TopicOrderEvents
}

// ReplayHeaders повторяет headers исходной публикации.
func (d DeadLetter) ReplayHeaders() []sarama.RecordHeader {
	return []sarama.RecordHeader{
		{Key: []byte(HeaderEnvelopeID), Value: []byte(d.EnvelopeID)},
		{Key: []byte(HeaderEntity), Value: []byte(d.Entity)},
		{Key: []byte(HeaderEventType), Value: []byte(d.EventType)},
	}
}
