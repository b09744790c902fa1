package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType — закрытый набор типов изменений сущности.
type EventType uint8

const (
	EventCreated EventType = iota + 1
	EventUpdated
	EventDeleted
)

var eventTypeNames = map[EventType]string{
	EventCreated: "CREATED",
	EventUpdated: "UPDATED",
	EventDeleted: "DELETED",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// MarshalText кодирует тип события его именем.
func (t EventType) MarshalText() ([]byte, error) {
	name, ok := eventTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown event type %d", uint8(t))
	}
	return []byte(name), nil
}

// UnmarshalText принимает только известные имена типов.
func (t *EventType) UnmarshalText(text []byte) error {
	for value, name := range eventTypeNames {
		if name == string(text) {
			*t = value
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", string(text))
}

// EntityKind — вид сущности, к которой относится событие.
type EntityKind uint8

const (
	EntityOrder EntityKind = iota + 1
	EntityProduct
)

var entityKindNames = map[EntityKind]string{
	EntityOrder:   "order",
	EntityProduct: "product",
}

func (k EntityKind) String() string {
	if name, ok := entityKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EntityKind(%d)", uint8(k))
}

// MarshalText кодирует вид сущности его именем.
func (k EntityKind) MarshalText() ([]byte, error) {
	name, ok := entityKindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %d", uint8(k))
	}
	return []byte(name), nil
}

// UnmarshalText принимает только известные виды сущностей.
func (k *EntityKind) UnmarshalText(text []byte) error {
	for value, name := range entityKindNames {
		if name == string(text) {
			*k = value
			return nil
		}
	}
	return fmt.Errorf("unknown entity kind %q", string(text))
}

// Cloner реализуют полезные нагрузки, содержащие ссылочные данные.
type Cloner[T any] interface {
	Clone() T
}

// Envelope — неизменяемое уведомление об изменении сущности.
// Поля закрыты, доступ только через методы.
type Envelope[T any] struct {
	id        string
	entity    EntityKind
	eventType EventType
	payload   T
	emittedAt time.Time
}

// NewEnvelope создаёт конверт с новым идентификатором.
func NewEnvelope[T any](entity EntityKind, eventType EventType, payload T, emittedAt time.Time) Envelope[T] {
	return Envelope[T]{
		id:        uuid.NewString(),
		entity:    entity,
		eventType: eventType,
		payload:   payload,
		emittedAt: emittedAt.UTC(),
	}
}

func (e Envelope[T]) ID() string           { return e.id }
func (e Envelope[T]) Entity() EntityKind   { return e.entity }
func (e Envelope[T]) Type() EventType      { return e.eventType }
func (e Envelope[T]) EmittedAt() time.Time { return e.emittedAt }

// Payload возвращает полезную нагрузку. Для Cloner-типов отдаётся копия.
func (e Envelope[T]) Payload() T {
	if c, ok := any(e.payload).(Cloner[T]); ok {
		return c.Clone()
	}
	return e.payload
}

// Clone возвращает логическую копию конверта с собственной копией нагрузки.
func (e Envelope[T]) Clone() Envelope[T] {
	clone := e
	clone.payload = e.Payload()
	return clone
}

type envelopeJSON[T any] struct {
	ID        string     `json:"id"`
	Entity    EntityKind `json:"entity"`
	Type      EventType  `json:"type"`
	Data      T          `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
}

// MarshalJSON — формат, общий для real-time канала и Kafka.
func (e Envelope[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeJSON[T]{
		ID:        e.id,
		Entity:    e.entity,
		Type:      e.eventType,
		Data:      e.payload,
		CreatedAt: e.emittedAt,
	})
}

// UnmarshalJSON восстанавливает конверт из сообщения.
func (e *Envelope[T]) UnmarshalJSON(data []byte) error {
	var raw envelopeJSON[T]
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Envelope[T]{
		id:        raw.ID,
		entity:    raw.Entity,
		eventType: raw.Type,
		payload:   raw.Data,
		emittedAt: raw.CreatedAt,
	}
	return nil
}
