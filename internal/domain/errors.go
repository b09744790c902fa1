package domain

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind задаёт закрытый набор видов ошибок домена.
// Вызывающий код сопоставляет вид через KindOf и switch по всем значениям.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindNoLines — в запросе нет ни одной позиции.
	KindNoLines
	// KindBadPrice — цена позиции расходится с ценой каталога.
	KindBadPrice
	// KindNotFound — товар или заказ не существует.
	KindNotFound
	// KindTransient — таймаут или недоступность каталога/хранилища, можно повторить.
	KindTransient
	// KindNotificationDelivery — подписчик не смог принять событие.
	KindNotificationDelivery
	// KindInvalidRequest — запрос некорректен (количество, идентификатор, данные клиента).
	KindInvalidRequest
	// KindOutOfStock — на складе меньше, чем запрошено.
	KindOutOfStock
	// KindConflict — конкурентное изменение того же заказа.
	KindConflict
)

var (
	// ErrNoLines возвращается, если заказ не содержит позиций.
	ErrNoLines = errors.New("order must contain at least one line")
	// ErrBadPrice возвращается при расхождении цены позиции с каталогом.
	ErrBadPrice = errors.New("line price does not match catalog price")
	// ErrNotFound — общий признак отсутствующей сущности.
	ErrNotFound = errors.New("not found")
	// ErrTransient — временная ошибка инфраструктуры.
	ErrTransient = errors.New("transient infrastructure error")
	// ErrNotificationDelivery — ошибка доставки уведомления подписчику.
	ErrNotificationDelivery = errors.New("notification delivery failed")
	// ErrInvalidRequest — некорректные входные данные.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrOutOfStock — недостаточно товара на складе.
	ErrOutOfStock = errors.New("insufficient product stock")
	// ErrConflict — конфликт конкурентных изменений.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrOrderNotFound возвращается репозиторием, если заказа нет (или он помечен удалённым).
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается каталогом, если товара нет.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrProductAlreadyExists — попытка создать товар с занятым ID.
	ErrProductAlreadyExists = errors.New("product already exists")
)

var kindSentinels = map[ErrorKind]error{
	KindNoLines:              ErrNoLines,
	KindBadPrice:             ErrBadPrice,
	KindNotFound:             ErrNotFound,
	KindTransient:            ErrTransient,
	KindNotificationDelivery: ErrNotificationDelivery,
	KindInvalidRequest:       ErrInvalidRequest,
	KindOutOfStock:           ErrOutOfStock,
	KindConflict:             ErrConflict,
}

var kindNames = map[ErrorKind]string{
	KindUnknown:              "unknown",
	KindNoLines:              "no_lines",
	KindBadPrice:             "bad_price",
	KindNotFound:             "not_found",
	KindTransient:            "transient",
	KindNotificationDelivery: "notification_delivery",
	KindInvalidRequest:       "invalid_request",
	KindOutOfStock:           "out_of_stock",
	KindConflict:             "conflict",
}

// String возвращает машинное имя вида ошибки (используется в ответах API и метриках).
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Retryable сообщает, безопасно ли повторить операцию.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindConflict
}

// Error — доменная ошибка с видом, операцией и причиной.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// NewError создаёт доменную ошибку без причины.
func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// WrapError создаёт доменную ошибку поверх причины err.
func WrapError(kind ErrorKind, op string, err error, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case kindSentinels[e.Kind] != nil:
		b.WriteString(kindSentinels[e.Kind].Error())
	default:
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap раскрывает и сентинел вида, и исходную причину,
// поэтому работают и errors.Is(err, ErrNotFound), и errors.Is(err, ErrOrderNotFound).
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel := kindSentinels[e.Kind]; sentinel != nil {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf определяет вид ошибки. Ошибки хранилищ и контекста
// классифицируются без обёртки, всё прочее считается KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}

	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrProductNotFound), errors.Is(err, ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrOrderVersionConflict), errors.Is(err, ErrProductAlreadyExists), errors.Is(err, ErrUserAlreadyExists):
		return KindConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransient
	}

	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// IsNotFound проверяет, что ошибка означает отсутствие сущности.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsRetryable проверяет, можно ли повторить операцию.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
