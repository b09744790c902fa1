package domain

import "context"

// ProductCatalog — чтение текущей цены и остатка товара.
type ProductCatalog interface {
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, id string) (Product, error)
}

// ProductRepository хранит товары каталога.
type ProductRepository interface {
	ProductCatalog
	// Create сохраняет новый товар; пустой ID назначается хранилищем.
	Create(ctx context.Context, product Product) (Product, error)
	// Save перезаписывает существующий товар или возвращает ErrProductNotFound.
	Save(ctx context.Context, product Product) (Product, error)
	// Delete удаляет товар или возвращает ErrProductNotFound.
	Delete(ctx context.Context, id string) error
	// List возвращает товары, отсортированные по имени; limit<=0 снимает ограничение.
	List(ctx context.Context, limit int) ([]Product, error)
}

// CatalogInvalidator сбрасывает закешированное состояние товара.
type CatalogInvalidator interface {
	Invalidate(ctx context.Context, productID string) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ и назначает ему идентификатор.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByCustomer возвращает заказы клиента, новые первыми; limit<=0 снимает ограничение.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// Save заменяет заказ целиком с учётом optimistic locking и возвращает сохранённую версию.
	Save(ctx context.Context, order Order) (Order, error)
	// Delete удаляет заказ согласно политике хранилища или возвращает ErrOrderNotFound.
	Delete(ctx context.Context, id string) error
}

// Publisher принимает конверт на доставку и возвращается сразу после передачи.
type Publisher[T any] interface {
	Publish(env Envelope[T]) error
}

// OrderStage — этап обработки заказа для логов и метрик.
type OrderStage string

const (
	StageRequested          OrderStage = "requested"
	StageValidated          OrderStage = "validated"
	StagePersisted          OrderStage = "persisted"
	StageNotified           OrderStage = "notified"
	StageRejectedValidation OrderStage = "rejected_validation"
	StagePersistenceFailed  OrderStage = "persistence_failed"
)
