package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const defaultCallTimeout = 2 * time.Second

// Builder проверяет запрошенные позиции по каталогу и собирает агрегат заказа.
// Побочных эффектов нет: каталог только читается.
type Builder struct {
	catalog     domain.ProductCatalog
	callTimeout time.Duration
}

// NewBuilder создаёт Builder. callTimeout ограничивает каждое обращение к каталогу.
func NewBuilder(catalog domain.ProductCatalog, callTimeout time.Duration) *Builder {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Builder{catalog: catalog, callTimeout: callTimeout}
}

// Build валидирует запрос и возвращает заказ без идентификатора.
// Цена всегда берётся из каталога; переданная в запросе цена только сверяется.
// Любая ошибка означает, что заказ не собран целиком (частичных заказов не бывает).
func (b *Builder) Build(ctx context.Context, customerID string, customer domain.Customer, requested []domain.RequestedLine) (domain.Order, error) {
	const op = "order.build"

	if len(requested) == 0 {
		return domain.Order{}, domain.NewError(domain.KindNoLines, op, "")
	}
	if err := validateRequest(customerID, customer, requested); err != nil {
		return domain.Order{}, domain.WrapError(domain.KindInvalidRequest, op, err, "invalid order request")
	}

	// Суммарное количество по товару: один товар может встречаться в нескольких строках.
	demand := make(map[string]int, len(requested))
	for _, line := range requested {
		demand[line.ProductID] += line.Quantity
	}

	products := make(map[string]domain.Product, len(demand))
	lines := make([]domain.LineItem, 0, len(requested))
	for idx, line := range requested {
		product, ok := products[line.ProductID]
		if !ok {
			var err error
			product, err = b.lookup(ctx, op, line.ProductID)
			if err != nil {
				return domain.Order{}, err
			}
			products[line.ProductID] = product
		}

		if line.UnitPrice != nil && !line.UnitPrice.Equal(product.Price) {
			return domain.Order{}, domain.NewError(domain.KindBadPrice, op, fmt.Sprintf(
				"line %d: price %s for product %s does not match catalog price %s",
				idx, line.UnitPrice.String(), product.ID, product.Price.StringFixed(2),
			))
		}
		if !product.Available(demand[line.ProductID]) {
			return domain.Order{}, domain.NewError(domain.KindOutOfStock, op, fmt.Sprintf(
				"line %d: product %s has %d in stock, requested %d",
				idx, product.ID, product.Stock, demand[line.ProductID],
			))
		}

		lines = append(lines, domain.LineItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			UnitPrice:   product.Price,
			Quantity:    line.Quantity,
		})
	}

	order := domain.Order{
		CustomerID: customerID,
		Customer:   customer,
		Lines:      lines,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, domain.WrapError(domain.KindInvalidRequest, op, errors.Join(errs...), "order invariants violated")
	}

	return order, nil
}

func (b *Builder) lookup(ctx context.Context, op, productID string) (domain.Product, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	product, err := b.catalog.Get(callCtx, productID)
	if err == nil {
		return product, nil
	}
	if domain.KindOf(err) == domain.KindNotFound {
		return domain.Product{}, domain.WrapError(domain.KindNotFound, op, err, fmt.Sprintf("product %s not found", productID))
	}
	return domain.Product{}, domain.WrapError(domain.KindTransient, op, err, fmt.Sprintf("catalog lookup for product %s failed", productID))
}

func validateRequest(customerID string, customer domain.Customer, requested []domain.RequestedLine) error {
	var errs []error
	if strings.TrimSpace(customerID) == "" {
		errs = append(errs, domain.ErrCustomerRequired)
	}
	errs = append(errs, customer.Validate()...)
	for idx, line := range requested {
		if strings.TrimSpace(line.ProductID) == "" {
			errs = append(errs, fmt.Errorf("line %d: %w", idx, domain.ErrProductIDRequired))
		}
		if line.Quantity < 1 {
			errs = append(errs, fmt.Errorf("line %d: %w", idx, domain.ErrLineQuantityInvalid))
		}
		if line.UnitPrice != nil && line.UnitPrice.IsNegative() {
			errs = append(errs, fmt.Errorf("line %d: %w", idx, domain.ErrLinePriceNegative))
		}
	}
	return errors.Join(errs...)
}
