package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrCustomerRequired — не указан идентификатор клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// ErrProductIDRequired — позиция без идентификатора товара.
	ErrProductIDRequired = errors.New("line product_id is required")
	// ErrLineQuantityInvalid — количество в позиции меньше единицы.
	ErrLineQuantityInvalid = errors.New("line quantity must be at least 1")
	// ErrLinePriceNegative — отрицательная цена позиции.
	ErrLinePriceNegative = errors.New("line unit price must be non-negative")
)

// LineItem — позиция заказа. Название и цена фиксируются в момент валидации,
// поэтому последующие изменения каталога не влияют на исторические заказы.
type LineItem struct {
	ProductID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// Total возвращает стоимость позиции: цена × количество.
func (l LineItem) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// RequestedLine — позиция во входящем запросе. UnitPrice опционален:
// если цена не передана, она берётся из каталога.
type RequestedLine struct {
	ProductID string
	Quantity  int
	UnitPrice *decimal.Decimal
}

// Order — агрегат заказа. Итоги не хранятся в полях, а всегда
// вычисляются из Lines, поэтому их нельзя изменить отдельно от позиций.
type Order struct {
	ID         string
	CustomerID string
	Customer   Customer
	Lines      []LineItem
	Deleted    bool
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ComputeTotals считает количество единиц и сумму по позициям в точной десятичной арифметике.
func ComputeTotals(lines []LineItem) (int, decimal.Decimal) {
	items := 0
	amount := decimal.Zero
	for _, line := range lines {
		items += line.Quantity
		amount = amount.Add(line.Total())
	}
	return items, amount
}

// TotalItems — сумма количеств по всем позициям.
func (o Order) TotalItems() int {
	items, _ := ComputeTotals(o.Lines)
	return items
}

// TotalAmount — сумма цена × количество по всем позициям.
func (o Order) TotalAmount() decimal.Decimal {
	_, amount := ComputeTotals(o.Lines)
	return amount
}

// Clone возвращает копию заказа без общего слайса позиций.
func (o Order) Clone() Order {
	clone := o
	if o.Lines != nil {
		clone.Lines = make([]LineItem, len(o.Lines))
		copy(clone.Lines, o.Lines)
	}
	return clone
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrNoLines)
	}
	for _, line := range o.Lines {
		if line.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if line.Quantity < 1 {
			errs = append(errs, ErrLineQuantityInvalid)
		}
		if line.UnitPrice.IsNegative() {
			errs = append(errs, ErrLinePriceNegative)
		}
	}

	return errs
}

type lineItemJSON struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	Total       string `json:"total"`
}

type orderJSON struct {
	ID          string         `json:"id"`
	CustomerID  string         `json:"customer_id"`
	Customer    Customer       `json:"customer"`
	Lines       []lineItemJSON `json:"lines"`
	TotalItems  int            `json:"total_items"`
	TotalAmount string         `json:"total_amount"`
	Deleted     bool           `json:"deleted"`
	Version     int64          `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// MarshalJSON сериализует заказ вместе с вычисленными итогами.
// Денежные суммы выводятся строкой с двумя знаками после запятой.
func (o Order) MarshalJSON() ([]byte, error) {
	items, amount := ComputeTotals(o.Lines)
	lines := make([]lineItemJSON, 0, len(o.Lines))
	for _, line := range o.Lines {
		lines = append(lines, lineItemJSON{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			UnitPrice:   line.UnitPrice.StringFixed(2),
			Quantity:    line.Quantity,
			Total:       line.Total().StringFixed(2),
		})
	}

	return json.Marshal(orderJSON{
		ID:          o.ID,
		CustomerID:  o.CustomerID,
		Customer:    o.Customer,
		Lines:       lines,
		TotalItems:  items,
		TotalAmount: amount.StringFixed(2),
		Deleted:     o.Deleted,
		Version:     o.Version,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	})
}

// DeletePolicy определяет, как хранилище удаляет заказы.
type DeletePolicy string

const (
	// DeleteHard физически удаляет запись.
	DeleteHard DeletePolicy = "hard"
	// DeleteSoft помечает запись удалённой и скрывает её из чтения.
	DeleteSoft DeletePolicy = "soft"
)

// ParseDeletePolicy разбирает политику удаления; пустая строка означает hard.
func ParseDeletePolicy(raw string) (DeletePolicy, error) {
	switch DeletePolicy(raw) {
	case "", DeleteHard:
		return DeleteHard, nil
	case DeleteSoft:
		return DeleteSoft, nil
	default:
		return "", errors.New("unsupported delete policy: " + raw)
	}
}
