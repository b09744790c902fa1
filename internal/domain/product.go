package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultProductImage используется, если изображение товара не задано.
const DefaultProductImage = "default.png"

var (
	// ErrProductNameRequired — пустое название товара.
	ErrProductNameRequired = errors.New("product name is required")
	// ErrProductPriceNegative — отрицательная цена товара.
	ErrProductPriceNegative = errors.New("product price must be non-negative")
	// ErrProductStockNegative — отрицательный остаток.
	ErrProductStockNegative = errors.New("product stock must be non-negative")
)

// Product — позиция каталога с текущей ценой и остатком.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Image       string          `json:"image"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Available сообщает, хватает ли остатка на qty единиц.
func (p Product) Available(qty int) bool {
	return qty <= p.Stock
}

// Validate проверяет инварианты товара.
func (p *Product) Validate() []error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrProductPriceNegative)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrProductStockNegative)
	}
	return errs
}
