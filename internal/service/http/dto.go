package httpsvc

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
	"github.com/vladislavdragonenkov/shop/internal/service/product"
)

// lineRequest — позиция заказа в теле запроса. unit_price можно не передавать.
type lineRequest struct {
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type orderRequest struct {
	CustomerID string          `json:"customer_id"`
	Customer   domain.Customer `json:"customer"`
	Lines      []lineRequest   `json:"lines"`
}

func (r orderRequest) toService() order.Request {
	lines := make([]domain.RequestedLine, 0, len(r.Lines))
	for _, line := range r.Lines {
		lines = append(lines, domain.RequestedLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return order.Request{
		CustomerID: r.CustomerID,
		Customer:   r.Customer,
		Lines:      lines,
	}
}

type productRequest struct {
	ID          string           `json:"id,omitempty"`
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Image       *string          `json:"image,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int             `json:"stock,omitempty"`
}

func (r productRequest) toService() product.Input {
	return product.Input{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		Image:       r.Image,
		Price:       r.Price,
		Stock:       r.Stock,
	}
}

type orderListResponse struct {
	Orders []domain.Order `json:"orders"`
}

type deleteOrderResponse struct {
	Message string       `json:"message"`
	Order   domain.Order `json:"order"`
}

type productListResponse struct {
	Products []domain.Product `json:"products"`
}
