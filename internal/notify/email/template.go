package email

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Order {{.ID}}</title></head>
<body>
<h1>Thank you for your order, {{.CustomerName}}!</h1>
<p>Order <strong>{{.ID}}</strong> was received on {{.CreatedAt}}.</p>
<table>
<thead><tr><th>Product</th><th>Quantity</th><th>Unit price</th><th>Total</th></tr></thead>
<tbody>
{{- range .Lines}}
<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Total}}</td></tr>
{{- end}}
</tbody>
</table>
<p>Items: {{.TotalItems}}</p>
<p>Total: <strong>{{.TotalAmount}}</strong></p>
<p>Shipping to: {{.Address}}</p>
</body>
</html>
`))

type confirmationLine struct {
	Name      string
	Quantity  int
	UnitPrice string
	Total     string
}

type confirmationView struct {
	ID           string
	CustomerName string
	CreatedAt    string
	Lines        []confirmationLine
	TotalItems   int
	TotalAmount  string
	Address      string
}

// RenderConfirmation возвращает тему и HTML-тело письма-подтверждения.
func RenderConfirmation(order domain.Order) (subject, body string, err error) {
	view := confirmationView{
		ID:           order.ID,
		CustomerName: order.Customer.FullName,
		CreatedAt:    order.CreatedAt.Format("2006-01-02 15:04 MST"),
		TotalItems:   order.TotalItems(),
		TotalAmount:  order.TotalAmount().StringFixed(2),
	}
	addr := order.Customer.Address
	view.Address = fmt.Sprintf("%s %s, %s %s, %s, %s", addr.Street, addr.Number, addr.PostalCode, addr.City, addr.Province, addr.Country)
	for _, line := range order.Lines {
		view.Lines = append(view.Lines, confirmationLine{
			Name:      line.ProductName,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
			Total:     line.Total().StringFixed(2),
		})
	}

	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, view); err != nil {
		return "", "", fmt.Errorf("render confirmation: %w", err)
	}
	return fmt.Sprintf("Order %s confirmed", order.ID), buf.String(), nil
}
