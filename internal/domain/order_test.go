package domain_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// helper для создания заказа из двух позиций: 2×10.00 + 1×5.50.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:         "order-1",
		CustomerID: "customer-1",
		Lines: []domain.LineItem{
			{ProductID: "p1", ProductName: "Keyboard", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2},
			{ProductID: "p2", ProductName: "Mouse", UnitPrice: decimal.RequireFromString("5.50"), Quantity: 1},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderTotals(t *testing.T) {
	order := makeOrder()

	if got := order.TotalItems(); got != 3 {
		t.Fatalf("expected total items 3, got %d", got)
	}
	if got := order.TotalAmount(); !got.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("expected total amount 25.50, got %s", got)
	}
}

func TestComputeTotals_Idempotent(t *testing.T) {
	lines := makeOrder().Lines

	items1, amount1 := domain.ComputeTotals(lines)
	items2, amount2 := domain.ComputeTotals(lines)

	if items1 != items2 || !amount1.Equal(amount2) {
		t.Fatalf("totals differ between runs: %d/%s vs %d/%s", items1, amount1, items2, amount2)
	}
}

func TestComputeTotals_NoFloatDrift(t *testing.T) {
	lines := make([]domain.LineItem, 0, 10)
	for i := 0; i < 10; i++ {
		lines = append(lines, domain.LineItem{ProductID: "p", UnitPrice: decimal.RequireFromString("0.10"), Quantity: 1})
	}

	_, amount := domain.ComputeTotals(lines)
	if !amount.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected exactly 1.00, got %s", amount)
	}
}

func TestOrderClone_IndependentLines(t *testing.T) {
	order := makeOrder()
	clone := order.Clone()
	clone.Lines[0].Quantity = 99

	if order.Lines[0].Quantity != 2 {
		t.Fatal("clone must not share lines with the original")
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{name: "no customer", mut: func(o *domain.Order) { o.CustomerID = "" }, want: domain.ErrCustomerRequired},
		{name: "no lines", mut: func(o *domain.Order) { o.Lines = nil }, want: domain.ErrNoLines},
		{name: "zero quantity", mut: func(o *domain.Order) { o.Lines[0].Quantity = 0 }, want: domain.ErrLineQuantityInvalid},
		{name: "negative price", mut: func(o *domain.Order) { o.Lines[1].UnitPrice = decimal.RequireFromString("-1") }, want: domain.ErrLinePriceNegative},
		{name: "empty product", mut: func(o *domain.Order) { o.Lines[0].ProductID = "" }, want: domain.ErrProductIDRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)

			errs := order.ValidateInvariants()
			if !errors.Is(errors.Join(errs...), tc.want) {
				t.Fatalf("expected %v among %v", tc.want, errs)
			}
		})
	}
}

func TestOrderMarshalJSON(t *testing.T) {
	data, err := json.Marshal(makeOrder())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["total_amount"] != "25.50" {
		t.Errorf("unexpected total_amount %v", decoded["total_amount"])
	}
	if decoded["total_items"] != float64(3) {
		t.Errorf("unexpected total_items %v", decoded["total_items"])
	}
	lines, ok := decoded["lines"].([]any)
	if !ok || len(lines) != 2 {
		t.Fatalf("unexpected lines %v", decoded["lines"])
	}
	if first := lines[0].(map[string]any); first["total"] != "20.00" {
		t.Errorf("unexpected line total %v", first["total"])
	}
}

func TestParseDeletePolicy(t *testing.T) {
	for raw, want := range map[string]domain.DeletePolicy{"": domain.DeleteHard, "hard": domain.DeleteHard, "soft": domain.DeleteSoft} {
		got, err := domain.ParseDeletePolicy(raw)
		if err != nil || got != want {
			t.Errorf("ParseDeletePolicy(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := domain.ParseDeletePolicy("archive"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
