package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const orderColumns = `id, customer_id, customer, version, deleted, created_at, updated_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type orderRepository struct {
	store  *Store
	policy domain.DeletePolicy
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
// policy определяет поведение Delete (пустая означает hard).
func NewOrderRepository(store *Store, policy domain.DeletePolicy) domain.OrderRepository {
	if policy == "" {
		policy = domain.DeleteHard
	}
	return &orderRepository{store: store, policy: policy}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.Version = 1
	order.Deleted = false

	customer, err := json.Marshal(order.Customer)
	if err != nil {
		return domain.Order{}, fmt.Errorf("marshal customer: %w", err)
	}
	items, amount := domain.ComputeTotals(order.Lines)

	err = r.store.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (
				id, customer_id, customer, total_items, total_amount, version, deleted, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,FALSE,$7,$8)
		`,
			order.ID, order.CustomerID, customer, items, amount,
			order.Version, order.CreatedAt, order.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderVersionConflict
			}
			return fmt.Errorf("insert order: %w", err)
		}
		return insertLines(ctx, tx, order.ID, order.Lines)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order.Clone(), nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	orders, err := r.query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1 AND NOT deleted
	`, id)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return orders[0], nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1 AND NOT deleted
		ORDER BY created_at DESC, id DESC
	`
	if limit > 0 {
		return r.query(ctx, query+" LIMIT $2", customerID, limit)
	}
	return r.query(ctx, query, customerID)
}

func (r *orderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	customer, err := json.Marshal(order.Customer)
	if err != nil {
		return domain.Order{}, fmt.Errorf("marshal customer: %w", err)
	}
	items, amount := domain.ComputeTotals(order.Lines)
	saved := order.Clone()

	err = r.store.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE orders
			SET customer = $1,
			    total_items = $2,
			    total_amount = $3,
			    version = version + 1,
			    updated_at = $4
			WHERE id = $5
			  AND version = $6
			  AND NOT deleted
			RETURNING version, created_at
		`, customer, items, amount, order.UpdatedAt, order.ID, order.Version).
			Scan(&saved.Version, &saved.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return r.missingOrConflict(ctx, tx, order.ID)
		}
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = $1`, order.ID); err != nil {
			return fmt.Errorf("delete order lines: %w", err)
		}
		return insertLines(ctx, tx, order.ID, order.Lines)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return saved, nil
}

func (r *orderRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM orders WHERE id = $1 AND NOT deleted`
	if r.policy == domain.DeleteSoft {
		query = `UPDATE orders SET deleted = TRUE, version = version + 1, updated_at = NOW() WHERE id = $1 AND NOT deleted`
	}

	res, err := r.store.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete order rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// missingOrConflict различает отсутствующий заказ и устаревшую версию.
func (r *orderRepository) missingOrConflict(ctx context.Context, tx *sql.Tx, id string) error {
	var deleted bool
	err := tx.QueryRowContext(ctx, `SELECT deleted FROM orders WHERE id = $1`, id).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("check order version: %w", err)
	}
	return domain.ErrOrderVersionConflict
}

func (r *orderRepository) query(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var (
			order    domain.Order
			customer []byte
		)
		if err := rows.Scan(
			&order.ID, &order.CustomerID, &customer, &order.Version,
			&order.Deleted, &order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		if err := json.Unmarshal(customer, &order.Customer); err != nil {
			return nil, fmt.Errorf("decode customer of order %s: %w", order.ID, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		lines, err := loadLines(ctx, r.store.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

func insertLines(ctx context.Context, tx *sql.Tx, orderID string, lines []domain.LineItem) error {
	for i, line := range lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_lines (
				order_id, position, product_id, product_name, unit_price, quantity
			) VALUES ($1,$2,$3,$4,$5,$6)
		`, orderID, i, line.ProductID, line.ProductName, line.UnitPrice, line.Quantity); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

func loadLines(ctx context.Context, q queryer, orderID string) ([]domain.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, product_name, unit_price, quantity
		FROM order_lines
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.LineItem, 0)
	for rows.Next() {
		var line domain.LineItem
		if err := rows.Scan(&line.ProductID, &line.ProductName, &line.UnitPrice, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return lines, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
