package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wenwu/saas-platform/pterodactyl-service/internal/models"
)

// OrderRepository reads the billing system's order, client and product
// tables. This service never writes billing data except the order's
// service_id linkage created on order placement.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetExistingOrderByID retrieves an order by id.
func (r *OrderRepository) GetExistingOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	query := `
		SELECT id, client_id, product_id, service_id, title, status, config, created_at, updated_at
		FROM billing.client_orders
		WHERE id = $1
	`

	order := &models.Order{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&order.ID, &order.ClientID, &order.ProductID, &order.ServiceID,
		&order.Title, &order.Status, &order.Config, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return order, nil
}

// GetClientByID retrieves a billing client by id.
func (r *OrderRepository) GetClientByID(ctx context.Context, id int64) (*models.Client, error) {
	query := `
		SELECT id, email, first_name, last_name
		FROM billing.clients
		WHERE id = $1
	`

	client := &models.Client{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&client.ID, &client.Email, &client.FirstName, &client.LastName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan client: %w", err)
	}
	return client, nil
}

// GetProductConfig retrieves a product's default config, or an empty map
// when the product has none.
func (r *OrderRepository) GetProductConfig(ctx context.Context, productID int64) (map[string]interface{}, error) {
	query := `SELECT config FROM billing.products WHERE id = $1`

	var config map[string]interface{}
	err := r.pool.QueryRow(ctx, query, productID).Scan(&config)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("scan product config: %w", err)
	}
	if config == nil {
		config = map[string]interface{}{}
	}
	return config, nil
}

// SetOrderServiceID links a freshly created service record to its order.
func (r *OrderRepository) SetOrderServiceID(ctx context.Context, orderID, serviceID int64) error {
	query := `UPDATE billing.client_orders SET service_id = $1 WHERE id = $2`
	_, err := r.pool.Exec(ctx, query, serviceID, orderID)
	if err != nil {
		return fmt.Errorf("update order service id: %w", err)
	}
	return nil
}
