package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tradebot/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound = errors.New("order not found")
)

// OrderRepository - работа с таблицей orders
//
// Ордер сохраняется целиком при каждом изменении (upsert по id),
// исполнения хранятся в колонке fills (JSONB).
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, exchange_order_id, market, side, requested_quantity, requested_price, status,
		filled_quantity, average_fill_price, fills, last_error, cycle_id, created_at, last_updated_at`

// SaveOrder создает или обновляет ордер
func (r *OrderRepository) SaveOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			exchange_order_id = EXCLUDED.exchange_order_id,
			status = EXCLUDED.status,
			filled_quantity = EXCLUDED.filled_quantity,
			average_fill_price = EXCLUDED.average_fill_price,
			fills = EXCLUDED.fills,
			last_error = EXCLUDED.last_error,
			last_updated_at = EXCLUDED.last_updated_at`

	fills := order.Fills
	if fills == nil {
		fills = []models.Fill{}
	}
	fillsJSON, err := json.Marshal(fills)
	if err != nil {
		return fmt.Errorf("marshal fills: %w", err)
	}

	var price decimal.NullDecimal
	if order.RequestedPrice != nil {
		price = decimal.NewNullDecimal(*order.RequestedPrice)
	}

	_, err = r.db.ExecContext(ctx, query,
		order.ID,
		order.ExchangeOrderID,
		order.Market,
		string(order.Side),
		order.RequestedQuantity,
		price,
		string(order.Status),
		order.FilledQuantity,
		order.AverageFillPrice,
		fillsJSON,
		order.LastError,
		order.CycleID,
		order.CreatedAt,
		order.LastUpdatedAt,
	)
	return err
}

// GetByID возвращает ордер по ID
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// ListOpenOrders возвращает незавершённые ордера рынка (для сверки при старте)
func (r *OrderRepository) ListOpenOrders(ctx context.Context, market string) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE market = $1 AND status IN ($2, $3, $4)
		ORDER BY created_at`

	return r.query(ctx, query, market,
		string(models.OrderStatusPending),
		string(models.OrderStatusSubmitted),
		string(models.OrderStatusPartiallyFilled),
	)
}

// GetRecent возвращает последние N ордеров
func (r *OrderRepository) GetRecent(ctx context.Context, limit int) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1`

	return r.query(ctx, query, normalizeLimit(limit, 50, 500))
}

func (r *OrderRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// rowScanner - *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var (
		side, status string
		price        decimal.NullDecimal
		fillsJSON    []byte
	)
	err := row.Scan(
		&order.ID,
		&order.ExchangeOrderID,
		&order.Market,
		&side,
		&order.RequestedQuantity,
		&price,
		&status,
		&order.FilledQuantity,
		&order.AverageFillPrice,
		&fillsJSON,
		&order.LastError,
		&order.CycleID,
		&order.CreatedAt,
		&order.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.Side = models.OrderSide(side)
	order.Status = models.OrderStatus(status)
	if price.Valid {
		p := price.Decimal
		order.RequestedPrice = &p
	}
	if len(fillsJSON) > 0 {
		if err := json.Unmarshal(fillsJSON, &order.Fills); err != nil {
			return nil, fmt.Errorf("unmarshal fills of %s: %w", order.ID, err)
		}
		if len(order.Fills) == 0 {
			order.Fills = nil
		}
	}
	return order, nil
}
