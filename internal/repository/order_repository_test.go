package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"tradebot/internal/models"
)

// ============================================================
// OrderRepository Tests
// ============================================================

var orderRowColumns = []string{
	"id", "exchange_order_id", "market", "side", "requested_quantity", "requested_price", "status",
	"filled_quantity", "average_fill_price", "fills", "last_error", "cycle_id", "created_at", "last_updated_at",
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestNewOrderRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewOrderRepository(db)
	if repo == nil {
		t.Fatal("NewOrderRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestOrderRepositorySaveOrder(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	limit := decimal.RequireFromString("101.5")

	tests := []struct {
		name        string
		order       *models.Order
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "рыночный ордер с исполнением",
			order: &models.Order{
				ID:                "0b7c1c1e-8d1f-4a1e-9d7a-1a2b3c4d5e6f",
				ExchangeOrderID:   "C0101000000123",
				Market:            "BTC_KRW",
				Side:              models.SideBuy,
				RequestedQuantity: decimal.RequireFromString("0.5"),
				Status:            models.OrderStatusFilled,
				FilledQuantity:    decimal.RequireFromString("0.5"),
				AverageFillPrice:  decimal.RequireFromString("100"),
				Fills: []models.Fill{{
					OrderID: "0b7c1c1e-8d1f-4a1e-9d7a-1a2b3c4d5e6f", Sequence: 1, Side: models.SideBuy,
					Quantity: decimal.RequireFromString("0.5"), Price: decimal.RequireFromString("100"),
					Fee: decimal.Zero, FilledAt: now,
				}},
				CycleID:       42,
				CreatedAt:     now,
				LastUpdatedAt: now,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO orders .* ON CONFLICT \(id\) DO UPDATE`).
					WithArgs("0b7c1c1e-8d1f-4a1e-9d7a-1a2b3c4d5e6f", "C0101000000123", "BTC_KRW", "buy",
						decimal.RequireFromString("0.5"), decimal.NullDecimal{}, "filled",
						decimal.RequireFromString("0.5"), decimal.RequireFromString("100"),
						sqlmock.AnyArg(), "", int64(42), now, now).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "лимитный ордер без исполнений",
			order: &models.Order{
				ID:                "o-2",
				Market:            "BTC_KRW",
				Side:              models.SideSell,
				RequestedQuantity: decimal.NewFromInt(1),
				RequestedPrice:    &limit,
				Status:            models.OrderStatusPending,
				CreatedAt:         now,
				LastUpdatedAt:     now,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO orders`).
					WithArgs("o-2", "", "BTC_KRW", "sell", decimal.NewFromInt(1), decimal.NewNullDecimal(limit),
						"pending", decimal.Zero, decimal.Zero, []byte("[]"), "", int64(0), now, now).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name:  "ошибка БД",
			order: &models.Order{ID: "o-3", Market: "BTC_KRW"},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO orders`).WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			tt.mockSetup(mock)

			err := NewOrderRepository(db).SaveOrder(context.Background(), tt.order)
			if (err != nil) != tt.expectError {
				t.Errorf("expectError=%v, получили %v", tt.expectError, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestOrderRepositoryListOpenOrders(t *testing.T) {
	db, mock := newMock(t)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fills := `[{"order_id":"o-1","sequence":1,"side":"buy","quantity":"0.2","price":"100","fee":"0","filled_at":"2024-03-01T12:00:00Z"}]`
	rows := sqlmock.NewRows(orderRowColumns).
		AddRow("o-1", "ex-1", "BTC_KRW", "buy", "0.5", nil, "partially_filled", "0.2", "100", []byte(fills), "", int64(7), now, now).
		AddRow("o-2", "", "BTC_KRW", "sell", "1", "105", "pending", "0", "0", []byte("[]"), "", int64(8), now, now)

	mock.ExpectQuery(`SELECT .* FROM orders\s+WHERE market = \$1 AND status IN`).
		WithArgs("BTC_KRW", "pending", "submitted", "partially_filled").
		WillReturnRows(rows)

	orders, err := NewOrderRepository(db).ListOpenOrders(context.Background(), "BTC_KRW")
	if err != nil {
		t.Fatalf("ListOpenOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("ожидали 2 ордера, получили %d", len(orders))
	}

	first := orders[0]
	if first.Status != models.OrderStatusPartiallyFilled || first.Side != models.SideBuy {
		t.Errorf("ожидали partially_filled/buy, получили %s/%s", first.Status, first.Side)
	}
	if len(first.Fills) != 1 || !first.Fills[0].Quantity.Equal(decimal.RequireFromString("0.2")) {
		t.Errorf("fills: получили %+v", first.Fills)
	}
	if first.RequestedPrice != nil {
		t.Error("рыночный ордер не должен иметь цены")
	}

	second := orders[1]
	if second.RequestedPrice == nil || !second.RequestedPrice.Equal(decimal.NewFromInt(105)) {
		t.Errorf("цена лимитного ордера: получили %v", second.RequestedPrice)
	}
	if second.Fills != nil {
		t.Errorf("пустой массив fills должен давать nil, получили %+v", second.Fills)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestOrderRepositoryGetByID(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "найден",
			mockSetup: func(mock sqlmock.Sqlmock) {
				now := time.Now()
				mock.ExpectQuery(`SELECT .* FROM orders WHERE id = \$1`).
					WithArgs("o-1").
					WillReturnRows(sqlmock.NewRows(orderRowColumns).
						AddRow("o-1", "ex-1", "BTC_KRW", "buy", "1", nil, "filled", "1", "100", []byte("[]"), "", int64(1), now, now))
			},
		},
		{
			name: "не найден",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .* FROM orders WHERE id = \$1`).
					WithArgs("o-1").
					WillReturnRows(sqlmock.NewRows(orderRowColumns))
			},
			wantErr: ErrOrderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			tt.mockSetup(mock)

			order, err := NewOrderRepository(db).GetByID(context.Background(), "o-1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ожидали %v, получили %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && order.ID != "o-1" {
				t.Errorf("ожидали o-1, получили %s", order.ID)
			}
		})
	}
}

func TestOrderRepositoryGetRecentLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"по умолчанию", 0, 50},
		{"в пределах", 10, 10},
		{"потолок", 10000, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			mock.ExpectQuery(`SELECT .* FROM orders\s+ORDER BY created_at DESC\s+LIMIT \$1`).
				WithArgs(tt.want).
				WillReturnRows(sqlmock.NewRows(orderRowColumns))

			if _, err := NewOrderRepository(db).GetRecent(context.Background(), tt.limit); err != nil {
				t.Fatalf("GetRecent: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}
