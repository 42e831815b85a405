package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide сторона ордера
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Valid проверяет что сторона известна
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Sign возвращает +1 для покупки и -1 для продажи
func (s OrderSide) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// OrderStatus статус ордера
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusFailed          OrderStatus = "failed"
)

// IsTerminal true для финальных статусов
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// orderTransitions допустимые переходы статусов ордера
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {
		OrderStatusSubmitted,
		OrderStatusRejected,
		OrderStatusFailed,
		OrderStatusCancelled,
	},
	OrderStatusSubmitted: {
		OrderStatusPartiallyFilled,
		OrderStatusFilled,
		OrderStatusCancelled,
		OrderStatusFailed,
	},
	OrderStatusPartiallyFilled: {
		OrderStatusPartiallyFilled,
		OrderStatusFilled,
		OrderStatusCancelled,
		OrderStatusFailed,
	},
}

// CanTransition проверяет допустимость перехода статуса ордера
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Order - ордер на бирже и его история исполнения
type Order struct {
	ID                string           `json:"id" db:"id"` // client order id (uuid)
	ExchangeOrderID   string           `json:"exchange_order_id,omitempty" db:"exchange_order_id"`
	Market            string           `json:"market" db:"market"`
	Side              OrderSide        `json:"side" db:"side"`
	RequestedQuantity decimal.Decimal  `json:"requested_quantity" db:"requested_quantity"`
	RequestedPrice    *decimal.Decimal `json:"requested_price,omitempty" db:"requested_price"` // nil = рыночный
	Status            OrderStatus      `json:"status" db:"status"`
	FilledQuantity    decimal.Decimal  `json:"filled_quantity" db:"filled_quantity"`
	AverageFillPrice  decimal.Decimal  `json:"average_fill_price" db:"average_fill_price"`
	Fills             []Fill           `json:"fills,omitempty"`
	LastError         string           `json:"last_error,omitempty" db:"last_error"`
	CycleID           int64            `json:"cycle_id,omitempty" db:"cycle_id"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	LastUpdatedAt     time.Time        `json:"last_updated_at" db:"last_updated_at"`
}

// IsMarket true для рыночного ордера
func (o *Order) IsMarket() bool {
	return o.RequestedPrice == nil
}

// Remaining возвращает неисполненный остаток
func (o *Order) Remaining() decimal.Decimal {
	rem := o.RequestedQuantity.Sub(o.FilledQuantity)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Clone возвращает независимую копию ордера
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.RequestedPrice != nil {
		p := *o.RequestedPrice
		c.RequestedPrice = &p
	}
	if o.Fills != nil {
		c.Fills = make([]Fill, len(o.Fills))
		copy(c.Fills, o.Fills)
	}
	return &c
}

// Fill - подтверждённое (полное или частичное) исполнение ордера
type Fill struct {
	OrderID  string          `json:"order_id" db:"order_id"`
	Sequence int             `json:"sequence" db:"sequence"`
	Side     OrderSide       `json:"side" db:"side"`
	Quantity decimal.Decimal `json:"quantity" db:"quantity"`
	Price    decimal.Decimal `json:"price" db:"price"`
	Fee      decimal.Decimal `json:"fee" db:"fee"`
	FilledAt time.Time       `json:"filled_at" db:"filled_at"`
}

// Key уникальный ключ исполнения для идемпотентности
func (f Fill) Key() FillKey {
	return FillKey{OrderID: f.OrderID, Sequence: f.Sequence}
}

// FillKey идентификатор исполнения
type FillKey struct {
	OrderID  string
	Sequence int
}

// Notional возвращает объём исполнения в валюте котировки
func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}
