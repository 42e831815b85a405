package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position позиция по торговой паре
//
// Quantity со знаком: > 0 лонг, < 0 шорт. Изменяется только подтверждёнными исполнениями.
type Position struct {
	Market            string          `json:"market"`
	Quantity          decimal.Decimal `json:"quantity"`
	AverageEntryPrice decimal.Decimal `json:"average_entry_price"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL     decimal.Decimal `json:"unrealized_pnl"`
}

// IsFlat true если позиции нет
func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// PortfolioSnapshot согласованный срез состояния портфеля
type PortfolioSnapshot struct {
	Position          Position        `json:"position"`
	Cash              decimal.Decimal `json:"cash"`
	Equity            decimal.Decimal `json:"equity"`
	MarkPrice         decimal.Decimal `json:"mark_price"`
	OpenOrderID       string          `json:"open_order_id,omitempty"`
	LastLossAt        *time.Time      `json:"last_loss_at,omitempty"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	Timestamp         time.Time       `json:"timestamp"`
}

// HasOpenOrder true если есть незавершённый ордер
func (s PortfolioSnapshot) HasOpenOrder() bool {
	return s.OpenOrderID != ""
}

// TradeResult результат закрытия (частичного) позиции
type TradeResult struct {
	OrderID  string          `json:"order_id"`
	Quantity decimal.Decimal `json:"quantity"`
	PnL      decimal.Decimal `json:"pnl"`
	ClosedAt time.Time       `json:"closed_at"`
}
