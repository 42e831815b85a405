package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction направление торгового сигнала
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionFlat Direction = "flat"
)

// Причины сигналов
const (
	SignalReasonBreakoutUp       = "breakout-up"
	SignalReasonBreakoutDown     = "breakout-down"
	SignalReasonInRange          = "in-range"
	SignalReasonInsufficientData = "insufficient-data"
)

// Signal - результат оценки стратегии. После создания не изменяется.
type Signal struct {
	Direction      Direction       `json:"direction"`
	Strength       decimal.Decimal `json:"strength"` // [0, 1]
	Price          decimal.Decimal `json:"price"`
	GeneratedAt    time.Time       `json:"generated_at"`
	SourceCandleID int64           `json:"source_candle_id"`
	Reason         string          `json:"reason"`
}

// IsFlat true если сигнал не предполагает сделку
func (s Signal) IsFlat() bool {
	return s.Direction == DirectionFlat || s.Direction == ""
}

// Side возвращает сторону ордера для сигнала (пусто для Flat)
func (s Signal) Side() OrderSide {
	switch s.Direction {
	case DirectionBuy:
		return SideBuy
	case DirectionSell:
		return SideSell
	default:
		return ""
	}
}
