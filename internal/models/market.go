package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle представляет закрытую свечу OHLCV
//
// Свеча неизменна после закрытия и идентифицируется по CloseTime.
type Candle struct {
	Market    string          `json:"market" db:"market"`
	Open      decimal.Decimal `json:"open" db:"open"`
	High      decimal.Decimal `json:"high" db:"high"`
	Low       decimal.Decimal `json:"low" db:"low"`
	Close     decimal.Decimal `json:"close" db:"close"`
	Volume    decimal.Decimal `json:"volume" db:"volume"`
	OpenTime  time.Time       `json:"open_time" db:"open_time"`
	CloseTime time.Time       `json:"close_time" db:"close_time"`
}

// ID возвращает идентификатор свечи (unix ms времени закрытия)
func (c Candle) ID() int64 {
	return c.CloseTime.UnixMilli()
}

// Validate проверяет согласованность OHLC
func (c Candle) Validate() error {
	if c.CloseTime.IsZero() {
		return ErrCandleNoCloseTime
	}
	if !c.OpenTime.IsZero() && !c.CloseTime.After(c.OpenTime) {
		return ErrCandleBadInterval
	}
	if !c.Close.IsPositive() {
		return ErrCandleNonPositive
	}
	if c.High.LessThan(c.Low) {
		return ErrCandleHighBelowLow
	}
	return nil
}

// Tick - последняя цена с биржи
type Tick struct {
	Market     string          `json:"market"`
	Price      decimal.Decimal `json:"price"`
	ReceivedAt time.Time       `json:"received_at"`
}
