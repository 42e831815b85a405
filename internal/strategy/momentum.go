package strategy

import (
	"github.com/shopspring/decimal"

	"tradebot/internal/models"
)

// Momentum - пробой диапазона предыдущих закрытий
//
// Опорный диапазон - закрытия всех свечей окна кроме последней.
//
//	Buy:  close > max * (1 + threshold)
//	Sell: close < min * (1 - threshold)
//
// Равенство границе даёт Flat.
// Strength = |close - bound| / (bound * threshold), не больше 1. При threshold = 0 сила равна 1.
type Momentum struct {
	Threshold decimal.Decimal
}

// NewMomentum создаёт стратегию пробоя с порогом threshold (доля, 0.01 = 1%)
func NewMomentum(threshold decimal.Decimal) *Momentum {
	if threshold.IsNegative() {
		threshold = decimal.Zero
	}
	return &Momentum{Threshold: threshold}
}

var one = decimal.NewFromInt(1)

// Evaluate оценивает окно
func (m *Momentum) Evaluate(window []models.Candle) models.Signal {
	if len(window) < 2 {
		sig := models.Signal{
			Direction: models.DirectionFlat,
			Strength:  decimal.Zero,
			Reason:    models.SignalReasonInsufficientData,
		}
		if len(window) == 1 {
			sig.Price = window[0].Close
			sig.GeneratedAt = window[0].CloseTime
			sig.SourceCandleID = window[0].ID()
		}
		return sig
	}

	current := window[len(window)-1]
	prior := window[:len(window)-1]

	hi, lo := prior[0].Close, prior[0].Close
	for _, c := range prior[1:] {
		if c.Close.GreaterThan(hi) {
			hi = c.Close
		}
		if c.Close.LessThan(lo) {
			lo = c.Close
		}
	}

	upper := hi.Mul(one.Add(m.Threshold))
	lower := lo.Mul(one.Sub(m.Threshold))

	sig := models.Signal{
		Direction:      models.DirectionFlat,
		Strength:       decimal.Zero,
		Price:          current.Close,
		GeneratedAt:    current.CloseTime,
		SourceCandleID: current.ID(),
		Reason:         models.SignalReasonInRange,
	}

	switch {
	case current.Close.GreaterThan(upper):
		sig.Direction = models.DirectionBuy
		sig.Reason = models.SignalReasonBreakoutUp
		sig.Strength = m.strength(current.Close.Sub(upper), upper)
	case current.Close.LessThan(lower):
		sig.Direction = models.DirectionSell
		sig.Reason = models.SignalReasonBreakoutDown
		sig.Strength = m.strength(lower.Sub(current.Close), lower)
	}

	return sig
}

func (m *Momentum) strength(distance, bound decimal.Decimal) decimal.Decimal {
	scale := bound.Mul(m.Threshold)
	if !scale.IsPositive() {
		return one
	}
	s := distance.Div(scale)
	if s.GreaterThan(one) {
		return one
	}
	return s
}
