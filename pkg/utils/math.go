package utils

import (
	"github.com/shopspring/decimal"
)

// math.go - денежная арифметика на decimal
//
// Все функции чистые. float64 для цен и количеств не используется.
//
// Функции:
// - RoundToStep: округление количества вниз до шага лота биржи
// - ClampDecimal: ограничение значения диапазоном
// - WeightedAverage: средневзвешенная цена
// - PercentOf: доля от значения

// RoundToStep округляет value ВНИЗ до ближайшего кратного step.
//
// Округление вниз гарантирует, что объём ордера не превысит лимит риска.
// При step <= 0 возвращается исходное значение.
//
// Примеры:
//   - RoundToStep(9.708, 1) = 9
//   - RoundToStep(0.123456, 0.0001) = 0.1234
//   - RoundToStep(-1.55, 0.1) = -1.5 (к нулю)
func RoundToStep(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	return value.Div(step).Truncate(0).Mul(step)
}

// ClampDecimal ограничивает value диапазоном [lo, hi]
func ClampDecimal(value, lo, hi decimal.Decimal) decimal.Decimal {
	if value.LessThan(lo) {
		return lo
	}
	if value.GreaterThan(hi) {
		return hi
	}
	return value
}

// WeightedAverage считает средневзвешенное значение.
//
// Используется для средней цены исполнения по нескольким сделкам.
// При нулевом суммарном весе возвращает ноль.
func WeightedAverage(values, weights []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 || len(values) != len(weights) {
		return decimal.Zero
	}
	sum := decimal.Zero
	total := decimal.Zero
	for i := range values {
		sum = sum.Add(values[i].Mul(weights[i]))
		total = total.Add(weights[i])
	}
	if total.IsZero() {
		return decimal.Zero
	}
	return sum.Div(total)
}

// PercentOf возвращает value * pct (pct в долях: 0.05 = 5%)
func PercentOf(value, pct decimal.Decimal) decimal.Decimal {
	return value.Mul(pct)
}

// MinDecimal возвращает меньшее из значений
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
