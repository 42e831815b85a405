package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleOutcome итог торгового цикла
type CycleOutcome string

const (
	CycleOutcomeFlat     CycleOutcome = "flat"     // сигнал Flat
	CycleOutcomeRejected CycleOutcome = "rejected" // отказ риск-контроля
	CycleOutcomeExecuted CycleOutcome = "executed" // ордер дошёл до финального статуса
	CycleOutcomeSkipped  CycleOutcome = "skipped"  // нет данных или пауза
	CycleOutcomeError    CycleOutcome = "error"    // ошибка ввода-вывода
	CycleOutcomeHalted   CycleOutcome = "halted"   // цикл перевёл бота в Halted
)

// TriggerSource источник запуска цикла
type TriggerSource string

const (
	TriggerInterval TriggerSource = "interval"
	TriggerCandle   TriggerSource = "candle"
	TriggerManual   TriggerSource = "manual"
)

// CycleRecord запись о торговом цикле
type CycleRecord struct {
	ID          int64           `json:"id" db:"id"`
	Market      string          `json:"market" db:"market"`
	Trigger     TriggerSource   `json:"trigger" db:"trigger"`
	Direction   Direction       `json:"direction,omitempty" db:"direction"`
	Strength    decimal.Decimal `json:"strength" db:"strength"`
	Decision    DecisionKind    `json:"decision,omitempty" db:"decision"`
	Rule        string          `json:"rule,omitempty" db:"rule"`
	OrderID     string          `json:"order_id,omitempty" db:"order_id"`
	OrderStatus OrderStatus     `json:"order_status,omitempty" db:"order_status"`
	Outcome     CycleOutcome    `json:"outcome" db:"outcome"`
	Error       string          `json:"error,omitempty" db:"error"`
	StartedAt   time.Time       `json:"started_at" db:"started_at"`
	FinishedAt  time.Time       `json:"finished_at" db:"finished_at"`
}

// Duration длительность цикла
func (c CycleRecord) Duration() time.Duration {
	if c.FinishedAt.IsZero() {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}
