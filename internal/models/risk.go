package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimits лимиты риска. Только чтение во время оценки, перезагружаются между циклами.
type RiskLimits struct {
	MaxPositionSize   decimal.Decimal `json:"max_position_size"`  // в базовой валюте
	MaxOrderNotional  decimal.Decimal `json:"max_order_notional"` // в валюте котировки
	MaxDailyLoss      decimal.Decimal `json:"max_daily_loss"`     // абсолютное значение, 0 = использовать DailyLossLimitPct
	CooldownAfterLoss time.Duration   `json:"cooldown_after_loss"`

	DailyLossLimitPct    decimal.Decimal `json:"daily_loss_limit_pct"` // доля equity на начало дня
	MaxConsecutiveLosses int             `json:"max_consecutive_losses"`
	MinOrderNotional     decimal.Decimal `json:"min_order_notional"`
	MinCashReservePct    decimal.Decimal `json:"min_cash_reserve_pct"`
	EquityFraction       decimal.Decimal `json:"equity_fraction"`
	QuantityStep         decimal.Decimal `json:"quantity_step"`
	AllowShort           bool            `json:"allow_short"`
}

// DailyLossLimit возвращает лимит дневного убытка (положительное число)
//
// Абсолютный MaxDailyLoss приоритетнее процента от equity на начало дня.
// Ноль означает что лимит не задан.
func (l RiskLimits) DailyLossLimit(dayStartEquity decimal.Decimal) decimal.Decimal {
	if !l.MaxDailyLoss.IsZero() {
		return l.MaxDailyLoss.Abs()
	}
	if l.DailyLossLimitPct.IsPositive() && dayStartEquity.IsPositive() {
		return dayStartEquity.Mul(l.DailyLossLimitPct)
	}
	return decimal.Zero
}

// DecisionKind тип решения риск-контроля
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionScale   DecisionKind = "scale"
	DecisionReject  DecisionKind = "reject"
)

// Правила риск-контроля (в порядке проверки)
const (
	RuleFlatSignal           = "flat-signal"
	RuleOrderInFlight        = "order-in-flight"
	RuleDailyLossLimit       = "daily-loss-limit"
	RuleConsecutiveLossLimit = "consecutive-loss-limit"
	RuleCooldownActive       = "cooldown-active"
	RuleMaxOrderNotional     = "max-order-notional"
	RuleCashReserve          = "cash-reserve"
	RulePositionLimit        = "position-limit"
	RulePositionLimitReached = "position-limit-reached"
	RuleBelowMinOrder        = "below-min-order"
	RuleNoMarkPrice          = "no-mark-price"
	RuleWithinLimits         = "within-limits"
)

// RiskInputs входные данные, на которых принято решение
type RiskInputs struct {
	Direction         Direction       `json:"direction"`
	Strength          decimal.Decimal `json:"strength"`
	Price             decimal.Decimal `json:"price"`
	Equity            decimal.Decimal `json:"equity"`
	Cash              decimal.Decimal `json:"cash"`
	PositionQuantity  decimal.Decimal `json:"position_quantity"`
	DailyRealizedPnL  decimal.Decimal `json:"daily_realized_pnl"`
	DailyLossLimit    decimal.Decimal `json:"daily_loss_limit"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	LastLossAt        *time.Time      `json:"last_loss_at,omitempty"`
	DesiredNotional   decimal.Decimal `json:"desired_notional"`
	FinalNotional     decimal.Decimal `json:"final_notional"`
	Headroom          decimal.Decimal `json:"headroom"`
}

// Decision решение риск-контроля
//
// Reject никогда не несёт количества. Для Scale: 0 < Quantity <= RequestedQuantity.
type Decision struct {
	Kind              DecisionKind    `json:"kind"`
	Side              OrderSide       `json:"side,omitempty"`
	Quantity          decimal.Decimal `json:"quantity"`
	RequestedQuantity decimal.Decimal `json:"requested_quantity"`
	Price             decimal.Decimal `json:"price"`
	Rule              string          `json:"rule"`
	Reason            string          `json:"reason,omitempty"`
	Inputs            RiskInputs      `json:"inputs"`
	EvaluatedAt       time.Time       `json:"evaluated_at"`
}

// Approved true для Approve и Scale
func (d Decision) Approved() bool {
	return d.Kind == DecisionApprove || d.Kind == DecisionScale
}

// Rejection возвращает RiskRejection для отклонённого решения
func (d Decision) Rejection() *RiskRejection {
	if d.Kind != DecisionReject {
		return nil
	}
	return &RiskRejection{Rule: d.Rule, Reason: d.Reason}
}

// RiskDayState состояние торгового дня риск-контроля
type RiskDayState struct {
	TradingDay          string          `json:"trading_day"`
	DayStart            time.Time       `json:"day_start"`
	DayStartEquity      decimal.Decimal `json:"day_start_equity"`
	DayStartRealizedPnL decimal.Decimal `json:"day_start_realized_pnl"`
	DailyLossLatched    bool            `json:"daily_loss_latched"`
	ConsecutiveLatched  bool            `json:"consecutive_loss_latched"`
}
