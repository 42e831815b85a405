package models

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel ошибки домена
var (
	ErrOrderInFlight      = errors.New("order already in flight")
	ErrOrderNotFound      = errors.New("order not found")
	ErrBotHalted          = errors.New("bot is halted")
	ErrCycleInProgress    = errors.New("cycle already in progress")
	ErrBotNotHalted       = errors.New("bot is not halted")
	ErrEngineNotRunning   = errors.New("engine is not running")
	ErrCandleNoCloseTime  = errors.New("candle has no close time")
	ErrCandleBadInterval  = errors.New("candle close time is not after open time")
	ErrCandleNonPositive  = errors.New("candle close price must be positive")
	ErrCandleHighBelowLow = errors.New("candle high is below low")
)

// ============================================================
// Таксономия ошибок
// ============================================================

// TransientIOError временный сбой ввода-вывода (сеть, 5xx, rate limit).
// Повторяется с backoff до предела, затем эскалируется.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient io error in %s: %v", e.Op, e.Err)
}
func (e *TransientIOError) Unwrap() error   { return e.Err }
func (e *TransientIOError) Retryable() bool { return true }

// RiskRejection штатный отказ риск-контроля. Всегда попадает в аудит.
type RiskRejection struct {
	Rule   string
	Reason string
}

func (e *RiskRejection) Error() string {
	if e.Reason == "" {
		return "risk rejection: " + e.Rule
	}
	return fmt.Sprintf("risk rejection: %s (%s)", e.Rule, e.Reason)
}
func (e *RiskRejection) Retryable() bool { return false }

// InconsistentFillError исполнение противоречит известному состоянию ордера/портфеля.
// Фатально: бот переходит в Halted.
type InconsistentFillError struct {
	OrderID  string
	Sequence int
	Reason   string
}

func (e *InconsistentFillError) Error() string {
	return fmt.Sprintf("inconsistent fill %s#%d: %s", e.OrderID, e.Sequence, e.Reason)
}
func (e *InconsistentFillError) Retryable() bool { return false }

// ConfigurationError некорректная конфигурация.
// При старте - немедленный выход, при перезагрузке остаётся прежняя конфигурация.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += " in " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}
func (e *ConfigurationError) Unwrap() error   { return e.Err }
func (e *ConfigurationError) Retryable() bool { return false }

// UnrecoverableAuthError биржа отвергла ключи или подпись. Без повторов, сразу Halted.
type UnrecoverableAuthError struct {
	Op  string
	Err error
}

func (e *UnrecoverableAuthError) Error() string {
	return fmt.Sprintf("unrecoverable auth error in %s: %v", e.Op, e.Err)
}
func (e *UnrecoverableAuthError) Unwrap() error   { return e.Err }
func (e *UnrecoverableAuthError) Retryable() bool { return false }

// ErrorClass класс ошибки на границе оркестратора
type ErrorClass string

const (
	ClassNone             ErrorClass = ""
	ClassTransient        ErrorClass = "transient"
	ClassRiskRejection    ErrorClass = "risk_rejection"
	ClassInconsistentFill ErrorClass = "inconsistent_fill"
	ClassConfiguration    ErrorClass = "configuration"
	ClassAuth             ErrorClass = "auth"
	ClassCancelled        ErrorClass = "cancelled"
	ClassUnknown          ErrorClass = "unknown"
)

// Classify определяет класс ошибки по цепочке wrap
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	var (
		fillErr   *InconsistentFillError
		authErr   *UnrecoverableAuthError
		cfgErr    *ConfigurationError
		riskErr   *RiskRejection
		transient *TransientIOError
		retryable interface{ Retryable() bool }
	)

	switch {
	case errors.As(err, &fillErr):
		return ClassInconsistentFill
	case errors.As(err, &authErr):
		return ClassAuth
	case errors.As(err, &cfgErr):
		return ClassConfiguration
	case errors.As(err, &riskErr):
		return ClassRiskRejection
	case errors.As(err, &transient):
		return ClassTransient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCancelled
	case errors.As(err, &retryable) && retryable.Retryable():
		// ошибки транспорта (например exchange.ExchangeError) сами знают, временные ли они
		return ClassTransient
	}
	return ClassUnknown
}

// Halts true для классов, переводящих бота в Halted
func (c ErrorClass) Halts() bool {
	return c == ClassInconsistentFill || c == ClassAuth
}
