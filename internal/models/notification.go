package models

import "time"

// Notification представляет уведомление о событии бота
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	Market    string                 `json:"market,omitempty" db:"market"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // JSON в БД
}

// Типы уведомлений
const (
	NotificationTypeOrderFilled = "ORDER_FILLED" // ордер исполнен
	NotificationTypeOrderFailed = "ORDER_FAILED" // ордер не исполнен (failed/rejected/cancelled)
	NotificationTypeRiskLimit   = "RISK_LIMIT"   // сработал защёлкивающийся лимит риска
	NotificationTypeHalted      = "HALTED"       // бот остановлен
	NotificationTypeResumed     = "RESUMED"      // бот возобновлён
	NotificationTypeError       = "ERROR"        // ошибка API/цикла
	NotificationTypeReport      = "REPORT"       // дневной отчёт
	NotificationTypeConfig      = "CONFIG"       // перезагрузка конфигурации
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// ValidSeverity проверяет уровень важности
func ValidSeverity(s string) bool {
	return s == SeverityInfo || s == SeverityWarn || s == SeverityError
}
