package models

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// AuditKind тип записи аудита
type AuditKind string

// Порядок записей внутри цикла: signal -> decision -> outcome -> snapshot
const (
	AuditSignal   AuditKind = "signal"
	AuditDecision AuditKind = "decision"
	AuditOutcome  AuditKind = "outcome"
	AuditSnapshot AuditKind = "snapshot"
	AuditHalt     AuditKind = "halt"
	AuditResume   AuditKind = "resume"
	AuditConfig   AuditKind = "config"
)

// AuditEvent запись журнала аудита (только добавление)
type AuditEvent struct {
	ID        int64               `json:"id" db:"id"`
	Seq       uint64              `json:"seq" db:"seq"` // порядок внутри процесса
	CycleID   int64               `json:"cycle_id,omitempty" db:"cycle_id"`
	Kind      AuditKind           `json:"kind" db:"kind"`
	Payload   jsoniter.RawMessage `json:"payload" db:"payload"`
	Timestamp time.Time           `json:"timestamp" db:"timestamp"`
}

// OrderOutcome итог исполнения для аудита
type OrderOutcome struct {
	Order    *Order            `json:"order"`
	Applied  []Fill            `json:"applied_fills,omitempty"`
	Position Position          `json:"position"`
	Trades   []TradeResult     `json:"trades,omitempty"`
	Error    string            `json:"error,omitempty"`
	Snapshot PortfolioSnapshot `json:"snapshot"`
}
