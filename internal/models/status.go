package models

import "time"

// BotStatus состояние бота для API и WebSocket
type BotStatus struct {
	State       string            `json:"state"`
	StateInfo   string            `json:"state_info"`
	Market      string            `json:"market"`
	TriggerMode TriggerSource     `json:"trigger_mode"`
	Paper       bool              `json:"paper"`
	HaltReason  string            `json:"halt_reason,omitempty"`
	HaltedAt    *time.Time        `json:"halted_at,omitempty"`
	LastCycle   *CycleRecord      `json:"last_cycle,omitempty"`
	LastTick    *Tick             `json:"last_tick,omitempty"`
	OpenOrder   *Order            `json:"open_order,omitempty"`
	WindowSize  int               `json:"window_size"`
	WindowLen   int               `json:"window_len"`
	Risk        RiskDayState      `json:"risk"`
	Limits      RiskLimits        `json:"limits"`
	Portfolio   PortfolioSnapshot `json:"portfolio"`
	StartedAt   time.Time         `json:"started_at"`
}

// IsHalted true если бот остановлен
func (s BotStatus) IsHalted() bool {
	return s.HaltReason != ""
}

// HaltRecord запись аудита об остановке или возобновлении
type HaltRecord struct {
	Reason string    `json:"reason"`
	Error  string    `json:"error,omitempty"`
	Class  string    `json:"class,omitempty"`
	From   string    `json:"from"`
	At     time.Time `json:"at"`
}
