package handlers

import (
	"context"
	"errors"
	"sync"

	"tradebot/internal/models"
)

var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Bot ============

// MockBot мок для BotController
type MockBot struct {
	mu         sync.Mutex
	status     models.BotStatus
	triggerErr error
	resumeErr  error
	pauses     []string
	triggers   int
}

func NewMockBot() *MockBot {
	return &MockBot{status: models.BotStatus{State: "IDLE", Market: "BTC_KRW"}}
}

func (m *MockBot) Status() *models.BotStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status
	return &st
}

func (m *MockBot) Pause(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauses = append(m.pauses, reason)
	if reason == "" {
		reason = "paused by operator"
	}
	m.status.State = "HALTED"
	m.status.HaltReason = reason
}

func (m *MockBot) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resumeErr != nil {
		return m.resumeErr
	}
	if m.status.HaltReason == "" {
		return models.ErrBotNotHalted
	}
	m.status.State = "IDLE"
	m.status.HaltReason = ""
	return nil
}

func (m *MockBot) TriggerNow() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.triggerErr != nil {
		return m.triggerErr
	}
	m.triggers++
	return nil
}

// ============ Mock History ============

// MockHistory реализует CycleLister, OrderLister и AuditLister через отдельные обёртки
type MockHistory struct {
	cycles []*models.CycleRecord
	orders []*models.Order
	audit  []*models.AuditEvent
	err    error

	lastLimit int
}

func recent[T any](items []T, limit int) []T {
	if limit > 0 && limit < len(items) {
		return items[:limit]
	}
	return items
}

type mockCycles struct{ *MockHistory }

func (m mockCycles) GetRecent(ctx context.Context, limit int) ([]*models.CycleRecord, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return recent(m.cycles, limit), nil
}

type mockOrders struct{ *MockHistory }

func (m mockOrders) GetRecent(ctx context.Context, limit int) ([]*models.Order, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return recent(m.orders, limit), nil
}

type mockAudit struct{ *MockHistory }

func (m mockAudit) GetRecent(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return recent(m.audit, limit), nil
}

func newHistoryHandler(m *MockHistory) *HistoryHandler {
	return NewHistoryHandler(mockCycles{m}, mockOrders{m}, mockAudit{m})
}

// ============ Mock Reporter ============

type MockReporter struct {
	perf     *models.DailyPerformance
	err      error
	lastDate string
}

func (m *MockReporter) Daily(ctx context.Context, date string) (*models.DailyPerformance, error) {
	m.lastDate = date
	if m.err != nil {
		return nil, m.err
	}
	return m.perf, nil
}

// ============ Mock Reloader ============

type MockReloader struct {
	err   error
	calls int
}

func (m *MockReloader) Reload(ctx context.Context) error {
	m.calls++
	return m.err
}
