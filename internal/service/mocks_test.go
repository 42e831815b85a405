package service

import (
	"context"
	"sync"
	"time"

	"tradebot/internal/models"
	"tradebot/pkg/utils"
)

// ============ Mock NotificationStore ============

type MockNotificationStore struct {
	mu        sync.Mutex
	created   []*models.Notification
	createErr error
	deleteErr error
	deleted   int64
	before    []time.Time
	nextID    int
}

func NewMockNotificationStore() *MockNotificationStore {
	return &MockNotificationStore{nextID: 1}
}

func (m *MockNotificationStore) Create(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	n.ID = m.nextID
	m.nextID++
	m.created = append(m.created, n)
	return nil
}

func (m *MockNotificationStore) GetRecent(_ context.Context, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Notification, 0, len(m.created))
	for i := len(m.created) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.created[i])
	}
	return out, nil
}

func (m *MockNotificationStore) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.before = append(m.before, before)
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	return m.deleted, nil
}

func (m *MockNotificationStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created)
}

func (m *MockNotificationStore) cleanups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.before)
}

// ============ Mock MessageSender ============

type MockSender struct {
	mu       sync.Mutex
	disabled bool
	sendErr  error
	messages []string
}

func (m *MockSender) Enabled() bool { return !m.disabled }

func (m *MockSender) Send(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.messages = append(m.messages, text)
	return nil
}

// ============ Mock WebSocketBroadcaster ============

type MockBroadcaster struct {
	mu            sync.Mutex
	notifications []*models.Notification
}

func (m *MockBroadcaster) BroadcastNotification(n *models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
}

// ============ Mock PerformanceSource ============

type MockPerformanceSource struct {
	perf  *models.DailyPerformance
	err   error
	calls []utils.TimeRange
	dates []string
}

func (m *MockPerformanceSource) DailyPerformance(_ context.Context, market string, day utils.TimeRange, date string) (*models.DailyPerformance, error) {
	m.calls = append(m.calls, day)
	m.dates = append(m.dates, date)
	if m.err != nil {
		return nil, m.err
	}
	p := *m.perf
	p.Market = market
	p.Date = date
	return &p, nil
}

// ============ Mock ReportPublisher ============

type MockPublisher struct {
	mu        sync.Mutex
	published []*models.Notification
	err       error
}

func (m *MockPublisher) Publish(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, n)
	return m.err
}

func (m *MockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}
