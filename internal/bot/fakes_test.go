package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/exchange"
	"tradebot/internal/models"
	"tradebot/pkg/retry"
)

// statusStep - один ответ GetOrderStatus
type statusStep struct {
	state *exchange.OrderState
	err   error
}

// fakeExchange - биржа со сценарием ответов на опрос статуса.
// Последний шаг сценария повторяется.
type fakeExchange struct {
	mu sync.Mutex

	placeErr error
	placed   []exchange.OrderRequest

	script      []statusStep
	statusCalls int

	cancelErr   error
	cancelCalls int
	cancelState *exchange.OrderState // ответ на опрос после отмены

	tickerPrice decimal.Decimal
	tickerErr   error

	balance     *exchange.Balance
	balanceErrs []error // ошибки перед успешным ответом
}

func newFakeExchange(steps ...statusStep) *fakeExchange {
	return &fakeExchange{script: steps, tickerPrice: decimal.NewFromInt(100)}
}

func (f *fakeExchange) GetName() string { return "fake" }

func (f *fakeExchange) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return &exchange.OrderAck{ExchangeOrderID: "ex-1", AcceptedAt: time.Now()}, nil
}

func (f *fakeExchange) GetOrderStatus(context.Context, string, string, models.OrderSide) (*exchange.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++

	if f.cancelCalls > 0 && f.cancelState != nil {
		st := *f.cancelState
		return &st, nil
	}
	if len(f.script) == 0 {
		return &exchange.OrderState{ExchangeOrderID: "ex-1", State: exchange.ExecOpen}, nil
	}
	step := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	if step.err != nil {
		return nil, step.err
	}
	st := *step.state
	return &st, nil
}

func (f *fakeExchange) CancelOrder(context.Context, string, string, models.OrderSide) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return f.cancelErr
}

func (f *fakeExchange) GetTicker(_ context.Context, market string) (*exchange.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tickerErr != nil {
		return nil, f.tickerErr
	}
	return &exchange.Ticker{Market: market, LastPrice: f.tickerPrice, Timestamp: time.Now()}, nil
}

func (f *fakeExchange) GetCandles(context.Context, string, time.Duration, int) ([]models.Candle, error) {
	return nil, nil
}

func (f *fakeExchange) GetBalance(context.Context, string) (*exchange.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.balanceErrs) > 0 {
		err := f.balanceErrs[0]
		f.balanceErrs = f.balanceErrs[1:]
		return nil, err
	}
	if f.balance != nil {
		b := *f.balance
		return &b, nil
	}
	return &exchange.Balance{
		QuoteAvailable: decimal.NewFromInt(1000),
		QuoteTotal:     decimal.NewFromInt(1000),
	}, nil
}

func (f *fakeExchange) Close() error { return nil }

func (f *fakeExchange) calls() (placed, status, cancel int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed), f.statusCalls, f.cancelCalls
}

func transientErr() error {
	return exchange.NewTransient("fake", "order status", errors.New("503 service unavailable"))
}

func filledState(qty, price, fee string) *exchange.OrderState {
	return &exchange.OrderState{
		ExchangeOrderID: "ex-1",
		State:           exchange.ExecFilled,
		FilledQuantity:  decimal.RequireFromString(qty),
		AveragePrice:    decimal.RequireFromString(price),
		Fee:             decimal.RequireFromString(fee),
	}
}

func openState(qty, price string) *exchange.OrderState {
	return &exchange.OrderState{
		ExchangeOrderID: "ex-1",
		State:           exchange.ExecOpen,
		FilledQuantity:  decimal.RequireFromString(qty),
		AveragePrice:    decimal.RequireFromString(price),
	}
}

// fastExecutorConfig - таймауты и backoff в миллисекундах
func fastExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		AckTimeout:   time.Second,
		FillTimeout:  5 * time.Second,
		PollInterval: time.Millisecond,
		StatusRetry: retry.Config{
			MaxRetries:   5,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
			RetryIf:      retry.IsRetryable,
		},
		CancelRetry: retry.Config{
			MaxRetries:   3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
			RetryIf:      retry.IsRetryable,
		},
	}
}

// memAudit - журнал аудита в памяти
type memAudit struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (a *memAudit) Append(_ context.Context, cycleID int64, kind models.AuditKind, _ interface{}, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, models.AuditEvent{
		Seq:       uint64(len(a.events) + 1),
		CycleID:   cycleID,
		Kind:      kind,
		Timestamp: at,
	})
	return nil
}

func (a *memAudit) Flush(context.Context) error { return nil }
func (a *memAudit) Pending() int                { return 0 }

func (a *memAudit) kinds(cycleID int64) []models.AuditKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditKind
	for _, e := range a.events {
		if e.CycleID == cycleID {
			out = append(out, e.Kind)
		}
	}
	return out
}

func (a *memAudit) count(kind models.AuditKind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// memNotifier собирает уведомления
type memNotifier struct {
	mu    sync.Mutex
	items []*models.Notification
}

func (n *memNotifier) Notify(_ context.Context, notif *models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, notif)
	return nil
}

// memOrders - хранилище ордеров в памяти
type memOrders struct {
	mu      sync.Mutex
	orders  map[string]models.Order
	listErr error
}

func newMemOrders(open ...*models.Order) *memOrders {
	m := &memOrders{orders: make(map[string]models.Order)}
	for _, o := range open {
		m.orders[o.ID] = *o.Clone()
	}
	return m
}

func (m *memOrders) SaveOrder(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = *o.Clone()
	return nil
}

func (m *memOrders) ListOpenOrders(_ context.Context, market string) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.Order
	for _, o := range m.orders {
		if o.Market == market && !o.Status.IsTerminal() {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (m *memOrders) get(id string) (models.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o, ok
}
