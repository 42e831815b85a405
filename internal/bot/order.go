package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradebot/internal/exchange"
	"tradebot/internal/models"
	"tradebot/pkg/retry"
	"tradebot/pkg/utils"
)

// OrderTracker регистрирует единственный незавершённый ордер (реализует PortfolioState)
type OrderTracker interface {
	TrackOrder(order *models.Order) error
	ReleaseOrder(orderID string)
}

// ExecutorConfig таймауты и повторы исполнителя
type ExecutorConfig struct {
	AckTimeout   time.Duration // таймаут одного запроса к бирже
	FillTimeout  time.Duration // после него остаток отменяется
	PollInterval time.Duration // пауза между успешными опросами статуса
	StatusRetry  retry.Config
	CancelRetry  retry.Config
}

// DefaultExecutorConfig значения по умолчанию
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		AckTimeout:   10 * time.Second,
		FillTimeout:  2 * time.Minute,
		PollInterval: 2 * time.Second,
		StatusRetry:  retry.StatusCheckConfig(),
		CancelRetry:  retry.CancelConfig(),
	}
}

// Handle - ссылка на ордер, исполняемый в фоне
//
// Done закрывается, когда ордер дошёл до финального статуса
// или сверка прервана отменой контекста (статус тогда не меняется).
type Handle struct {
	mu    sync.RWMutex
	order *models.Order
	err   error

	done       chan struct{}
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

func newHandle(order *models.Order) *Handle {
	return &Handle{
		order:    order,
		done:     make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
}

// Order копия текущего состояния ордера
func (h *Handle) Order() *models.Order {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.order.Clone()
}

// ID client order id
func (h *Handle) ID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.order.ID
}

// Done закрывается по завершении фоновой сверки
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err ошибка, с которой завершилась сверка (nil для штатного исполнения)
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Cancel запрашивает отмену неисполненного остатка
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancelCh) })
}

// Wait ждёт завершения сверки или отмены ctx. Возвращает последнее известное состояние.
func (h *Handle) Wait(ctx context.Context) (*models.Order, error) {
	select {
	case <-h.done:
		return h.Order(), h.Err()
	case <-ctx.Done():
		return h.Order(), ctx.Err()
	}
}

func (h *Handle) update(fn func(o *models.Order)) models.Order {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.order)
	return *h.order.Clone()
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// OrderExecutor - асинхронная отправка ордера и фоновая сверка исполнения
//
// Submit сразу возвращает Handle с ордером в Pending. Фоновая горутина:
// 1. PlaceOrder (без повторов: повторная отправка может задвоить ордер) -> Submitted
// 2. опрос GetOrderStatus с backoff до StatusRetry.MaxRetries неудач подряд -> Failed
// 3. накопленное исполнение превращается в последовательные Fill
// 4. по FillTimeout или Handle.Cancel остаток отменяется -> Cancelled
type OrderExecutor struct {
	exch    exchange.Exchange
	market  string
	tracker OrderTracker
	cfg     ExecutorConfig

	mu     sync.Mutex
	active map[string]*Handle

	onUpdate func(models.Order)

	newID  func() string
	now    func() time.Time
	logger *utils.Logger
}

// NewOrderExecutor создаёт исполнитель для одного рынка
func NewOrderExecutor(exch exchange.Exchange, market string, tracker OrderTracker, cfg ExecutorConfig) *OrderExecutor {
	def := DefaultExecutorConfig()
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = def.AckTimeout
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = def.FillTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StatusRetry.MaxRetries <= 0 {
		cfg.StatusRetry = def.StatusRetry
	}
	if cfg.CancelRetry.MaxRetries <= 0 {
		cfg.CancelRetry = def.CancelRetry
	}

	return &OrderExecutor{
		exch:    exch,
		market:  market,
		tracker: tracker,
		cfg:     cfg,
		active:  make(map[string]*Handle),
		newID:   uuid.NewString,
		now:     time.Now,
		logger:  utils.L().WithComponent("executor").WithMarket(market),
	}
}

// SetOnUpdate наблюдатель изменений ордера (персистентность, WebSocket).
// Вызывается из горутины сверки, должен быть быстрым.
func (oe *OrderExecutor) SetOnUpdate(fn func(models.Order)) {
	oe.mu.Lock()
	oe.onUpdate = fn
	oe.mu.Unlock()
}

// Submit создаёт ордер по одобренному решению и запускает его исполнение
func (oe *OrderExecutor) Submit(ctx context.Context, cycleID int64, decision models.Decision, signal models.Signal) (*Handle, error) {
	if !decision.Approved() {
		return nil, fmt.Errorf("submit: decision %s is not approved", decision.Kind)
	}
	if !decision.Side.Valid() || !decision.Quantity.IsPositive() {
		return nil, fmt.Errorf("submit: invalid side %q or quantity %s", decision.Side, decision.Quantity)
	}

	now := oe.now()
	order := &models.Order{
		ID:                oe.newID(),
		Market:            oe.market,
		Side:              decision.Side,
		RequestedQuantity: decision.Quantity,
		Status:            models.OrderStatusPending,
		CycleID:           cycleID,
		CreatedAt:         now,
		LastUpdatedAt:     now,
	}

	if oe.tracker != nil {
		if err := oe.tracker.TrackOrder(order); err != nil {
			return nil, err
		}
	}

	h := newHandle(order)
	oe.register(h)
	oe.notify(*order.Clone())

	oe.logger.Info("order submitted",
		utils.OrderID(order.ID),
		utils.CycleID(cycleID),
		utils.Side(string(order.Side)),
		utils.Quantity(order.RequestedQuantity),
		utils.String("signal_reason", signal.Reason),
		utils.Float64("strength", signal.Strength.InexactFloat64()),
	)

	go oe.run(ctx, h)
	return h, nil
}

// Cancel отменяет активный ордер по client id
func (oe *OrderExecutor) Cancel(orderID string) error {
	oe.mu.Lock()
	h, ok := oe.active[orderID]
	oe.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	h.Cancel()
	return nil
}

// Active возвращает активный Handle, если он есть
func (oe *OrderExecutor) Active(orderID string) (*Handle, bool) {
	oe.mu.Lock()
	defer oe.mu.Unlock()
	h, ok := oe.active[orderID]
	return h, ok
}

// Reconcile синхронно доводит незавершённый ордер до финального статуса
//
// Используется при Resume и при старте. Ордер без id биржи уже не найти - Failed.
func (oe *OrderExecutor) Reconcile(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order == nil {
		return nil, fmt.Errorf("reconcile: nil order")
	}
	if order.Status.IsTerminal() {
		return order.Clone(), nil
	}

	if oe.tracker != nil {
		if err := oe.tracker.TrackOrder(order); err != nil {
			return order.Clone(), err
		}
	}

	h := newHandle(order.Clone())
	oe.register(h)
	defer oe.unregister(h)
	defer close(h.done)

	if h.order.ExchangeOrderID == "" {
		oe.finish(h, models.OrderStatusFailed, errors.New("order was never acknowledged by the exchange"))
		return h.Order(), h.Err()
	}

	oe.logger.Info("reconciling order",
		utils.OrderID(order.ID),
		utils.String("exchange_order_id", order.ExchangeOrderID),
		utils.State(string(order.Status)),
	)
	oe.poll(ctx, h)
	return h.Order(), h.Err()
}

func (oe *OrderExecutor) register(h *Handle) {
	oe.mu.Lock()
	oe.active[h.order.ID] = h
	oe.mu.Unlock()
}

func (oe *OrderExecutor) unregister(h *Handle) {
	oe.mu.Lock()
	delete(oe.active, h.ID())
	oe.mu.Unlock()
}

func (oe *OrderExecutor) notify(o models.Order) {
	oe.mu.Lock()
	fn := oe.onUpdate
	oe.mu.Unlock()
	if fn != nil {
		fn(o)
	}
}

// ============================================================
// Фоновая сверка
// ============================================================

func (oe *OrderExecutor) run(ctx context.Context, h *Handle) {
	defer close(h.done)
	defer oe.unregister(h)

	order := h.Order()
	req := exchange.OrderRequest{
		ClientOrderID: order.ID,
		Market:        order.Market,
		Side:          order.Side,
		Quantity:      order.RequestedQuantity,
		Price:         order.RequestedPrice,
	}

	start := oe.now()
	ackCtx, cancel := context.WithTimeout(ctx, oe.cfg.AckTimeout)
	ack, err := oe.exch.PlaceOrder(ackCtx, req)
	cancel()
	OrderAckLatency.Observe(float64(oe.now().Sub(start).Milliseconds()))

	if err != nil {
		if ctx.Err() != nil {
			// отмена до подтверждения: статус Pending остаётся для сверки
			h.setErr(ctx.Err())
			return
		}
		if exchange.IsPermanent(err) {
			oe.finish(h, models.OrderStatusRejected, err)
		} else {
			oe.finish(h, models.OrderStatusFailed, &models.TransientIOError{Op: "place order", Err: err})
		}
		return
	}

	oe.transition(h, models.OrderStatusSubmitted, func(o *models.Order) {
		o.ExchangeOrderID = ack.ExchangeOrderID
	})
	oe.poll(ctx, h)
}

// poll опрашивает статус до финального, таймаута исполнения или отмены
func (oe *OrderExecutor) poll(ctx context.Context, h *Handle) {
	fillTimer := time.NewTimer(oe.cfg.FillTimeout)
	defer fillTimer.Stop()

	for {
		state, err := oe.fetchStatus(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				h.setErr(ctx.Err())
				return
			}
			if exchange.IsTransient(err) {
				err = &models.TransientIOError{Op: "order status", Err: err}
			}
			oe.finish(h, models.OrderStatusFailed, err)
			return
		}

		if err := oe.applyState(h, state); err != nil {
			oe.finish(h, models.OrderStatusFailed, err)
			return
		}
		if h.Order().Status.IsTerminal() {
			return
		}

		wait := time.NewTimer(oe.cfg.PollInterval)
		select {
		case <-ctx.Done():
			wait.Stop()
			h.setErr(ctx.Err())
			return
		case <-h.cancelCh:
			wait.Stop()
			oe.cancelRemainder(ctx, h, "cancel requested")
			return
		case <-fillTimer.C:
			wait.Stop()
			oe.cancelRemainder(ctx, h, "fill timeout")
			return
		case <-wait.C:
		}
	}
}

// fetchStatus один раунд опроса с повторами на временных ошибках
func (oe *OrderExecutor) fetchStatus(ctx context.Context, h *Handle) (*exchange.OrderState, error) {
	order := h.Order()

	cfg := oe.cfg.StatusRetry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		ReconcileRetries.Inc()
		oe.logger.Warn("order status check failed",
			utils.OrderID(order.ID),
			utils.Int("attempt", attempt),
			utils.Duration("retry_in", delay),
			utils.Err(err),
		)
	}

	return retry.DoWithResult(ctx, func() (*exchange.OrderState, error) {
		callCtx, cancel := context.WithTimeout(ctx, oe.cfg.AckTimeout)
		defer cancel()
		return oe.exch.GetOrderStatus(callCtx, order.Market, order.ExchangeOrderID, order.Side)
	}, cfg)
}

// applyState переводит накопленное исполнение биржи в новые Fill и статус
func (oe *OrderExecutor) applyState(h *Handle, st *exchange.OrderState) error {
	var (
		changed bool
		failure error
	)

	snapshot := h.update(func(o *models.Order) {
		if st.FilledQuantity.LessThan(o.FilledQuantity) {
			failure = &models.InconsistentFillError{
				OrderID:  o.ID,
				Sequence: len(o.Fills),
				Reason:   fmt.Sprintf("exchange reports filled %s below known %s", st.FilledQuantity, o.FilledQuantity),
			}
			return
		}

		if st.FilledQuantity.GreaterThan(o.FilledQuantity) {
			o.Fills = append(o.Fills, nextFill(o, st, oe.now()))
			o.FilledQuantity = st.FilledQuantity
			o.AverageFillPrice = st.AveragePrice
			changed = true
		}

		next := o.Status
		switch st.State {
		case exchange.ExecFilled:
			next = models.OrderStatusFilled
		case exchange.ExecCancelled:
			next = models.OrderStatusCancelled
		case exchange.ExecRejected:
			next = models.OrderStatusRejected
		default:
			if o.FilledQuantity.IsPositive() {
				next = models.OrderStatusPartiallyFilled
			}
		}
		if next != o.Status && o.Status.CanTransition(next) {
			o.Status = next
			changed = true
		}
		if changed {
			o.LastUpdatedAt = oe.now()
		}
	})

	if failure != nil {
		return failure
	}
	if changed {
		oe.notify(snapshot)
		if snapshot.Status.IsTerminal() {
			OrdersTotal.WithLabelValues(string(snapshot.Status)).Inc()
			oe.logger.Info("order finished",
				utils.OrderID(snapshot.ID),
				utils.State(string(snapshot.Status)),
				utils.Quantity(snapshot.FilledQuantity),
				utils.Price(snapshot.AverageFillPrice),
			)
		}
	}
	return nil
}

// nextFill строит исполнение из прироста накопленных значений
func nextFill(o *models.Order, st *exchange.OrderState, now time.Time) models.Fill {
	delta := st.FilledQuantity.Sub(o.FilledQuantity)

	price := st.AveragePrice
	if o.FilledQuantity.IsPositive() {
		cost := st.AveragePrice.Mul(st.FilledQuantity).Sub(o.AverageFillPrice.Mul(o.FilledQuantity))
		if p := cost.Div(delta); p.IsPositive() {
			price = p
		}
	}

	prevFee := decimal.Zero
	for _, f := range o.Fills {
		prevFee = prevFee.Add(f.Fee)
	}
	fee := st.Fee.Sub(prevFee)
	if fee.IsNegative() {
		fee = decimal.Zero
	}

	filledAt := st.UpdatedAt
	if filledAt.IsZero() {
		filledAt = now
	}

	return models.Fill{
		OrderID:  o.ID,
		Sequence: len(o.Fills) + 1,
		Side:     o.Side,
		Quantity: delta,
		Price:    price,
		Fee:      fee,
		FilledAt: filledAt,
	}
}

// cancelRemainder отменяет остаток и фиксирует итоговое исполнение
func (oe *OrderExecutor) cancelRemainder(ctx context.Context, h *Handle, reason string) {
	order := h.Order()
	oe.logger.Info("cancelling order remainder",
		utils.OrderID(order.ID),
		utils.Reason(reason),
		utils.Quantity(order.Remaining()),
	)

	cancelErr := retry.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, oe.cfg.AckTimeout)
		defer cancel()
		return oe.exch.CancelOrder(callCtx, order.Market, order.ExchangeOrderID, order.Side)
	}, oe.cfg.CancelRetry)

	// исполнения, успевшие пройти до отмены
	state, statusErr := oe.fetchStatus(ctx, h)
	if statusErr == nil {
		if err := oe.applyState(h, state); err != nil {
			oe.finish(h, models.OrderStatusFailed, err)
			return
		}
		if h.Order().Status.IsTerminal() {
			return
		}
	}

	if ctx.Err() != nil {
		h.setErr(ctx.Err())
		return
	}

	var lastErr error
	switch {
	case cancelErr != nil:
		lastErr = fmt.Errorf("%s: cancel failed: %w", reason, cancelErr)
	case statusErr != nil:
		lastErr = fmt.Errorf("%s: final status unknown: %w", reason, statusErr)
	default:
		lastErr = errors.New(reason)
	}
	oe.finish(h, models.OrderStatusCancelled, lastErr)
}

func (oe *OrderExecutor) transition(h *Handle, to models.OrderStatus, mutate func(o *models.Order)) {
	snapshot := h.update(func(o *models.Order) {
		if !o.Status.CanTransition(to) {
			return
		}
		o.Status = to
		if mutate != nil {
			mutate(o)
		}
		o.LastUpdatedAt = oe.now()
	})
	oe.notify(snapshot)
}

// finish переводит ордер в финальный статус.
// Для Cancelled err только записывается в LastError: отмена остатка - штатный итог.
func (oe *OrderExecutor) finish(h *Handle, to models.OrderStatus, err error) {
	snapshot := h.update(func(o *models.Order) {
		if o.Status.CanTransition(to) {
			o.Status = to
		}
		if err != nil {
			o.LastError = err.Error()
		}
		o.LastUpdatedAt = oe.now()
	})
	if err != nil && to != models.OrderStatusCancelled {
		h.setErr(err)
	}

	OrdersTotal.WithLabelValues(string(snapshot.Status)).Inc()
	oe.logger.Info("order finished",
		utils.OrderID(snapshot.ID),
		utils.State(string(snapshot.Status)),
		utils.Quantity(snapshot.FilledQuantity),
		utils.Err(err),
	)
	oe.notify(snapshot)
}
