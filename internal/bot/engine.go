package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/exchange"
	"tradebot/internal/models"
	"tradebot/internal/strategy"
	"tradebot/pkg/utils"
)

// AuditSink - упорядоченный журнал аудита (at-least-once)
//
// Append ставит запись в очередь и не ждёт записи в хранилище.
// Flush ждёт, пока очередь не опустеет, или отмены ctx.
type AuditSink interface {
	Append(ctx context.Context, cycleID int64, kind models.AuditKind, payload interface{}, at time.Time) error
	Flush(ctx context.Context) error
	Pending() int
}

// Notifier - доставка уведомлений. Ошибки только логируются.
type Notifier interface {
	Notify(ctx context.Context, notif *models.Notification) error
}

// OrderStore персистентность ордеров
type OrderStore interface {
	SaveOrder(ctx context.Context, order *models.Order) error
	ListOpenOrders(ctx context.Context, market string) ([]*models.Order, error)
}

// CycleStore персистентность циклов
type CycleStore interface {
	SaveCycle(ctx context.Context, cycle *models.CycleRecord) error
}

// TradeStore персистентность закрывающих сделок (для дневного отчёта)
type TradeStore interface {
	SaveTrades(ctx context.Context, market string, trades []models.TradeResult) error
}

// WebSocketHub - интерфейс для отправки данных клиентам
//
// Реализуется пакетом internal/websocket/Hub:
// - status: смена состояния и итог цикла
// - order: каждое изменение ордера
// - notification: события торговли
type WebSocketHub interface {
	BroadcastStatus(status *models.BotStatus)
	BroadcastOrder(order *models.Order)
	BroadcastNotification(notif *models.Notification)
}

// EngineConfig параметры оркестратора
//
// Market, TriggerMode и Executor фиксируются при создании,
// остальное подхватывается через Reload между циклами.
type EngineConfig struct {
	Market            string
	Paper             bool
	TriggerMode       models.TriggerSource // interval | candle
	Interval          time.Duration
	WindowSize        int
	Limits            models.RiskLimits
	TickStaleAfter    time.Duration // тик старше - цена запрашивается через REST
	AuditFlushTimeout time.Duration
	StatusInterval    time.Duration
	Executor          ExecutorConfig
	Location          *time.Location
}

// Dependencies внешние компоненты оркестратора. Exchange и Strategy обязательны.
type Dependencies struct {
	Exchange exchange.Exchange
	Strategy strategy.Evaluator
	Audit    AuditSink
	Orders   OrderStore
	Cycles   CycleStore
	Trades   TradeStore
	Notifier Notifier
	Hub      WebSocketHub
}

// Trigger - единое событие запуска цикла (тик интервала, закрытие свечи, ручной запуск)
type Trigger struct {
	Source models.TriggerSource
	At     time.Time
	Candle *models.Candle
}

type pendingReload struct {
	cfg      EngineConfig
	strategy strategy.Evaluator
}

// Engine - торговый оркестратор
//
// Цикл: Idle → Evaluating → RiskChecking → Executing → Settling → Idle.
// Из любого состояния - Halted (InconsistentFillError, UnrecoverableAuthError, Pause).
// Выход из Halted только через Resume, который сначала сверяет незавершённый ордер.
//
// Поток данных:
// MarketData → OnTick/OnCandle → Window → Strategy → Signal → Risk → OrderExecutor → Settle → Audit
type Engine struct {
	cfgMu    sync.RWMutex
	cfg      EngineConfig
	strat    strategy.Evaluator
	reloaded *pendingReload

	exch     exchange.Exchange
	audit    AuditSink
	orders   OrderStore
	cycles   CycleStore
	trades   TradeStore
	notifier Notifier
	hub      WebSocketHub

	portfolio *PortfolioState
	risk      *RiskController
	executor  *OrderExecutor
	window    *strategy.Window

	// один цикл за раз
	cycleMu  sync.Mutex
	cycleSeq int64

	stateMu    sync.RWMutex
	state      EngineStatus
	haltReason string
	haltedAt   *time.Time
	lastCycle  *models.CycleRecord
	openOrder  *models.Order
	running    bool

	// отмена идущего цикла при Halt
	cycleCancel context.CancelFunc

	// последняя цена: побеждает последнее значение
	lastTick atomic.Pointer[models.Tick]

	// закрытые свечи: очередь без потерь
	candleMu     sync.Mutex
	candleQueue  []models.Candle
	candleSignal chan struct{}

	manual  chan struct{}
	notifCh chan *models.Notification

	startedAt time.Time
	now       func() time.Time
	logger    *utils.Logger
}

// NewEngine создаёт оркестратор для одного рынка
func NewEngine(cfg EngineConfig, deps Dependencies) (*Engine, error) {
	if deps.Exchange == nil {
		return nil, &models.ConfigurationError{Field: "exchange", Reason: "is required"}
	}
	if deps.Strategy == nil {
		return nil, &models.ConfigurationError{Field: "strategy", Reason: "is required"}
	}
	if err := utils.ValidateMarket(cfg.Market); err != nil {
		return nil, &models.ConfigurationError{Field: "market", Err: err}
	}
	cfg = withEngineDefaults(cfg)

	audit := deps.Audit
	if audit == nil {
		audit = nopAudit{}
	}

	now := time.Now()
	portfolio := NewPortfolioState(cfg.Market, decimal.Zero)

	e := &Engine{
		cfg:          cfg,
		strat:        deps.Strategy,
		exch:         deps.Exchange,
		audit:        audit,
		orders:       deps.Orders,
		cycles:       deps.Cycles,
		trades:       deps.Trades,
		notifier:     deps.Notifier,
		hub:          deps.Hub,
		portfolio:    portfolio,
		risk:         NewRiskController(cfg.Location),
		executor:     NewOrderExecutor(deps.Exchange, cfg.Market, portfolio, cfg.Executor),
		window:       strategy.NewWindow(cfg.WindowSize),
		cycleSeq:     now.UnixMilli(),
		state:        StateIdle,
		candleSignal: make(chan struct{}, 1),
		manual:       make(chan struct{}, 1),
		notifCh:      make(chan *models.Notification, 100),
		startedAt:    now,
		now:          time.Now,
		logger:       utils.L().WithComponent("engine").WithMarket(cfg.Market),
	}
	e.executor.SetOnUpdate(e.onOrderUpdate)
	RecordState(StateIdle)
	return e, nil
}

func withEngineDefaults(cfg EngineConfig) EngineConfig {
	if cfg.TriggerMode == "" {
		cfg.TriggerMode = models.TriggerInterval
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.WindowSize < 2 {
		cfg.WindowSize = 20
	}
	if cfg.TickStaleAfter <= 0 {
		cfg.TickStaleAfter = time.Minute
	}
	if cfg.AuditFlushTimeout <= 0 {
		cfg.AuditFlushTimeout = 5 * time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 5 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return cfg
}

// Portfolio возвращает состояние портфеля
func (e *Engine) Portfolio() *PortfolioState {
	return e.portfolio
}

// Risk возвращает риск-контроль
func (e *Engine) Risk() *RiskController {
	return e.risk
}

// Executor возвращает исполнитель ордеров
func (e *Engine) Executor() *OrderExecutor {
	return e.executor
}

func (e *Engine) config() EngineConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

func (e *Engine) strategy() strategy.Evaluator {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.strat
}

// ============================================================
// Рыночные данные
// ============================================================

// OnTick принимает последнюю цену. Непозитивные цены игнорируются.
func (e *Engine) OnTick(price decimal.Decimal, at time.Time) {
	if !price.IsPositive() {
		return
	}
	if at.IsZero() {
		at = e.now()
	}
	e.lastTick.Store(&models.Tick{Market: e.config().Market, Price: price, ReceivedAt: at})
	e.portfolio.MarkPrice(price)
}

// OnCandle ставит закрытую свечу в очередь. Свечи не теряются;
// дубликаты и опоздавшие (по CloseTime) отбрасываются при разборе очереди.
func (e *Engine) OnCandle(c models.Candle) {
	if err := c.Validate(); err != nil {
		e.logger.Warn("invalid candle dropped", utils.Err(err), utils.Time("close_time", c.CloseTime))
		return
	}

	e.candleMu.Lock()
	e.candleQueue = append(e.candleQueue, c)
	e.candleMu.Unlock()

	select {
	case e.candleSignal <- struct{}{}:
	default:
	}
}

// drainCandles переносит очередь свечей в окно. Возвращает последнюю принятую свечу.
func (e *Engine) drainCandles() (models.Candle, bool) {
	e.candleMu.Lock()
	queue := e.candleQueue
	e.candleQueue = nil
	e.candleMu.Unlock()

	var (
		last     models.Candle
		accepted bool
	)
	for _, c := range queue {
		if !e.window.Push(c) {
			e.logger.Debug("discarding duplicate or out-of-order candle", utils.Time("close_time", c.CloseTime))
			continue
		}
		last, accepted = c, true
	}
	return last, accepted
}

// ============================================================
// Главный цикл
// ============================================================

// Run запускает планировщик и фоновые задачи. Блокируется до отмены ctx.
func (e *Engine) Run(ctx context.Context) error {
	e.stateMu.Lock()
	e.running = true
	e.stateMu.Unlock()
	defer func() {
		e.stateMu.Lock()
		e.running = false
		e.stateMu.Unlock()
	}()

	go e.notificationLoop(ctx)
	go e.periodicTasks(ctx)

	cfg := e.config()
	e.logger.Info("engine started",
		utils.String("trigger_mode", string(cfg.TriggerMode)),
		utils.Duration("interval", cfg.Interval),
		utils.Int("window", cfg.WindowSize),
		utils.Bool("paper", cfg.Paper),
	)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return ctx.Err()

		case <-ticker.C:
			cfg := e.config()
			if cfg.TriggerMode == models.TriggerInterval {
				e.trigger(ctx, Trigger{Source: models.TriggerInterval, At: e.now()})
			}
			ticker.Reset(cfg.Interval)

		case <-e.candleSignal:
			last, ok := e.drainCandles()
			if ok && e.config().TriggerMode == models.TriggerCandle {
				e.trigger(ctx, Trigger{Source: models.TriggerCandle, At: e.now(), Candle: &last})
			}

		case <-e.manual:
			e.trigger(ctx, Trigger{Source: models.TriggerManual, At: e.now()})
		}
	}
}

func (e *Engine) trigger(ctx context.Context, t Trigger) {
	if _, err := e.RunCycle(ctx, t); err != nil && !errors.Is(err, models.ErrBotHalted) {
		e.logger.Warn("cycle finished with error",
			utils.String("trigger", string(t.Source)),
			utils.Err(err),
		)
	}
}

// TriggerNow ставит внеочередной цикл. Не ждёт его завершения.
func (e *Engine) TriggerNow() error {
	e.stateMu.RLock()
	state, running := e.state, e.running
	e.stateMu.RUnlock()

	switch {
	case state == StateHalted:
		return models.ErrBotHalted
	case !running:
		return models.ErrEngineNotRunning
	case InCycle(state):
		return models.ErrCycleInProgress
	}

	select {
	case e.manual <- struct{}{}:
		return nil
	default:
		return models.ErrCycleInProgress
	}
}

// RunCycle выполняет один торговый цикл синхронно
//
// Перед циклом применяется отложенная конфигурация и ожидается запись аудита
// предыдущего цикла (не дольше AuditFlushTimeout).
func (e *Engine) RunCycle(ctx context.Context, trig Trigger) (*models.CycleRecord, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	if e.State() == StateHalted {
		return nil, models.ErrBotHalted
	}

	e.applyReload()
	e.drainCandles()
	e.waitAudit(ctx)

	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !e.beginCycle(cancel) {
		return nil, models.ErrBotHalted
	}
	defer e.endCycle()

	cfg := e.config()
	rec := &models.CycleRecord{
		ID:        atomic.AddInt64(&e.cycleSeq, 1),
		Market:    cfg.Market,
		Trigger:   trig.Source,
		StartedAt: e.now(),
	}
	log := e.logger.WithCycleID(rec.ID)

	err := e.cycle(cycleCtx, cfg, rec, log)
	rec.FinishedAt = e.now()
	if err != nil {
		rec.Error = err.Error()
	}
	e.finishCycle(ctx, rec, log)
	return rec, err
}

// beginCycle регистрирует отмену цикла. false, если бот уже в Halted.
func (e *Engine) beginCycle(cancel context.CancelFunc) bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state == StateHalted {
		return false
	}
	e.cycleCancel = cancel
	return true
}

func (e *Engine) endCycle() {
	e.stateMu.Lock()
	e.cycleCancel = nil
	e.stateMu.Unlock()
}

// cycle - тело цикла; заполняет rec по мере прохождения состояний
func (e *Engine) cycle(ctx context.Context, cfg EngineConfig, rec *models.CycleRecord, log *utils.Logger) error {
	if !e.transition(StateEvaluating) {
		rec.Outcome = models.CycleOutcomeSkipped
		return models.ErrBotHalted
	}

	// Evaluating
	if _, err := e.markPrice(ctx, cfg); err != nil {
		rec.Outcome = models.CycleOutcomeError
		return e.fail(rec, "mark price", err)
	}

	signal := e.strategy().Evaluate(e.window.Candles())
	rec.Direction = signal.Direction
	rec.Strength = signal.Strength
	e.appendAudit(ctx, rec.ID, models.AuditSignal, signal)

	// RiskChecking
	e.transition(StateRiskChecking)
	before := e.risk.DayState()
	decision := e.risk.Evaluate(signal, e.portfolio.Snapshot(), cfg.Limits)
	RecordDecision(string(decision.Kind), decision.Rule)
	rec.Decision = decision.Kind
	rec.Rule = decision.Rule
	e.appendAudit(ctx, rec.ID, models.AuditDecision, decision)
	e.notifyLatches(before, e.risk.DayState(), decision)

	log.Info("risk decision",
		utils.String("direction", string(signal.Direction)),
		utils.String("decision", string(decision.Kind)),
		utils.Reason(decision.Rule),
		utils.Quantity(decision.Quantity),
	)

	if !decision.Approved() {
		rec.Outcome = models.CycleOutcomeRejected
		if signal.IsFlat() {
			rec.Outcome = models.CycleOutcomeFlat
		}
		e.transition(StateIdle)
		return nil
	}

	// Executing
	if !e.transition(StateExecuting) {
		// пауза во время оценки: ордер не отправляется
		rec.Outcome = models.CycleOutcomeHalted
		return models.ErrBotHalted
	}
	h, err := e.executor.Submit(ctx, rec.ID, decision, signal)
	if err != nil {
		rec.Outcome = models.CycleOutcomeError
		e.transition(StateIdle)
		return fmt.Errorf("submit order: %w", err)
	}
	rec.OrderID = h.ID()

	order, waitErr := h.Wait(ctx)
	rec.OrderStatus = order.Status
	if !order.Status.IsTerminal() {
		// Halt или отмена ctx до финального статуса: ордер сверяется при Resume или рестарте
		rec.Outcome = models.CycleOutcomeHalted
		e.halt("order left non-terminal", waitErr)
		return fmt.Errorf("order %s left %s: %w", order.ID, order.Status, waitErr)
	}

	// Settling
	e.transition(StateSettling)
	settleErr := e.settle(ctx, rec.ID, order, h.Err())
	if settleErr != nil {
		if class := models.Classify(settleErr); class.Halts() {
			rec.Outcome = models.CycleOutcomeHalted
			e.halt(string(class), settleErr)
			return settleErr
		}
	}

	switch order.Status {
	case models.OrderStatusFilled, models.OrderStatusCancelled:
		rec.Outcome = models.CycleOutcomeExecuted
	default:
		rec.Outcome = models.CycleOutcomeError
	}
	e.transition(StateIdle)
	return settleErr
}

// fail обрабатывает ошибку ввода-вывода до создания ордера
func (e *Engine) fail(rec *models.CycleRecord, op string, err error) error {
	err = fmt.Errorf("%s: %w", op, err)
	if class := models.Classify(err); class.Halts() {
		rec.Outcome = models.CycleOutcomeHalted
		e.halt(string(class), err)
		return err
	}
	e.transition(StateIdle)
	return err
}

// markPrice возвращает свежую цену: последний тик или REST тикер
func (e *Engine) markPrice(ctx context.Context, cfg EngineConfig) (decimal.Decimal, error) {
	if t := e.lastTick.Load(); t != nil && e.now().Sub(t.ReceivedAt) <= cfg.TickStaleAfter {
		return t.Price, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Executor.AckTimeout)
	defer cancel()

	ticker, err := e.exch.GetTicker(callCtx, cfg.Market)
	if err != nil {
		last, ok := e.window.Last()
		if ok && models.Classify(err) == models.ClassTransient {
			e.logger.Warn("ticker unavailable, marking at last close",
				utils.Price(last.Close),
				utils.Err(err),
			)
			e.portfolio.MarkPrice(last.Close)
			return last.Close, nil
		}
		return decimal.Zero, err
	}

	e.OnTick(ticker.LastPrice, ticker.Timestamp)
	return ticker.LastPrice, nil
}

// settle применяет исполнения ордера к портфелю, снимает отметку открытого ордера
// и пишет итог в аудит. Повторно применённые исполнения пропускаются.
func (e *Engine) settle(ctx context.Context, cycleID int64, order *models.Order, execErr error) error {
	var (
		applied []models.Fill
		trades  []models.TradeResult
		fillErr error
	)
	for _, f := range order.Fills {
		res, err := e.portfolio.ApplyFillDetailed(f)
		if err != nil {
			fillErr = err
			break
		}
		if res.Duplicate {
			continue
		}
		applied = append(applied, f)
		trades = append(trades, res.Trades...)
	}
	e.portfolio.ReleaseOrder(order.ID)

	err := execErr
	if fillErr != nil {
		err = fillErr
	}

	snap := e.portfolio.Snapshot()
	outcome := models.OrderOutcome{
		Order:    order,
		Applied:  applied,
		Position: snap.Position,
		Trades:   trades,
		Snapshot: snap,
	}
	if err != nil {
		outcome.Error = err.Error()
	}
	e.appendAudit(ctx, cycleID, models.AuditOutcome, outcome)
	e.appendAudit(ctx, cycleID, models.AuditSnapshot, snap)

	e.stateMu.Lock()
	e.openOrder = nil
	e.stateMu.Unlock()

	RecordPortfolio(snap.Position.Quantity, snap.Equity, snap.Position.RealizedPnL)
	e.saveTrades(trades)
	e.notifyOrder(order, trades, err)
	return err
}

func (e *Engine) saveTrades(trades []models.TradeResult) {
	if e.trades == nil || len(trades) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.trades.SaveTrades(ctx, e.config().Market, trades); err != nil {
		e.logger.Warn("failed to persist trades", utils.Int("count", len(trades)), utils.Err(err))
	}
}

func (e *Engine) finishCycle(ctx context.Context, rec *models.CycleRecord, log *utils.Logger) {
	e.stateMu.Lock()
	e.lastCycle = rec
	e.stateMu.Unlock()

	RecordCycle(string(rec.Outcome), string(rec.Trigger), rec.Duration().Seconds())

	if e.cycles != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := e.cycles.SaveCycle(saveCtx, rec); err != nil {
			log.Error("failed to save cycle", utils.Err(err))
		}
		cancel()
	}

	log.Info("cycle finished",
		utils.String("outcome", string(rec.Outcome)),
		utils.String("trigger", string(rec.Trigger)),
		utils.Duration("duration", rec.Duration()),
	)
	e.broadcastStatus()
}

// ============================================================
// Состояние
// ============================================================

// State текущее состояние оркестратора
func (e *Engine) State() EngineStatus {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// transition меняет состояние. В Halted переходы цикла игнорируются:
// цикл доводит расчёт, но новое состояние не выставляет.
func (e *Engine) transition(to EngineStatus) bool {
	e.stateMu.Lock()
	from := e.state
	if from == to {
		e.stateMu.Unlock()
		return true
	}
	if from == StateHalted || !CanTransition(from, to) {
		e.stateMu.Unlock()
		e.logger.Debug("state transition ignored",
			utils.String("from", string(from)),
			utils.String("to", string(to)),
		)
		return false
	}
	e.state = to
	e.stateMu.Unlock()

	RecordState(to)
	return true
}

// Pause вручную останавливает бота. Ожидание исполнения в идущем цикле прерывается,
// последний известный статус ордера остаётся для сверки при Resume.
func (e *Engine) Pause(reason string) {
	if reason == "" {
		reason = "paused by operator"
	}
	e.halt(reason, nil)
}

// halt переводит бота в Halted из любого состояния
func (e *Engine) halt(reason string, err error) {
	e.stateMu.Lock()
	if e.state == StateHalted {
		e.stateMu.Unlock()
		return
	}
	from := e.state
	at := e.now()
	e.state = StateHalted
	e.haltReason = reason
	e.haltedAt = &at
	cancelCycle := e.cycleCancel
	e.stateMu.Unlock()

	if cancelCycle != nil {
		cancelCycle()
	}
	RecordState(StateHalted)

	rec := models.HaltRecord{Reason: reason, From: string(from), At: at}
	fields := []utils.Field{utils.Reason(reason), utils.String("from", string(from))}
	if err != nil {
		rec.Error = err.Error()
		rec.Class = string(models.Classify(err))
		fields = append(fields, utils.Err(err))
	}
	e.logger.Error("bot halted", fields...)

	e.appendAudit(context.Background(), 0, models.AuditHalt, rec)
	msg := "Bot halted: " + reason
	if err != nil {
		msg += " (" + err.Error() + ")"
	}
	e.notify(models.SeverityError, models.NotificationTypeHalted, msg, map[string]interface{}{
		"reason": reason,
		"from":   string(from),
		"class":  rec.Class,
	})
	e.broadcastStatus()
}

// Resume выводит бота из Halted
//
// Ждёт завершения идущего цикла, сверяет незавершённый ордер и применяет его исполнения.
// Если сверка не удалась, бот остаётся в Halted.
func (e *Engine) Resume(ctx context.Context) error {
	if e.State() != StateHalted {
		return models.ErrBotNotHalted
	}

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	if err := e.reconcileOpenOrder(ctx); err != nil {
		e.logger.Error("resume failed: open order not reconciled", utils.Err(err))
		return fmt.Errorf("resume: %w", err)
	}

	e.stateMu.Lock()
	if e.state != StateHalted {
		e.stateMu.Unlock()
		return models.ErrBotNotHalted
	}
	reason := e.haltReason
	e.state = StateIdle
	e.haltReason = ""
	e.haltedAt = nil
	e.stateMu.Unlock()

	RecordState(StateIdle)
	e.logger.Info("bot resumed", utils.String("halt_reason", reason))
	e.appendAudit(ctx, 0, models.AuditResume, models.HaltRecord{Reason: reason, From: string(StateHalted), At: e.now()})
	e.notify(models.SeverityInfo, models.NotificationTypeResumed, "Bot resumed after: "+reason, nil)
	e.broadcastStatus()
	return nil
}

// reconcileOpenOrder доводит незавершённый ордер до финального статуса и применяет исполнения
func (e *Engine) reconcileOpenOrder(ctx context.Context) error {
	id := e.portfolio.OpenOrderID()
	if id == "" {
		return nil
	}

	// прерванная сверка могла ещё не завершиться
	if h, ok := e.executor.Active(id); ok {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.stateMu.RLock()
	order := e.openOrder.Clone()
	e.stateMu.RUnlock()
	if order == nil || order.ID != id {
		return fmt.Errorf("%w: open order %s has no known state", models.ErrOrderNotFound, id)
	}

	return e.reconcile(ctx, order)
}

// reconcile сверяет ордер с биржей и применяет результат к портфелю
func (e *Engine) reconcile(ctx context.Context, order *models.Order) error {
	reconciled, err := e.executor.Reconcile(ctx, order)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if reconciled == nil || !reconciled.Status.IsTerminal() {
		return fmt.Errorf("order %s still not terminal: %v", order.ID, err)
	}

	settleErr := e.settle(ctx, reconciled.CycleID, reconciled, err)
	if settleErr != nil && models.Classify(settleErr).Halts() {
		return settleErr
	}
	e.logger.Info("order reconciled",
		utils.OrderID(reconciled.ID),
		utils.State(string(reconciled.Status)),
		utils.Quantity(reconciled.FilledQuantity),
	)
	return nil
}

// Reload откладывает новую конфигурацию до начала следующего цикла
func (e *Engine) Reload(cfg EngineConfig, strat strategy.Evaluator) {
	e.cfgMu.Lock()
	e.reloaded = &pendingReload{cfg: cfg, strategy: strat}
	e.cfgMu.Unlock()
}

// applyReload применяет отложенную конфигурацию (вызывается под cycleMu)
func (e *Engine) applyReload() {
	e.cfgMu.Lock()
	pending := e.reloaded
	e.reloaded = nil
	if pending == nil {
		e.cfgMu.Unlock()
		return
	}

	next := withEngineDefaults(pending.cfg)
	prev := e.cfg
	// рынок, режим запуска и исполнитель меняются только рестартом
	next.Market = prev.Market
	next.TriggerMode = prev.TriggerMode
	next.Executor = prev.Executor
	next.Location = prev.Location
	e.cfg = next
	if pending.strategy != nil {
		e.strat = pending.strategy
	}
	e.cfgMu.Unlock()

	e.window.Resize(next.WindowSize)
	e.logger.Info("configuration reloaded",
		utils.Int("window", next.WindowSize),
		utils.Duration("interval", next.Interval),
	)
	e.appendAudit(context.Background(), 0, models.AuditConfig, next.Limits)
}

// Status возвращает состояние бота для API
func (e *Engine) Status() *models.BotStatus {
	cfg := e.config()

	e.stateMu.RLock()
	st := &models.BotStatus{
		State:       string(e.state),
		StateInfo:   StateInfo(e.state),
		Market:      cfg.Market,
		TriggerMode: cfg.TriggerMode,
		Paper:       cfg.Paper,
		HaltReason:  e.haltReason,
		OpenOrder:   e.openOrder.Clone(),
		StartedAt:   e.startedAt,
	}
	if e.haltedAt != nil {
		t := *e.haltedAt
		st.HaltedAt = &t
	}
	if e.lastCycle != nil {
		c := *e.lastCycle
		st.LastCycle = &c
	}
	e.stateMu.RUnlock()

	if t := e.lastTick.Load(); t != nil {
		tick := *t
		st.LastTick = &tick
	}
	st.WindowSize = e.window.Size()
	st.WindowLen = e.window.Len()
	st.Risk = e.risk.DayState()
	st.Limits = cfg.Limits
	st.Portfolio = e.portfolio.Snapshot()
	return st
}

// ============================================================
// Ордера, аудит, уведомления
// ============================================================

// onOrderUpdate вызывается исполнителем при каждом изменении ордера
func (e *Engine) onOrderUpdate(o models.Order) {
	e.stateMu.Lock()
	e.openOrder = &o
	e.stateMu.Unlock()

	if e.orders != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.orders.SaveOrder(ctx, &o); err != nil {
			e.logger.Error("failed to save order", utils.OrderID(o.ID), utils.Err(err))
		}
		cancel()
	}
	if e.hub != nil {
		e.hub.BroadcastOrder(&o)
	}
}

// appendAudit ждёт места в очереди аудита не дольше AuditFlushTimeout.
// Отмена цикла не отменяет запись: событие Halt и итог ордера тоже попадают в журнал.
func (e *Engine) appendAudit(ctx context.Context, cycleID int64, kind models.AuditKind, payload interface{}) {
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config().AuditFlushTimeout)
	defer cancel()

	if err := e.audit.Append(appendCtx, cycleID, kind, payload, e.now()); err != nil {
		e.logger.Error("failed to append audit event",
			utils.CycleID(cycleID),
			utils.String("kind", string(kind)),
			utils.Err(err),
		)
	}
}

// waitAudit ждёт записи аудита предыдущего цикла
func (e *Engine) waitAudit(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(ctx, e.config().AuditFlushTimeout)
	defer cancel()

	if err := e.audit.Flush(flushCtx); err != nil {
		e.logger.Warn("audit flush timed out, starting cycle anyway",
			utils.Int("pending", e.audit.Pending()),
			utils.Err(err),
		)
	}
}

func (e *Engine) notifyOrder(order *models.Order, trades []models.TradeResult, err error) {
	meta := map[string]interface{}{
		"order_id": order.ID,
		"side":     string(order.Side),
		"status":   string(order.Status),
		"filled":   order.FilledQuantity.String(),
		"price":    order.AverageFillPrice.String(),
	}
	if len(trades) > 0 {
		pnl := decimal.Zero
		for _, t := range trades {
			pnl = pnl.Add(t.PnL)
		}
		meta["realized_pnl"] = pnl.String()
	}

	if order.Status == models.OrderStatusFilled {
		msg := fmt.Sprintf("%s %s %s filled at %s",
			order.Side, order.FilledQuantity, order.Market, order.AverageFillPrice)
		e.notify(models.SeverityInfo, models.NotificationTypeOrderFilled, msg, meta)
		return
	}

	msg := fmt.Sprintf("%s %s %s ended %s (filled %s)",
		order.Side, order.RequestedQuantity, order.Market, order.Status, order.FilledQuantity)
	if err != nil {
		msg += ": " + err.Error()
	}
	e.notify(models.SeverityWarn, models.NotificationTypeOrderFailed, msg, meta)
}

// notifyLatches уведомляет о срабатывании защёлкивающихся лимитов
func (e *Engine) notifyLatches(before, after models.RiskDayState, decision models.Decision) {
	latched := (!before.DailyLossLatched && after.DailyLossLatched) ||
		(!before.ConsecutiveLatched && after.ConsecutiveLatched)
	if !latched {
		return
	}
	e.notify(models.SeverityWarn, models.NotificationTypeRiskLimit,
		fmt.Sprintf("Trading blocked until %s: %s", after.TradingDay, decision.Rule),
		map[string]interface{}{
			"rule":             decision.Rule,
			"daily_pnl":        decision.Inputs.DailyRealizedPnL.String(),
			"daily_loss_limit": decision.Inputs.DailyLossLimit.String(),
		})
}

func (e *Engine) notify(severity, typ, message string, meta map[string]interface{}) {
	notif := &models.Notification{
		Timestamp: e.now(),
		Type:      typ,
		Severity:  severity,
		Market:    e.config().Market,
		Message:   message,
		Meta:      meta,
	}
	if e.hub != nil {
		e.hub.BroadcastNotification(notif)
	}
	if e.notifier != nil {
		tryEnqueue("notification", e.notifCh, notif)
	}
}

// notificationLoop доставляет уведомления вне торгового цикла
func (e *Engine) notificationLoop(ctx context.Context) {
	if e.notifier == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-e.notifCh:
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := e.notifier.Notify(sendCtx, notif); err != nil {
				e.logger.Warn("notification delivery failed",
					utils.String("type", notif.Type),
					utils.Err(err),
				)
			}
			cancel()
		}
	}
}

// periodicTasks - периодические задачи (НЕ влияют на торговлю)
func (e *Engine) periodicTasks(ctx context.Context) {
	ticker := time.NewTicker(e.config().StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			AuditQueueDepth.Set(float64(e.audit.Pending()))
			snap := e.portfolio.Snapshot()
			RecordPortfolio(snap.Position.Quantity, snap.Equity, snap.Position.RealizedPnL)
			e.broadcastStatus()
		}
	}
}

func (e *Engine) broadcastStatus() {
	if e.hub == nil {
		return
	}
	e.hub.BroadcastStatus(e.Status())
}

// nopAudit используется, когда журнал аудита не подключён
type nopAudit struct{}

func (nopAudit) Append(context.Context, int64, models.AuditKind, interface{}, time.Time) error {
	return nil
}
func (nopAudit) Flush(context.Context) error { return nil }
func (nopAudit) Pending() int                { return 0 }
