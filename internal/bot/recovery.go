package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/exchange"
	"tradebot/internal/models"
	"tradebot/pkg/retry"
	"tradebot/pkg/utils"
)

// RecoveryManager отвечает за восстановление работы бота после перезапуска.
//
// Функциональность:
// - Чтение незавершённых ордеров из БД
// - Сверка каждого ордера с биржей до финального статуса
// - Синхронизация кэша и позиции с балансом биржи
// - Начало торгового дня риск-контроля от восстановленного портфеля
// - Уведомление о результатах
//
// Выполняется до первого цикла. Ошибка сверки, требующая остановки
// (InconsistentFillError, UnrecoverableAuthError), переводит бота в Halted.
type RecoveryManager struct {
	engine *Engine
	orders OrderStore

	recoveryTimeout time.Duration
	balanceRetry    retry.Config

	logger *utils.Logger
}

// RecoveryConfig - конфигурация для RecoveryManager
type RecoveryConfig struct {
	// RecoveryTimeout - таймаут на весь процесс восстановления
	RecoveryTimeout time.Duration

	// BalanceRetry - повторы запроса баланса
	BalanceRetry retry.Config
}

// DefaultRecoveryConfig возвращает конфигурацию по умолчанию
func DefaultRecoveryConfig() *RecoveryConfig {
	return &RecoveryConfig{
		RecoveryTimeout: 5 * time.Minute,
		BalanceRetry:    retry.DefaultConfig(),
	}
}

// NewRecoveryManager создает новый менеджер восстановления. orders может быть nil (без БД).
func NewRecoveryManager(engine *Engine, orders OrderStore, cfg *RecoveryConfig) *RecoveryManager {
	if cfg == nil {
		cfg = DefaultRecoveryConfig()
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryConfig().RecoveryTimeout
	}
	if cfg.BalanceRetry.RetryIf == nil {
		cfg.BalanceRetry.RetryIf = retry.IsRetryable
	}

	return &RecoveryManager{
		engine:          engine,
		orders:          orders,
		recoveryTimeout: cfg.RecoveryTimeout,
		balanceRetry:    cfg.BalanceRetry,
		logger:          utils.L().WithComponent("recovery"),
	}
}

// RecoveryResult содержит результаты процесса восстановления
type RecoveryResult struct {
	// OpenOrdersFound - незавершённые ордера в БД
	OpenOrdersFound int

	// OrdersReconciled - ордера, доведённые до финального статуса
	OrdersReconciled []string

	// OrdersFailed - ордера, сверка которых не удалась
	OrdersFailed map[string]error

	// Balance - баланс биржи после сверки
	Balance *exchange.Balance

	// Snapshot - портфель после восстановления
	Snapshot models.PortfolioSnapshot

	// Halted - сверка перевела бота в Halted
	Halted bool
}

// Recover выполняет полный процесс восстановления
//
// Шаги:
// 1. Загрузка незавершённых ордеров из БД
// 2. Сверка ордеров с биржей и применение исполнений
// 3. Синхронизация портфеля с балансом биржи (баланс биржи приоритетен)
// 4. Начало торгового дня риск-контроля
// 5. Уведомление
func (rm *RecoveryManager) Recover(ctx context.Context) (*RecoveryResult, error) {
	result := &RecoveryResult{OrdersFailed: make(map[string]error)}

	ctx, cancel := context.WithTimeout(ctx, rm.recoveryTimeout)
	defer cancel()

	e := rm.engine
	market := e.config().Market

	// Шаг 1-2: незавершённые ордера
	if rm.orders != nil {
		open, err := rm.orders.ListOpenOrders(ctx, market)
		if err != nil {
			return result, fmt.Errorf("failed to load open orders: %w", err)
		}
		result.OpenOrdersFound = len(open)

		for _, order := range open {
			rm.logger.Info("reconciling order left open at shutdown",
				utils.OrderID(order.ID),
				utils.State(string(order.Status)),
			)
			if err := rm.reconcileOrder(ctx, order); err != nil {
				result.OrdersFailed[order.ID] = err
				if class := models.Classify(err); class.Halts() {
					e.halt("recovery: "+string(class), err)
					result.Halted = true
				}
				continue
			}
			result.OrdersReconciled = append(result.OrdersReconciled, order.ID)
		}
	}

	// Шаг 3: баланс биржи
	balance, err := retry.DoWithResult(ctx, func() (*exchange.Balance, error) {
		return e.exch.GetBalance(ctx, market)
	}, rm.balanceRetry)
	if err != nil {
		if models.Classify(err).Halts() {
			e.halt("recovery: balance", err)
			result.Halted = true
		}
		return result, fmt.Errorf("failed to sync balance: %w", err)
	}
	result.Balance = balance

	entry := balance.BaseAvgPrice
	if balance.BaseTotal.IsPositive() && !entry.IsPositive() {
		if price, err := e.markPrice(ctx, e.config()); err == nil {
			entry = price
		}
	}
	e.portfolio.Restore(balance.QuoteTotal, balance.BaseTotal, entry)

	// Шаг 4: торговый день
	snap := e.portfolio.Snapshot()
	e.risk.StartDay(snap)
	RecordPortfolio(snap.Position.Quantity, snap.Equity, snap.Position.RealizedPnL)
	result.Snapshot = snap

	// Шаг 5: уведомление
	rm.logger.Info("recovery complete",
		utils.Int("open_orders", result.OpenOrdersFound),
		utils.Int("reconciled", len(result.OrdersReconciled)),
		utils.Int("failed", len(result.OrdersFailed)),
		utils.String("cash", snap.Cash.String()),
		utils.Quantity(snap.Position.Quantity),
	)
	severity := models.SeverityInfo
	if len(result.OrdersFailed) > 0 {
		severity = models.SeverityWarn
	}
	e.notify(severity, models.NotificationTypeResumed,
		fmt.Sprintf("Recovery complete: %d open orders, %d reconciled, %d failed; cash %s, position %s",
			result.OpenOrdersFound, len(result.OrdersReconciled), len(result.OrdersFailed),
			snap.Cash.StringFixed(0), snap.Position.Quantity.String()),
		map[string]interface{}{
			"open_orders": result.OpenOrdersFound,
			"halted":      result.Halted,
		})
	e.broadcastStatus()

	return result, nil
}

// reconcileOrder регистрирует ордер в портфеле и доводит его до финального статуса
func (rm *RecoveryManager) reconcileOrder(ctx context.Context, order *models.Order) error {
	if order.Market != "" && order.Market != rm.engine.config().Market {
		return fmt.Errorf("order %s belongs to market %s", order.ID, order.Market)
	}
	// после рестарта исполнения в памяти пусты: сверка начинается с нуля
	fresh := order.Clone()
	fresh.Fills = nil
	fresh.FilledQuantity = decimal.Zero
	fresh.AverageFillPrice = decimal.Zero

	rm.engine.cycleMu.Lock()
	defer rm.engine.cycleMu.Unlock()
	return rm.engine.reconcile(ctx, fresh)
}
