package bot

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/models"
)

// PortfolioState - единственный владелец позиции, кэша и открытого ордера
//
// Функции:
// - Применение исполнений (ApplyFill) с FIFO учётом себестоимости
// - Идемпотентность по OrderID+Sequence
// - Согласованный снимок (Snapshot) для риск-контроля и аудита
// - Инвариант одного незавершённого ордера (TrackOrder/ReleaseOrder)
//
// Все поля доступны только через методы под RWMutex.
// ApplyFill и Snapshot взаимно исключают друг друга.
type PortfolioState struct {
	mu sync.RWMutex

	market   string
	cash     decimal.Decimal
	quantity decimal.Decimal // со знаком
	lots     []lot           // открытые лоты одного знака, от старых к новым
	realized decimal.Decimal
	mark     decimal.Decimal

	applied map[models.FillKey]struct{}
	orders  map[string]*trackedOrder

	openOrderID       string
	lastLossAt        *time.Time
	consecutiveLosses int

	now func() time.Time
}

// lot - открытая часть позиции по одной цене (qty всегда > 0)
type lot struct {
	qty   decimal.Decimal
	price decimal.Decimal
}

type trackedOrder struct {
	side      models.OrderSide
	requested decimal.Decimal
	filled    decimal.Decimal
}

// FillResult результат применения исполнения
type FillResult struct {
	Position  models.Position
	Trades    []models.TradeResult
	Duplicate bool
}

// NewPortfolioState создаёт портфель с начальным кэшем и без позиции
func NewPortfolioState(market string, cash decimal.Decimal) *PortfolioState {
	return &PortfolioState{
		market:  market,
		cash:    cash,
		applied: make(map[models.FillKey]struct{}),
		orders:  make(map[string]*trackedOrder),
		now:     time.Now,
	}
}

// Restore выставляет позицию и кэш при старте (сверка с биржей)
//
// Позиция восстанавливается одним лотом по entryPrice.
func (p *PortfolioState) Restore(cash, quantity, entryPrice decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cash = cash
	p.quantity = quantity
	p.lots = nil
	if !quantity.IsZero() {
		p.lots = []lot{{qty: quantity.Abs(), price: entryPrice}}
	}
}

// ============================================================
// Открытый ордер
// ============================================================

// TrackOrder атомарно проверяет отсутствие открытого ордера и регистрирует новый
func (p *PortfolioState) TrackOrder(order *models.Order) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("track order: empty order")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.openOrderID != "" && p.openOrderID != order.ID {
		return fmt.Errorf("%w: %s", models.ErrOrderInFlight, p.openOrderID)
	}

	p.openOrderID = order.ID
	if _, ok := p.orders[order.ID]; !ok {
		p.orders[order.ID] = &trackedOrder{
			side:      order.Side,
			requested: order.RequestedQuantity,
			filled:    decimal.Zero,
		}
	}
	return nil
}

// ReleaseOrder снимает отметку открытого ордера, если она принадлежит orderID,
// и забывает учёт ордера. Вызывается после применения его исполнений.
func (p *PortfolioState) ReleaseOrder(orderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.openOrderID == orderID {
		p.openOrderID = ""
	}
	delete(p.orders, orderID)
	for key := range p.applied {
		if key.OrderID == orderID {
			delete(p.applied, key)
		}
	}
}

// HasOpenOrder true если есть незавершённый ордер
func (p *PortfolioState) HasOpenOrder() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.openOrderID != ""
}

// OpenOrderID возвращает id открытого ордера
func (p *PortfolioState) OpenOrderID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.openOrderID
}

// ============================================================
// Исполнения
// ============================================================

// ApplyFill применяет подтверждённое исполнение и возвращает новую позицию
func (p *PortfolioState) ApplyFill(fill models.Fill) (models.Position, error) {
	res, err := p.ApplyFillDetailed(fill)
	return res.Position, err
}

// ApplyFillDetailed применяет исполнение и возвращает закрытые сделки
//
// Повторное исполнение с тем же OrderID+Sequence ничего не меняет.
// Переворот позиции разбивается на закрытие и открытие по той же цене.
func (p *PortfolioState) ApplyFillDetailed(fill models.Fill) (FillResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := fill.Key()
	if _, dup := p.applied[key]; dup {
		return FillResult{Position: p.positionLocked(), Duplicate: true}, nil
	}

	if err := p.validateFillLocked(fill); err != nil {
		return FillResult{Position: p.positionLocked()}, err
	}

	signed := fill.Quantity.Mul(fill.Side.Sign())
	var trades []models.TradeResult

	// закрывающая часть: знак исполнения противоположен позиции
	if !p.quantity.IsZero() && p.quantity.Sign() != signed.Sign() {
		closeQty := decimal.Min(fill.Quantity, p.quantity.Abs())
		pnl := p.consumeLotsLocked(closeQty, fill.Price)

		feeShare := fill.Fee.Mul(closeQty).Div(fill.Quantity)
		pnl = pnl.Sub(feeShare)
		trades = append(trades, models.TradeResult{
			OrderID:  fill.OrderID,
			Quantity: closeQty,
			PnL:      pnl,
			ClosedAt: fill.FilledAt,
		})
		p.recordTradeLocked(pnl, fill.FilledAt)

		p.realized = p.realized.Add(pnl)
		p.quantity = p.quantity.Add(closeQty.Mul(fill.Side.Sign()))

		openQty := fill.Quantity.Sub(closeQty)
		if openQty.IsPositive() {
			p.lots = append(p.lots, lot{qty: openQty, price: fill.Price})
			p.quantity = p.quantity.Add(openQty.Mul(fill.Side.Sign()))
			p.realized = p.realized.Sub(fill.Fee.Sub(feeShare))
		}
	} else {
		p.lots = append(p.lots, lot{qty: fill.Quantity, price: fill.Price})
		p.quantity = p.quantity.Add(signed)
		p.realized = p.realized.Sub(fill.Fee)
	}

	notional := fill.Notional()
	if fill.Side == models.SideBuy {
		p.cash = p.cash.Sub(notional).Sub(fill.Fee)
	} else {
		p.cash = p.cash.Add(notional).Sub(fill.Fee)
	}

	if p.mark.IsZero() {
		p.mark = fill.Price
	}

	p.applied[key] = struct{}{}
	if o, ok := p.orders[fill.OrderID]; ok {
		o.filled = o.filled.Add(fill.Quantity)
	}

	return FillResult{Position: p.positionLocked(), Trades: trades}, nil
}

func (p *PortfolioState) validateFillLocked(fill models.Fill) error {
	bad := func(reason string) error {
		return &models.InconsistentFillError{OrderID: fill.OrderID, Sequence: fill.Sequence, Reason: reason}
	}

	if fill.OrderID == "" {
		return bad("empty order id")
	}
	if !fill.Quantity.IsPositive() {
		return bad("non-positive quantity " + fill.Quantity.String())
	}
	if !fill.Price.IsPositive() {
		return bad("non-positive price " + fill.Price.String())
	}
	if !fill.Side.Valid() {
		return bad(fmt.Sprintf("unknown side %q", fill.Side))
	}
	if fill.Fee.IsNegative() {
		return bad("negative fee " + fill.Fee.String())
	}

	if o, ok := p.orders[fill.OrderID]; ok {
		if o.side != fill.Side {
			return bad(fmt.Sprintf("side %s does not match order side %s", fill.Side, o.side))
		}
		if o.filled.Add(fill.Quantity).GreaterThan(o.requested) {
			return bad(fmt.Sprintf("cumulative fill %s exceeds requested %s",
				o.filled.Add(fill.Quantity), o.requested))
		}
	}
	return nil
}

// consumeLotsLocked списывает qty из лотов FIFO и возвращает реализованный PnL до комиссий
func (p *PortfolioState) consumeLotsLocked(qty, price decimal.Decimal) decimal.Decimal {
	long := p.quantity.IsPositive()
	pnl := decimal.Zero
	remaining := qty

	for remaining.IsPositive() && len(p.lots) > 0 {
		head := &p.lots[0]
		take := decimal.Min(remaining, head.qty)

		diff := price.Sub(head.price)
		if !long {
			diff = diff.Neg()
		}
		pnl = pnl.Add(diff.Mul(take))

		head.qty = head.qty.Sub(take)
		remaining = remaining.Sub(take)
		if head.qty.IsZero() {
			p.lots = p.lots[1:]
		}
	}
	return pnl
}

func (p *PortfolioState) recordTradeLocked(pnl decimal.Decimal, at time.Time) {
	switch {
	case pnl.IsNegative():
		if at.IsZero() {
			at = p.now()
		}
		t := at
		p.lastLossAt = &t
		p.consecutiveLosses++
	case pnl.IsPositive():
		p.consecutiveLosses = 0
	}
}

// ============================================================
// Цена и снимки
// ============================================================

// MarkPrice обновляет цену оценки позиции. Непозитивные цены игнорируются.
func (p *PortfolioState) MarkPrice(price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	p.mu.Lock()
	p.mark = price
	p.mu.Unlock()
}

// Position возвращает текущую позицию
func (p *PortfolioState) Position() models.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positionLocked()
}

// RealizedPnL накопленный реализованный PnL
func (p *PortfolioState) RealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realized
}

// Snapshot возвращает согласованный срез портфеля
func (p *PortfolioState) Snapshot() models.PortfolioSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pos := p.positionLocked()
	snap := models.PortfolioSnapshot{
		Position:          pos,
		Cash:              p.cash,
		Equity:            p.equityLocked(pos),
		MarkPrice:         p.mark,
		OpenOrderID:       p.openOrderID,
		ConsecutiveLosses: p.consecutiveLosses,
		Timestamp:         p.now(),
	}
	if p.lastLossAt != nil {
		t := *p.lastLossAt
		snap.LastLossAt = &t
	}
	return snap
}

func (p *PortfolioState) positionLocked() models.Position {
	avg := p.averageEntryLocked()
	pos := models.Position{
		Market:            p.market,
		Quantity:          p.quantity,
		AverageEntryPrice: avg,
		RealizedPnL:       p.realized,
		UnrealizedPnL:     decimal.Zero,
	}
	if !p.quantity.IsZero() && p.mark.IsPositive() {
		pos.UnrealizedPnL = p.mark.Sub(avg).Mul(p.quantity)
	}
	return pos
}

// averageEntryLocked средневзвешенная цена оставшихся лотов
func (p *PortfolioState) averageEntryLocked() decimal.Decimal {
	qty, cost := decimal.Zero, decimal.Zero
	for _, l := range p.lots {
		qty = qty.Add(l.qty)
		cost = cost.Add(l.qty.Mul(l.price))
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return cost.Div(qty)
}

func (p *PortfolioState) equityLocked(pos models.Position) decimal.Decimal {
	price := p.mark
	if !price.IsPositive() {
		price = pos.AverageEntryPrice
	}
	return p.cash.Add(p.quantity.Mul(price))
}
