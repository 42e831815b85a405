package bot

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/models"
	"tradebot/pkg/utils"
)

// RiskController - проверка сигнала против лимитов риска
//
// Правила проверяются строго по порядку, первое сработавшее определяет решение:
//  1. открытый ордер                         -> Reject(order-in-flight)
//  2. дневной убыток больше лимита           -> Reject(daily-loss-limit), до конца торгового дня
//  3. серия убыточных сделок                 -> Reject(consecutive-loss-limit), до конца торгового дня
//  4. убыточная сделка в пределах cooldown   -> Reject(cooldown-active)
//  5. желаемый объём больше MaxOrderNotional -> Scale; покупка ограничена кэшем сверх резерва
//  6. позиция за пределами MaxPositionSize   -> Scale до запаса; нет запаса -> Reject(position-limit-reached)
//  7. объём меньше минимального              -> Reject(below-min-order)
//
// Решение принимается целиком до создания ордера. Лимиты читаются только на время вызова.
type RiskController struct {
	mu  sync.Mutex
	loc *time.Location
	now func() time.Time
	day models.RiskDayState

	logger *utils.Logger
}

// NewRiskController создаёт риск-контроль с границей торгового дня в часовом поясе loc
func NewRiskController(loc *time.Location) *RiskController {
	if loc == nil {
		loc = time.UTC
	}
	return &RiskController{
		loc:    loc,
		now:    time.Now,
		logger: utils.L().WithComponent("risk"),
	}
}

// StartDay фиксирует начало торгового дня по снимку портфеля
func (rc *RiskController) StartDay(snap models.PortfolioSnapshot) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.startDayLocked(rc.now(), snap)
}

func (rc *RiskController) startDayLocked(now time.Time, snap models.PortfolioSnapshot) {
	rc.day = models.RiskDayState{
		TradingDay:          utils.TradingDay(now, rc.loc),
		DayStart:            utils.DayStartIn(now, rc.loc),
		DayStartEquity:      snap.Equity,
		DayStartRealizedPnL: snap.Position.RealizedPnL,
	}
}

// DayState возвращает состояние текущего торгового дня
func (rc *RiskController) DayState() models.RiskDayState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.day
}

// Evaluate принимает решение по сигналу
func (rc *RiskController) Evaluate(signal models.Signal, snap models.PortfolioSnapshot, limits models.RiskLimits) models.Decision {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := rc.now()
	if rc.day.TradingDay != utils.TradingDay(now, rc.loc) {
		rc.startDayLocked(now, snap)
	}

	price := signal.Price
	if !price.IsPositive() {
		price = snap.MarkPrice
	}

	dailyPnL := snap.Position.RealizedPnL.Sub(rc.day.DayStartRealizedPnL)
	inputs := models.RiskInputs{
		Direction:         signal.Direction,
		Strength:          signal.Strength,
		Price:             price,
		Equity:            snap.Equity,
		Cash:              snap.Cash,
		PositionQuantity:  snap.Position.Quantity,
		DailyRealizedPnL:  dailyPnL,
		DailyLossLimit:    limits.DailyLossLimit(rc.day.DayStartEquity),
		ConsecutiveLosses: snap.ConsecutiveLosses,
		LastLossAt:        snap.LastLossAt,
	}

	decision := models.Decision{
		Side:        signal.Side(),
		Price:       price,
		Inputs:      inputs,
		EvaluatedAt: now,
	}

	reject := func(rule, reason string) models.Decision {
		decision.Kind = models.DecisionReject
		decision.Rule = rule
		decision.Reason = reason
		decision.Quantity = decimal.Zero
		rc.logger.Debug("signal rejected",
			utils.Reason(rule),
			utils.String("direction", string(signal.Direction)),
		)
		return decision
	}

	if signal.IsFlat() {
		return reject(models.RuleFlatSignal, signal.Reason)
	}

	// 1. один незавершённый ордер на пару
	if snap.HasOpenOrder() {
		return reject(models.RuleOrderInFlight, "open order "+snap.OpenOrderID)
	}

	// 2. дневной убыток (защёлка до смены дня)
	if !rc.day.DailyLossLatched && inputs.DailyLossLimit.IsPositive() &&
		dailyPnL.LessThan(inputs.DailyLossLimit.Neg()) {
		rc.day.DailyLossLatched = true
		rc.logger.Warn("daily loss limit reached",
			utils.PNL(dailyPnL),
			utils.String("limit", inputs.DailyLossLimit.String()),
		)
	}
	if rc.day.DailyLossLatched {
		return reject(models.RuleDailyLossLimit, "realized "+dailyPnL.String()+" beyond -"+inputs.DailyLossLimit.String())
	}

	// 3. серия убытков (защёлка до смены дня)
	if limits.MaxConsecutiveLosses > 0 && snap.ConsecutiveLosses >= limits.MaxConsecutiveLosses {
		rc.day.ConsecutiveLatched = true
	}
	if rc.day.ConsecutiveLatched {
		return reject(models.RuleConsecutiveLossLimit, "consecutive losses limit reached")
	}

	// 4. пауза после убыточной сделки
	if limits.CooldownAfterLoss > 0 && snap.LastLossAt != nil {
		if until := snap.LastLossAt.Add(limits.CooldownAfterLoss); now.Before(until) {
			return reject(models.RuleCooldownActive, "cooldown until "+until.UTC().Format(time.RFC3339))
		}
	}

	if !price.IsPositive() {
		return reject(models.RuleNoMarkPrice, "no price to size the order")
	}

	// 5. объём ордера
	fraction := limits.EquityFraction
	if !fraction.IsPositive() {
		fraction = decimal.NewFromInt(1)
	}
	desired := signal.Strength.Mul(snap.Equity).Mul(fraction)
	if desired.IsNegative() {
		desired = decimal.Zero
	}
	decision.Inputs.DesiredNotional = desired

	requested := utils.RoundToStep(desired.Div(price), limits.QuantityStep)
	decision.RequestedQuantity = requested

	notional := desired
	rule := models.RuleWithinLimits

	if limits.MaxOrderNotional.IsPositive() && notional.GreaterThan(limits.MaxOrderNotional) {
		notional = limits.MaxOrderNotional
		rule = models.RuleMaxOrderNotional
	}

	if signal.Direction == models.DirectionBuy {
		reserve := snap.Equity.Mul(limits.MinCashReservePct)
		available := snap.Cash.Sub(reserve)
		if available.IsNegative() {
			available = decimal.Zero
		}
		if notional.GreaterThan(available) {
			notional = available
			rule = models.RuleCashReserve
		}
	}

	qty := notional.Div(price)

	// 6. лимит позиции
	headroom := rc.headroom(signal.Direction, snap.Position.Quantity, limits)
	if headroom != nil {
		decision.Inputs.Headroom = *headroom
		if !headroom.IsPositive() {
			return reject(models.RulePositionLimitReached, "no headroom for "+string(signal.Direction))
		}
		if qty.GreaterThan(*headroom) {
			qty = *headroom
			rule = models.RulePositionLimit
		}
	}

	// 7. минимальный ордер
	qty = utils.RoundToStep(qty, limits.QuantityStep)
	final := qty.Mul(price)
	decision.Inputs.FinalNotional = final

	if !qty.IsPositive() {
		return reject(models.RuleBelowMinOrder, "quantity rounds to zero")
	}
	if limits.MinOrderNotional.IsPositive() && final.LessThan(limits.MinOrderNotional) {
		return reject(models.RuleBelowMinOrder, "notional "+final.String()+" below minimum "+limits.MinOrderNotional.String())
	}

	decision.Quantity = qty
	decision.Rule = rule
	if qty.LessThan(requested) {
		decision.Kind = models.DecisionScale
	} else {
		decision.Kind = models.DecisionApprove
		decision.Rule = models.RuleWithinLimits
	}

	rc.logger.Debug("signal approved",
		utils.String("kind", string(decision.Kind)),
		utils.Quantity(qty),
		utils.Price(price),
		utils.Reason(decision.Rule),
	)
	return decision
}

// headroom запас позиции в направлении сделки. nil - без ограничения.
//
// Без шортов продать можно только имеющийся лонг.
func (rc *RiskController) headroom(dir models.Direction, position decimal.Decimal, limits models.RiskLimits) *decimal.Decimal {
	max := limits.MaxPositionSize
	limited := max.IsPositive()

	var h decimal.Decimal
	switch dir {
	case models.DirectionBuy:
		if !limited {
			return nil
		}
		h = max.Sub(position)
	case models.DirectionSell:
		if !limits.AllowShort {
			h = decimal.Max(position, decimal.Zero)
			break
		}
		if !limited {
			return nil
		}
		h = max.Add(position)
	default:
		h = decimal.Zero
	}

	if h.IsNegative() {
		h = decimal.Zero
	}
	return &h
}
