package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradebot/internal/models"
	"tradebot/pkg/utils"
)

const paperName = "paper"

// PaperConfig настройки бумажной биржи
type PaperConfig struct {
	Market     string
	Cash       decimal.Decimal // начальный баланс котируемой валюты
	FeeRate    decimal.Decimal // доля от объёма сделки
	MarketData Exchange        // источник тикера и свечей; nil - только SetPrice
}

// paperOrder ордер бумажной биржи
type paperOrder struct {
	req   OrderRequest
	state OrderState
}

// Paper бумажная биржа для dry-run режима
//
// Рыночные ордера исполняются сразу по последней известной цене.
// Лимитные - когда последняя цена пересекает цену ордера.
// Баланс ведётся в памяти.
type Paper struct {
	mu sync.Mutex

	market  string
	feeRate decimal.Decimal
	data    Exchange

	lastPrice decimal.Decimal
	quote     decimal.Decimal
	base      decimal.Decimal
	orders    map[string]*paperOrder

	now    func() time.Time
	logger *utils.Logger
}

// NewPaper создаёт бумажную биржу
func NewPaper(cfg PaperConfig) *Paper {
	return &Paper{
		market:  cfg.Market,
		feeRate: cfg.FeeRate,
		data:    cfg.MarketData,
		quote:   cfg.Cash,
		orders:  make(map[string]*paperOrder),
		now:     time.Now,
		logger:  utils.L().WithComponent("paper"),
	}
}

func (p *Paper) GetName() string {
	return paperName
}

// SetPrice обновляет последнюю цену и исполняет пересечённые лимитные ордера
func (p *Paper) SetPrice(price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastPrice = price
	for _, o := range p.orders {
		if o.state.State == ExecOpen && p.crossesLocked(o.req) {
			p.fillLocked(o)
		}
	}
}

func (p *Paper) crossesLocked(req OrderRequest) bool {
	if req.Price == nil {
		return true
	}
	if req.Side == models.SideBuy {
		return p.lastPrice.LessThanOrEqual(*req.Price)
	}
	return p.lastPrice.GreaterThanOrEqual(*req.Price)
}

func (p *Paper) fillLocked(o *paperOrder) {
	price := p.lastPrice
	if o.req.Price != nil {
		price = *o.req.Price
	}
	qty := o.req.Quantity
	notional := qty.Mul(price)
	fee := notional.Mul(p.feeRate)

	if o.req.Side == models.SideBuy {
		p.quote = p.quote.Sub(notional).Sub(fee)
		p.base = p.base.Add(qty)
	} else {
		p.quote = p.quote.Add(notional).Sub(fee)
		p.base = p.base.Sub(qty)
	}

	o.state.State = ExecFilled
	o.state.FilledQuantity = qty
	o.state.AveragePrice = price
	o.state.Fee = fee
	o.state.UpdatedAt = p.now()

	p.logger.Info("paper order filled",
		utils.OrderID(o.req.ClientOrderID),
		utils.Side(string(o.req.Side)),
		utils.Quantity(qty),
		utils.Price(price),
	)
}

// PlaceOrder принимает ордер. Без известной цены рыночный ордер отклоняется как Transient.
func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ExchangeError{Exchange: paperName, Op: "place", Kind: Transient, Original: err}
	}
	if !req.Side.Valid() {
		return nil, NewPermanent(paperName, "place", "", fmt.Sprintf("invalid side %q", req.Side))
	}
	if !req.Quantity.IsPositive() {
		return nil, NewPermanent(paperName, "place", "", "quantity must be positive")
	}
	if req.Price != nil && !req.Price.IsPositive() {
		return nil, NewPermanent(paperName, "place", "", "price must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Price == nil && !p.lastPrice.IsPositive() {
		return nil, NewTransient(paperName, "place", fmt.Errorf("no market price for %s", req.Market))
	}

	id := uuid.NewString()
	o := &paperOrder{
		req: req,
		state: OrderState{
			ExchangeOrderID: id,
			State:           ExecOpen,
			UpdatedAt:       p.now(),
		},
	}
	p.orders[id] = o

	if p.lastPrice.IsPositive() && p.crossesLocked(req) {
		p.fillLocked(o)
	}
	return &OrderAck{ExchangeOrderID: id, AcceptedAt: p.now()}, nil
}

func (p *Paper) GetOrderStatus(ctx context.Context, market, exchangeOrderID string, side models.OrderSide) (*OrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[exchangeOrderID]
	if !ok {
		return nil, NewPermanent(paperName, "status", "", "order not found: "+exchangeOrderID)
	}
	state := o.state
	return &state, nil
}

func (p *Paper) CancelOrder(ctx context.Context, market, exchangeOrderID string, side models.OrderSide) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[exchangeOrderID]
	if !ok {
		return NewPermanent(paperName, "cancel", "", "order not found: "+exchangeOrderID)
	}
	if o.state.State == ExecOpen {
		o.state.State = ExecCancelled
		o.state.UpdatedAt = p.now()
	}
	return nil
}

// GetTicker берёт цену у источника данных, иначе отдаёт последнюю установленную
func (p *Paper) GetTicker(ctx context.Context, market string) (*Ticker, error) {
	if p.data != nil {
		t, err := p.data.GetTicker(ctx, market)
		if err != nil {
			return nil, err
		}
		p.SetPrice(t.LastPrice)
		return t, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.lastPrice.IsPositive() {
		return nil, NewTransient(paperName, "ticker", fmt.Errorf("no market price for %s", market))
	}
	return &Ticker{Market: market, LastPrice: p.lastPrice, Timestamp: p.now()}, nil
}

func (p *Paper) GetCandles(ctx context.Context, market string, interval time.Duration, limit int) ([]models.Candle, error) {
	if p.data == nil {
		return nil, NewPermanent(paperName, "candles", "", "no market data source configured")
	}
	return p.data.GetCandles(ctx, market, interval, limit)
}

func (p *Paper) GetBalance(ctx context.Context, market string) (*Balance, error) {
	base, quote, err := utils.SplitMarket(market)
	if err != nil {
		return nil, NewPermanent(paperName, "balance", "", err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return &Balance{
		QuoteCurrency:  quote,
		QuoteAvailable: p.quote,
		QuoteTotal:     p.quote,
		BaseCurrency:   base,
		BaseAvailable:  p.base,
		BaseTotal:      p.base,
	}, nil
}

func (p *Paper) Close() error {
	if p.data != nil {
		return p.data.Close()
	}
	return nil
}
