package market

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"tradebot/internal/exchange"
	"tradebot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TickSink принимает последнюю цену (latest-value-wins)
type TickSink interface {
	OnTick(price decimal.Decimal, at time.Time)
}

// tickerSubscription подписка Bithumb public WS
type tickerSubscription struct {
	Type      string   `json:"type"`
	Symbols   []string `json:"symbols"`
	TickTypes []string `json:"tickTypes"`
}

// tickerMessage сообщение ticker; служебные ответы приходят с полем status
type tickerMessage struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	ResMsg  string `json:"resmsg"`
	Content struct {
		Symbol     string `json:"symbol"`
		TickType   string `json:"tickType"`
		Date       string `json:"date"`
		Time       string `json:"time"`
		ClosePrice string `json:"closePrice"`
	} `json:"content"`
}

// TickerStream держит WS подписку на тикер одного рынка и передаёт цены в TickSink
type TickerStream struct {
	market string
	ws     *exchange.WSReconnectManager
	sink   TickSink

	received atomic.Int64
	lastAt   atomic.Int64 // unix nano последнего тика

	now    func() time.Time
	logger *utils.Logger
}

// NewTickerStream создаёт поток тикера
func NewTickerStream(market, wsURL string, cfg exchange.WSReconnectConfig, sink TickSink) *TickerStream {
	s := &TickerStream{
		market: market,
		ws:     exchange.NewWSReconnectManager("ticker:"+market, wsURL, cfg),
		sink:   sink,
		now:    time.Now,
		logger: utils.L().WithComponent("ticker_stream").WithMarket(market),
	}
	s.ws.SetOnMessage(s.handleMessage)
	s.ws.SetOnConnect(func() {
		WSConnected.Set(1)
		s.logger.Info("ticker stream connected")
	})
	s.ws.SetOnDisconnect(func(err error) {
		WSConnected.Set(0)
		WSReconnects.Inc()
		s.logger.Warn("ticker stream disconnected", utils.Err(err))
	})
	return s
}

// Start подписывается и запускает чтение. Ошибка первого подключения возвращается.
func (s *TickerStream) Start(ctx context.Context) error {
	sub := tickerSubscription{
		Type:      "ticker",
		Symbols:   []string{s.market},
		TickTypes: []string{"30M"},
	}
	if err := s.ws.AddSubscription(sub); err != nil {
		return err
	}
	if err := s.ws.Start(ctx); err != nil {
		return fmt.Errorf("ticker stream %s: %w", s.market, err)
	}
	return nil
}

// Close останавливает поток
func (s *TickerStream) Close() error {
	WSConnected.Set(0)
	return s.ws.Close()
}

// Done закрывается после окончательной остановки
func (s *TickerStream) Done() <-chan struct{} {
	return s.ws.Done()
}

// Connected соединение установлено
func (s *TickerStream) Connected() bool {
	return s.ws.IsConnected()
}

// Received число принятых тиков
func (s *TickerStream) Received() int64 {
	return s.received.Load()
}

// LastTickAt время последнего тика (zero если тиков не было)
func (s *TickerStream) LastTickAt() time.Time {
	ns := s.lastAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *TickerStream) handleMessage(data []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("skip malformed ws message", utils.Err(err))
		return
	}

	if msg.Status != "" {
		if msg.Status != "0000" {
			s.logger.Warn("ws status message",
				utils.String("status", msg.Status),
				utils.String("message", msg.ResMsg),
			)
		}
		return
	}
	if msg.Type != "ticker" || msg.Content.Symbol != s.market {
		return
	}

	price, err := decimal.NewFromString(msg.Content.ClosePrice)
	if err != nil || !price.IsPositive() {
		s.logger.Warn("invalid ticker price", utils.String("close_price", msg.Content.ClosePrice))
		return
	}

	at := s.now()
	s.received.Add(1)
	s.lastAt.Store(at.UnixNano())
	TicksReceived.Inc()
	s.sink.OnTick(price, at)
}
