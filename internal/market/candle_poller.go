package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradebot/internal/models"
	"tradebot/pkg/retry"
	"tradebot/pkg/utils"
)

// CandleSource - REST источник закрытых свечей (exchange.Exchange)
type CandleSource interface {
	GetCandles(ctx context.Context, market string, interval time.Duration, limit int) ([]models.Candle, error)
}

// CandleSink принимает закрытые свечи по порядку
type CandleSink interface {
	OnCandle(c models.Candle)
}

// CandleStore сохраняет свечи (upsert по market+close_time)
type CandleStore interface {
	UpsertCandles(ctx context.Context, candles []models.Candle) error
}

// PollerConfig настройки опроса свечей
type PollerConfig struct {
	Market    string
	Interval  time.Duration // интервал свечи
	Count     int           // свечей при начальной загрузке
	PollEvery time.Duration // 0 = Interval/6 в пределах [5s, 1m]
	Retry     retry.Config
}

// CandlePoller опрашивает биржу и передаёт новые закрытые свечи движку
//
// Свеча считается новой, если её CloseTime позже последней переданной.
// Повторы и свечи вне порядка не передаются.
type CandlePoller struct {
	cfg    PollerConfig
	source CandleSource
	sink   CandleSink
	store  CandleStore // может быть nil

	mu        sync.Mutex
	lastClose time.Time

	logger *utils.Logger
}

// NewCandlePoller создаёт поллер. store может быть nil.
func NewCandlePoller(cfg PollerConfig, source CandleSource, sink CandleSink, store CandleStore) *CandlePoller {
	if cfg.Count <= 0 {
		cfg.Count = 120
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = cfg.Interval / 6
		if cfg.PollEvery < 5*time.Second {
			cfg.PollEvery = 5 * time.Second
		}
		if cfg.PollEvery > time.Minute {
			cfg.PollEvery = time.Minute
		}
	}
	if cfg.Retry.RetryIf == nil {
		cfg.Retry.RetryIf = retry.IsRetryable
	}

	return &CandlePoller{
		cfg:    cfg,
		source: source,
		sink:   sink,
		store:  store,
		logger: utils.L().WithComponent("candle_poller").WithMarket(cfg.Market),
	}
}

// LastClose время закрытия последней переданной свечи
func (p *CandlePoller) LastClose() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastClose
}

// Backfill загружает историю для заполнения окна стратегии
func (p *CandlePoller) Backfill(ctx context.Context) (int, error) {
	n, err := p.fetch(ctx, p.cfg.Count)
	if err != nil {
		return 0, fmt.Errorf("backfill %s: %w", p.cfg.Market, err)
	}
	p.logger.Info("candles backfilled",
		utils.Int("delivered", n),
		utils.Time("last_close", p.LastClose()),
	)
	return n, nil
}

// Poll забирает последние свечи и передаёт новые
func (p *CandlePoller) Poll(ctx context.Context) (int, error) {
	return p.fetch(ctx, 5)
}

// Run выполняет Backfill и опрашивает до отмены ctx
func (p *CandlePoller) Run(ctx context.Context) error {
	if _, err := p.Backfill(ctx); err != nil {
		// без истории окно заполнится из живых свечей
		p.logger.Error("backfill failed", utils.Err(err))
	}

	ticker := time.NewTicker(p.cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				CandlePollErrors.Inc()
				p.logger.Warn("candle poll failed", utils.Err(err))
			}
		}
	}
}

func (p *CandlePoller) fetch(ctx context.Context, limit int) (int, error) {
	candles, err := retry.DoWithResult(ctx, func() ([]models.Candle, error) {
		return p.source.GetCandles(ctx, p.cfg.Market, p.cfg.Interval, limit)
	}, p.cfg.Retry)
	if err != nil {
		return 0, err
	}

	fresh := p.filterNew(candles)
	if len(fresh) == 0 {
		return 0, nil
	}

	if p.store != nil {
		if err := p.store.UpsertCandles(ctx, fresh); err != nil {
			p.logger.Warn("failed to persist candles", utils.Int("count", len(fresh)), utils.Err(err))
		}
	}
	for _, c := range fresh {
		p.sink.OnCandle(c)
		CandlesIngested.Inc()
	}
	return len(fresh), nil
}

// filterNew оставляет валидные свечи с CloseTime позже последней переданной
func (p *CandlePoller) filterNew(candles []models.Candle) []models.Candle {
	p.mu.Lock()
	defer p.mu.Unlock()

	var fresh []models.Candle
	for _, c := range candles {
		if c.Market == "" {
			c.Market = p.cfg.Market
		}
		if err := c.Validate(); err != nil {
			p.logger.Warn("skip invalid candle", utils.Time("close_time", c.CloseTime), utils.Err(err))
			continue
		}
		if !c.CloseTime.After(p.lastClose) {
			continue
		}
		fresh = append(fresh, c)
		p.lastClose = c.CloseTime
	}
	return fresh
}
