package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/models"
	"tradebot/pkg/utils"
)

// StatsRepository - закрывающие сделки (таблица trades) и дневная статистика
type StatsRepository struct {
	db *sql.DB
}

// NewStatsRepository создает новый экземпляр репозитория
func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// SaveTrades записывает закрывающие сделки одной транзакцией
func (r *StatsRepository) SaveTrades(ctx context.Context, market string, trades []models.TradeResult) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, t := range trades {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO trades (market, order_id, quantity, pnl, closed_at) VALUES ($1, $2, $3, $4, $5)`,
			market, t.OrderID, t.Quantity, t.PnL, t.ClosedAt,
		)
		if err != nil {
			return fmt.Errorf("insert trade %s: %w", t.OrderID, err)
		}
	}

	return tx.Commit()
}

// DailyPerformance агрегирует сделки, ордера и циклы за торговый день
func (r *StatsRepository) DailyPerformance(ctx context.Context, market string, day utils.TimeRange, date string) (*models.DailyPerformance, error) {
	perf := &models.DailyPerformance{
		Date:        date,
		Market:      market,
		RealizedPnL: decimal.Zero,
		BestTrade:   decimal.Zero,
		WorstTrade:  decimal.Zero,
		GeneratedAt: time.Now(),
	}

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE pnl > 0),
			COUNT(*) FILTER (WHERE pnl < 0),
			COALESCE(SUM(pnl), 0),
			COALESCE(MAX(pnl), 0),
			COALESCE(MIN(pnl), 0)
		FROM trades
		WHERE market = $1 AND closed_at >= $2 AND closed_at <= $3`

	err := r.db.QueryRowContext(ctx, query, market, day.Start, day.End).Scan(
		&perf.Trades,
		&perf.Wins,
		&perf.Losses,
		&perf.RealizedPnL,
		&perf.BestTrade,
		&perf.WorstTrade,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate trades: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE market = $1 AND created_at >= $2 AND created_at <= $3`,
		market, day.Start, day.End,
	).Scan(&perf.Orders)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cycles WHERE market = $1 AND started_at >= $2 AND started_at <= $3`,
		market, day.Start, day.End,
	).Scan(&perf.Cycles)
	if err != nil {
		return nil, fmt.Errorf("count cycles: %w", err)
	}

	perf.ComputeWinRate()
	return perf, nil
}
