package repository

import (
	"context"
	"database/sql"
	"fmt"

	"tradebot/internal/models"
)

// CandleRepository - работа с таблицей candles
type CandleRepository struct {
	db *sql.DB
}

// NewCandleRepository создает новый экземпляр репозитория
func NewCandleRepository(db *sql.DB) *CandleRepository {
	return &CandleRepository{db: db}
}

// UpsertCandles сохраняет свечи одной транзакцией (upsert по market+close_time)
func (r *CandleRepository) UpsertCandles(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (market, open_time, close_time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (market, close_time) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Market, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("upsert candle %s %s: %w", c.Market, c.CloseTime, err)
		}
	}

	return tx.Commit()
}

// GetRecent возвращает последние N свечей рынка от старой к новой
func (r *CandleRepository) GetRecent(ctx context.Context, market string, limit int) ([]models.Candle, error) {
	query := `
		SELECT market, open_time, close_time, open, high, low, close, volume
		FROM (
			SELECT * FROM candles WHERE market = $1 ORDER BY close_time DESC LIMIT $2
		) recent
		ORDER BY close_time`

	rows, err := r.db.QueryContext(ctx, query, market, normalizeLimit(limit, 120, 1000))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Market, &c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return candles, nil
}
