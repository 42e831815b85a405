package repository

import (
	"context"
	"database/sql"

	"tradebot/internal/models"
)

// CycleRepository - работа с таблицей cycles
type CycleRepository struct {
	db *sql.DB
}

// NewCycleRepository создает новый экземпляр репозитория
func NewCycleRepository(db *sql.DB) *CycleRepository {
	return &CycleRepository{db: db}
}

// SaveCycle сохраняет итог цикла (upsert по id)
func (r *CycleRepository) SaveCycle(ctx context.Context, c *models.CycleRecord) error {
	query := `
		INSERT INTO cycles (id, market, trigger, direction, strength, decision, rule, order_id, order_status, outcome, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			direction = EXCLUDED.direction,
			strength = EXCLUDED.strength,
			decision = EXCLUDED.decision,
			rule = EXCLUDED.rule,
			order_id = EXCLUDED.order_id,
			order_status = EXCLUDED.order_status,
			outcome = EXCLUDED.outcome,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at`

	var finished sql.NullTime
	if !c.FinishedAt.IsZero() {
		finished = sql.NullTime{Time: c.FinishedAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		c.ID,
		c.Market,
		string(c.Trigger),
		string(c.Direction),
		c.Strength,
		string(c.Decision),
		c.Rule,
		c.OrderID,
		string(c.OrderStatus),
		string(c.Outcome),
		c.Error,
		c.StartedAt,
		finished,
	)
	return err
}

// GetRecent возвращает последние N циклов
func (r *CycleRepository) GetRecent(ctx context.Context, limit int) ([]*models.CycleRecord, error) {
	query := `
		SELECT id, market, trigger, direction, strength, decision, rule, order_id, order_status, outcome, error, started_at, finished_at
		FROM cycles
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, normalizeLimit(limit, 50, 500))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []*models.CycleRecord
	for rows.Next() {
		c := &models.CycleRecord{}
		var (
			trigger, direction, decision, orderStatus, outcome string
			finished                                           sql.NullTime
		)
		err := rows.Scan(
			&c.ID,
			&c.Market,
			&trigger,
			&direction,
			&c.Strength,
			&decision,
			&c.Rule,
			&c.OrderID,
			&orderStatus,
			&outcome,
			&c.Error,
			&c.StartedAt,
			&finished,
		)
		if err != nil {
			return nil, err
		}
		c.Trigger = models.TriggerSource(trigger)
		c.Direction = models.Direction(direction)
		c.Decision = models.DecisionKind(decision)
		c.OrderStatus = models.OrderStatus(orderStatus)
		c.Outcome = models.CycleOutcome(outcome)
		if finished.Valid {
			c.FinishedAt = finished.Time
		}
		cycles = append(cycles, c)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return cycles, nil
}
