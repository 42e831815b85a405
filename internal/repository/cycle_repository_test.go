package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"tradebot/internal/models"
)

// ============================================================
// CycleRepository Tests
// ============================================================

func TestCycleRepositorySaveCycle(t *testing.T) {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		finished time.Time
		wantEnd  interface{}
	}{
		{"завершённый цикл", started.Add(2 * time.Second), sql.NullTime{Time: started.Add(2 * time.Second), Valid: true}},
		{"без времени завершения", time.Time{}, sql.NullTime{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)

			rec := &models.CycleRecord{
				ID:          1709294400000,
				Market:      "BTC_KRW",
				Trigger:     models.TriggerInterval,
				Direction:   models.DirectionBuy,
				Strength:    decimal.RequireFromString("0.75"),
				Decision:    models.DecisionApprove,
				Rule:        "approved",
				OrderID:     "o-1",
				OrderStatus: models.OrderStatusFilled,
				Outcome:     models.CycleOutcomeExecuted,
				StartedAt:   started,
				FinishedAt:  tt.finished,
			}

			mock.ExpectExec(`INSERT INTO cycles .* ON CONFLICT \(id\) DO UPDATE`).
				WithArgs(int64(1709294400000), "BTC_KRW", "interval", string(models.DirectionBuy),
					decimal.RequireFromString("0.75"), string(models.DecisionApprove), "approved", "o-1",
					"filled", "executed", "", started, tt.wantEnd).
				WillReturnResult(sqlmock.NewResult(0, 1))

			if err := NewCycleRepository(db).SaveCycle(context.Background(), rec); err != nil {
				t.Fatalf("SaveCycle: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestCycleRepositoryGetRecent(t *testing.T) {
	db, mock := newMock(t)
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cols := []string{"id", "market", "trigger", "direction", "strength", "decision", "rule", "order_id",
		"order_status", "outcome", "error", "started_at", "finished_at"}
	mock.ExpectQuery(`SELECT .* FROM cycles ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(2), "BTC_KRW", "manual", "flat", "0", "", "", "", "", "flat", "", started, started.Add(time.Second)).
			AddRow(int64(1), "BTC_KRW", "interval", "buy", "0.5", "reject", "daily_loss", "", "", "rejected", "", started, nil))

	cycles, err := NewCycleRepository(db).GetRecent(context.Background(), 20)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("ожидали 2 цикла, получили %d", len(cycles))
	}
	if cycles[0].Trigger != models.TriggerManual || cycles[0].Outcome != models.CycleOutcomeFlat {
		t.Errorf("первый цикл: получили %+v", cycles[0])
	}
	if cycles[1].Rule != "daily_loss" || !cycles[1].FinishedAt.IsZero() {
		t.Errorf("второй цикл: получили %+v", cycles[1])
	}
	if !cycles[1].Strength.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("strength: получили %s", cycles[1].Strength)
	}
}
