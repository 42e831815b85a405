package handlers

import (
	"context"
	"net/http"
	"regexp"

	"tradebot/internal/models"
)

// DailyReporter - дневная статистика (ReportService)
type DailyReporter interface {
	Daily(ctx context.Context, date string) (*models.DailyPerformance, error)
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// PerformanceHandler - GET /api/v1/performance/daily?date=YYYY-MM-DD
//
// Без date - текущий торговый день в зоне планировщика.
type PerformanceHandler struct {
	reporter DailyReporter
}

// NewPerformanceHandler создает PerformanceHandler
func NewPerformanceHandler(reporter DailyReporter) *PerformanceHandler {
	return &PerformanceHandler{reporter: reporter}
}

// GetDaily возвращает статистику за день
//
// Response 200:
//
//	{"date": "2024-03-02", "market": "BTC_KRW", "trades": 4, "wins": 3, "losses": 1,
//	 "win_rate": "0.75", "realized_pnl": "15300", "best_trade": "9000", "worst_trade": "-1200",
//	 "orders": 6, "cycles": 96, "generated_at": "..."}
func (h *PerformanceHandler) GetDaily(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date != "" && !dateRe.MatchString(date) {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD", nil)
		return
	}

	perf, err := h.reporter.Daily(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "report_failed", "failed to build daily performance", err)
		return
	}
	writeJSON(w, http.StatusOK, perf)
}
