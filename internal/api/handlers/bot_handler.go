package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tradebot/internal/models"
)

// BotController - управление торговым оркестратором
type BotController interface {
	Status() *models.BotStatus
	Pause(reason string)
	Resume(ctx context.Context) error
	TriggerNow() error
}

// BotHandler обрабатывает запросы управления ботом.
//
// Endpoints:
// - GET /api/v1/health - liveness, без авторизации
// - GET /api/v1/status - состояние, портфель, риск-день, последний цикл
// - POST /api/v1/pause - ручная остановка (Halted)
// - POST /api/v1/resume - выход из Halted со сверкой открытого ордера
// - POST /api/v1/cycles/trigger - внеочередной цикл
type BotHandler struct {
	bot     BotController
	started time.Time
}

// NewBotHandler создает BotHandler
func NewBotHandler(bot BotController) *BotHandler {
	return &BotHandler{bot: bot, started: time.Now()}
}

// HealthResponse - ответ /health
type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Halted bool   `json:"halted"`
	Uptime string `json:"uptime"`
}

// Health - процесс жив. Halted не считается нездоровым: бот ждёт оператора.
//
// GET /api/v1/health
func (h *BotHandler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.bot.Status()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		State:  st.State,
		Halted: st.IsHalted(),
		Uptime: time.Since(h.started).Truncate(time.Second).String(),
	})
}

// GetStatus возвращает полный снимок состояния
//
// GET /api/v1/status
func (h *BotHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bot.Status())
}

// PauseRequest - тело POST /pause (необязательно)
type PauseRequest struct {
	Reason string `json:"reason"`
}

// Pause переводит бота в Halted
//
// POST /api/v1/pause
//
// Request: {"reason": "maintenance"}
// Response 200: текущий статус
func (h *BotHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", err)
			return
		}
	}

	h.bot.Pause(req.Reason)
	writeJSON(w, http.StatusOK, h.bot.Status())
}

// Resume выводит бота из Halted
//
// POST /api/v1/resume
//
// Response 200: статус после возобновления
// Response 409: бот не в Halted
// Response 502: сверка открытого ордера не удалась, бот остаётся в Halted
func (h *BotHandler) Resume(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	if err := h.bot.Resume(ctx); err != nil {
		if errors.Is(err, models.ErrBotNotHalted) {
			writeError(w, http.StatusConflict, "not_halted", "bot is not halted", nil)
			return
		}
		writeError(w, http.StatusBadGateway, "reconcile_failed", "resume failed", err)
		return
	}
	writeJSON(w, http.StatusOK, h.bot.Status())
}

// TriggerCycle ставит внеочередной цикл
//
// POST /api/v1/cycles/trigger
//
// Response 202: цикл поставлен
// Response 409: бот остановлен или цикл уже идёт
// Response 503: оркестратор не запущен
func (h *BotHandler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	err := h.bot.TriggerNow()
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, SuccessResponse{Message: "cycle triggered"})
	case errors.Is(err, models.ErrBotHalted):
		writeError(w, http.StatusConflict, "halted", "bot is halted", err)
	case errors.Is(err, models.ErrCycleInProgress):
		writeError(w, http.StatusConflict, "cycle_in_progress", "cycle already in progress", err)
	case errors.Is(err, models.ErrEngineNotRunning):
		writeError(w, http.StatusServiceUnavailable, "not_running", "engine is not running", err)
	default:
		writeError(w, http.StatusInternalServerError, "trigger_failed", "failed to trigger cycle", err)
	}
}
