package handlers

import (
	"context"
	"errors"
	"net/http"

	"tradebot/internal/models"
)

// ConfigReloader - перечитывание конфигурации (config.Watcher)
type ConfigReloader interface {
	Reload(ctx context.Context) error
}

// ConfigHandler - POST /api/v1/config/reload
//
// Новая конфигурация применяется оркестратором между циклами.
// Невалидная конфигурация отклоняется, действующая остаётся.
type ConfigHandler struct {
	reloader ConfigReloader
}

// NewConfigHandler создает ConfigHandler
func NewConfigHandler(reloader ConfigReloader) *ConfigHandler {
	return &ConfigHandler{reloader: reloader}
}

// Reload перечитывает конфигурацию
//
// Response 200: {"message": "configuration reloaded"}
// Response 422: конфигурация невалидна, действующая сохранена
func (h *ConfigHandler) Reload(w http.ResponseWriter, r *http.Request) {
	err := h.reloader.Reload(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, SuccessResponse{Message: "configuration reloaded"})
		return
	}

	var cfgErr *models.ConfigurationError
	if errors.As(err, &cfgErr) {
		writeError(w, http.StatusUnprocessableEntity, "invalid_config", "configuration rejected, previous config kept", err)
		return
	}
	writeError(w, http.StatusInternalServerError, "reload_failed", "failed to reload configuration", err)
}
