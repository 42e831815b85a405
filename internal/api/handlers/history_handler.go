package handlers

import (
	"context"
	"net/http"

	"tradebot/internal/models"
)

// CycleLister - последние циклы (CycleRepository)
type CycleLister interface {
	GetRecent(ctx context.Context, limit int) ([]*models.CycleRecord, error)
}

// OrderLister - последние ордера (OrderRepository)
type OrderLister interface {
	GetRecent(ctx context.Context, limit int) ([]*models.Order, error)
}

// AuditLister - последние записи аудита (AuditRepository)
type AuditLister interface {
	GetRecent(ctx context.Context, limit int) ([]*models.AuditEvent, error)
}

// HistoryHandler отдаёт журналы из БД.
//
// Endpoints:
// - GET /api/v1/cycles?limit=50
// - GET /api/v1/orders?limit=50
// - GET /api/v1/audit?limit=100
//
// Лимит по умолчанию и потолок задаёт репозиторий.
type HistoryHandler struct {
	cycles CycleLister
	orders OrderLister
	audit  AuditLister
}

// NewHistoryHandler создает HistoryHandler
func NewHistoryHandler(cycles CycleLister, orders OrderLister, audit AuditLister) *HistoryHandler {
	return &HistoryHandler{cycles: cycles, orders: orders, audit: audit}
}

// GetCycles - GET /api/v1/cycles
func (h *HistoryHandler) GetCycles(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer", nil)
		return
	}
	items, err := h.cycles.GetRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to get cycles", err)
		return
	}
	if items == nil {
		items = []*models.CycleRecord{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: items, Total: len(items)})
}

// GetOrders - GET /api/v1/orders
func (h *HistoryHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer", nil)
		return
	}
	items, err := h.orders.GetRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to get orders", err)
		return
	}
	if items == nil {
		items = []*models.Order{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: items, Total: len(items)})
}

// GetAudit - GET /api/v1/audit
func (h *HistoryHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer", nil)
		return
	}
	items, err := h.audit.GetRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to get audit events", err)
		return
	}
	if items == nil {
		items = []*models.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: items, Total: len(items)})
}
