package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/internal/position"
)

// PositionsHandler отдаёт текущий срез ActiveCache - read-only, без доступа
// к персистентному Tracker.
type PositionsHandler struct {
	active *position.ActiveCache
}

// NewPositionsHandler собирает PositionsHandler.
func NewPositionsHandler(active *position.ActiveCache) *PositionsHandler {
	return &PositionsHandler{active: active}
}

// List - GET /positions.
func (h *PositionsHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.active == nil {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode([]*models.PositionData{})
		return
	}

	positions := h.active.AllPositions()
	if positions == nil {
		positions = []*models.PositionData{}
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(positions)
}
