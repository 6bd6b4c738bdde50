package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/internal/position"
)

// FeedStatus - поверхность MarketFeedHub, нужная HealthHandler.
type FeedStatus interface {
	Connected() bool
	Health() models.FeedHealth
}

// HealthHandler отдаёт состояние фида и число отслеживаемых позиций -
// единственная ручка, которую должен опрашивать внешний liveness-чек.
type HealthHandler struct {
	feed   FeedStatus
	active *position.ActiveCache
}

// NewHealthHandler собирает HealthHandler.
func NewHealthHandler(feed FeedStatus, active *position.ActiveCache) *HealthHandler {
	return &HealthHandler{feed: feed, active: active}
}

type healthResponse struct {
	FeedConnected   bool                `json:"feed_connected"`
	FeedState       models.FeedConnState `json:"feed_state"`
	ActivePositions int                 `json:"active_positions"`
}

// Get - GET /healthz.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{}
	if h.feed != nil {
		resp.FeedConnected = h.feed.Connected()
		resp.FeedState = h.feed.Health().State
	}
	if h.active != nil {
		resp.ActivePositions = h.active.Len()
	}

	w.Header().Set("Content-Type", "application/json")
	status := http.StatusOK
	if h.feed != nil && !resp.FeedConnected {
		status = http.StatusServiceUnavailable
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
