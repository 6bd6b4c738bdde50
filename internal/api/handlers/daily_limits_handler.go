package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/shubhamtaywade82/riskcore/internal/config"
	"github.com/shubhamtaywade82/riskcore/internal/limits"
)

// DailyLimitsHandler отдаёт дневные счётчики и решение can_trade? -
// read-only проекция того, что видит EntryGuard перед допуском входа.
type DailyLimitsHandler struct {
	limits *limits.DailyLimits
	risk   *config.RiskConfig
}

// NewDailyLimitsHandler собирает DailyLimitsHandler.
func NewDailyLimitsHandler(dailyLimits *limits.DailyLimits, risk *config.RiskConfig) *DailyLimitsHandler {
	return &DailyLimitsHandler{limits: dailyLimits, risk: risk}
}

type dailyLimitsResponse struct {
	Global  interface{} `json:"global"`
	Index   interface{} `json:"index,omitempty"`
	CanTrade bool       `json:"can_trade"`
	Reason   string     `json:"reason,omitempty"`
}

// Get - GET /daily-limits?index=NIFTY.
func (h *DailyLimitsHandler) Get(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.limits == nil || h.risk == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "daily limits not initialized"})
		return
	}

	ctx := r.Context()
	index := r.URL.Query().Get("index")

	resp := dailyLimitsResponse{Global: h.limits.GlobalCounters(ctx)}
	scope := "global"
	if index != "" {
		resp.Index = h.limits.IndexCounters(ctx, index)
		scope = index
	}

	decision := h.limits.CanTrade(ctx, scope, *h.risk)
	resp.CanTrade = decision.Allowed
	resp.Reason = decision.Reason

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
