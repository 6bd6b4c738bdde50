package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/shubhamtaywade82/riskcore/internal/reconcile"
)

// ReconciliationHandler отдаёт историю последних проходов сверки - удобно
// для диагностики без доступа к логам.
type ReconciliationHandler struct {
	sweeper *reconcile.Sweeper
}

// NewReconciliationHandler собирает ReconciliationHandler.
func NewReconciliationHandler(sweeper *reconcile.Sweeper) *ReconciliationHandler {
	return &ReconciliationHandler{sweeper: sweeper}
}

// History - GET /reconciliation.
func (h *ReconciliationHandler) History(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.sweeper == nil {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode([]*reconcile.Report{})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(h.sweeper.History())
}
