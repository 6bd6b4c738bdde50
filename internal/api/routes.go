// Package api собирает read-only административную HTTP-поверхность:
// /healthz, /metrics (Prometheus), /positions, /daily-limits и
// /reconciliation. Ни один
// маршрут не мутирует торговое состояние - это поверхность наблюдения, а
// не управления (см. SPEC_FULL.md, раздел про admin surface).
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shubhamtaywade82/riskcore/internal/api/handlers"
	"github.com/shubhamtaywade82/riskcore/internal/config"
	"github.com/shubhamtaywade82/riskcore/internal/limits"
	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/internal/position"
	"github.com/shubhamtaywade82/riskcore/internal/reconcile"
)

// FeedStatus - минимальная поверхность MarketFeedHub, нужная /healthz.
type FeedStatus interface {
	Connected() bool
	Health() models.FeedHealth
}

// Dependencies - всё, от чего зависят admin-ручки.
type Dependencies struct {
	Feed         FeedStatus
	Active       *position.ActiveCache
	DailyLimits  *limits.DailyLimits
	Sweeper      *reconcile.Sweeper
	Config       *config.Config
}

// SetupRoutes собирает маршрутизатор admin-поверхности.
//
// /healthz            - состояние фида и число отслеживаемых позиций
// /metrics            - экспорт метрик Prometheus
// /positions          - снимок ActiveCache в JSON
// /daily-limits       - глобальные и по-индексные дневные счётчики плюс can_trade?
// /reconciliation      - история последних проходов сверки
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	healthHandler := handlers.NewHealthHandler(deps.Feed, deps.Active)
	router.HandleFunc("/healthz", healthHandler.Get).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	positionsHandler := handlers.NewPositionsHandler(deps.Active)
	router.HandleFunc("/positions", positionsHandler.List).Methods(http.MethodGet)

	if deps.DailyLimits != nil && deps.Config != nil {
		limitsHandler := handlers.NewDailyLimitsHandler(deps.DailyLimits, &deps.Config.Risk)
		router.HandleFunc("/daily-limits", limitsHandler.Get).Methods(http.MethodGet)
	}

	if deps.Sweeper != nil {
		reconcileHandler := handlers.NewReconciliationHandler(deps.Sweeper)
		router.HandleFunc("/reconciliation", reconcileHandler.History).Methods(http.MethodGet)
	}

	return router
}
