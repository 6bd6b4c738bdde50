// Package metrics собирает Prometheus-метрики риск-движка: латентность
// цикла, счётчики входов/выходов, состояние фида и брейкеров. Имена и
// стиль регистрации следуют практике арбитражного движка - promauto,
// Namespace/Subsystem на каждой метрике, вспомогательные Record*-функции
// рядом с определением.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Латентность цикла ============

// LoopCycleLatency - время одного прохода цикла RiskManager'а (idle/active).
var LoopCycleLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "riskcore",
		Subsystem: "loop",
		Name:      "cycle_latency_ms",
		Help:      "Latency of one risk manager loop cycle in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	},
	[]string{"cadence"}, // idle, active
)

// RuleEvalLatency - время оценки RuleEngine на одну позицию.
var RuleEvalLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "riskcore",
		Subsystem: "loop",
		Name:      "rule_eval_latency_ms",
		Help:      "Time to evaluate the rule engine for one position in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25},
	},
)

// ============ Счётчики событий ============

// PositionsProcessed - число позиций, обработанных за цикл.
var PositionsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskcore",
		Subsystem: "loop",
		Name:      "positions_processed_total",
		Help:      "Total number of positions processed by the risk loop",
	},
	[]string{"path"}, // active_cache, fallback
)

// ExitsTotal - выходы по причине.
var ExitsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskcore",
		Subsystem: "exit",
		Name:      "exits_total",
		Help:      "Total number of position exits by rule name",
	},
	[]string{"rule", "result"}, // result: success, failed
)

// EntriesTotal - попытки входа по результату.
var EntriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskcore",
		Subsystem: "entry",
		Name:      "entries_total",
		Help:      "Total number of entry attempts by result",
	},
	[]string{"result"}, // accepted, rejected
)

// DailyLimitBlocks - отказы can_trade? по причине.
var DailyLimitBlocks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskcore",
		Subsystem: "limits",
		Name:      "daily_limit_blocks_total",
		Help:      "Total number of entries blocked by daily limits, by reason",
	},
	[]string{"reason"},
)

// EdgeFailurePauses - число объявленных пауз EdgeFailureDetector'ом.
var EdgeFailurePauses = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskcore",
		Subsystem: "edge",
		Name:      "pauses_total",
		Help:      "Total number of entry pauses declared by the edge failure detector",
	},
	[]string{"reason"},
)

// ============ Метрики состояния ============

// ActivePositions - текущее число позиций в ActiveCache.
var ActivePositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskcore",
		Subsystem: "loop",
		Name:      "active_positions",
		Help:      "Current number of positions tracked in the active cache",
	},
)

// FeedConnected - состояние подключения MarketFeedHub (1=connected).
var FeedConnected = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskcore",
		Subsystem: "feed",
		Name:      "connected",
		Help:      "Market feed connection status (1=connected, 0=disconnected)",
	},
)

// PaperQuoteCircuitOpen - состояние брейкера котировок paper-режима.
var PaperQuoteCircuitOpen = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskcore",
		Subsystem: "paper",
		Name:      "quote_circuit_open",
		Help:      "Paper quote refresh circuit breaker state (1=open, 0=closed)",
	},
)

// ReconciliationFixes - число исправлений, внесённых сверкой, по виду.
var ReconciliationFixes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskcore",
		Subsystem: "reconcile",
		Name:      "fixes_total",
		Help:      "Total number of fixes applied by the reconciliation sweep, by kind",
	},
	[]string{"kind"}, // subscription, active_cache, pnl_divergence
)

// ReconciliationDivergenceRupees - наблюдаемое расхождение PnL при сверке.
var ReconciliationDivergenceRupees = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "riskcore",
		Subsystem: "reconcile",
		Name:      "pnl_divergence_rupees",
		Help:      "Observed PnL divergence between warm cache and tracker row in rupees",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100},
	},
)

// ============ Вспомогательные функции записи ============

// RecordLoopCycle записывает латентность одного прохода цикла.
func RecordLoopCycle(cadence string, latencyMs float64) {
	LoopCycleLatency.WithLabelValues(cadence).Observe(latencyMs)
}

// RecordExit записывает исход попытки выхода.
func RecordExit(rule string, success bool) {
	result := "success"
	if !success {
		result = "failed"
	}
	ExitsTotal.WithLabelValues(rule, result).Inc()
}

// RecordEntry записывает исход попытки входа.
func RecordEntry(accepted bool) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	EntriesTotal.WithLabelValues(result).Inc()
}

// RecordDailyLimitBlock записывает отказ can_trade? по причине.
func RecordDailyLimitBlock(reason string) {
	if reason == "" {
		return
	}
	DailyLimitBlocks.WithLabelValues(reason).Inc()
}

// RecordEdgeFailurePause записывает объявленную паузу EdgeFailureDetector'ом.
func RecordEdgeFailurePause(reason string) {
	if reason == "" {
		return
	}
	EdgeFailurePauses.WithLabelValues(reason).Inc()
}

// RecordReconciliationFix записывает одно исправление сверки.
func RecordReconciliationFix(kind string) {
	ReconciliationFixes.WithLabelValues(kind).Inc()
}
