// Package edge реализует EdgeFailureDetector - три независимых брейкера,
// ограничивающих новые входы при деградации торгового края. Состояние
// хранится во внешнем cache.WarmStore под edge_failure:*;
// недоступность стораджа трактуется fail-open, поскольку детектор
// ограничивает только входы, не выходы.
package edge

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/riskcore/internal/cache"
	"github.com/shubhamtaywade82/riskcore/internal/config"
	"github.com/shubhamtaywade82/riskcore/internal/models"
)

const rollingWindowKey = "edge_failure:rolling_pnl_pct"
const consecutiveSLKey = "edge_failure:consecutive_sl"
const pausedUntilKey = "edge_failure:paused_until_session"
const pauseReasonKey = "edge_failure:pause_reason"

// Pause описывает активную паузу входов, если таковая есть.
type Pause struct {
	Active bool
	Reason string
	Until  string
}

// Detector - EdgeFailureDetector поверх WarmStore.
type Detector struct {
	store cache.WarmStore
}

// NewDetector собирает Detector поверх store.
func NewDetector(store cache.WarmStore) *Detector {
	return &Detector{store: store}
}

// RecordTradeOutcome обновляет все три брейкера после завершения сделки:
// скользящее окно PnL%, счётчик подряд идущих SL (increments on SL exit,
// resets on any non-SL exit) и, при необходимости, объявляет сессионную
// паузу по третьему брейкеру.
func (d *Detector) RecordTradeOutcome(ctx context.Context, cfg config.EdgeFailureDetectorConfig, pnlPct float64, wasSL bool, currentRegime models.RegimeName, sessionBoundary string) {
	if !cfg.Enabled {
		return
	}

	d.pushRolling(ctx, pnlPct, cfg.RollingWindowSize)

	if wasSL {
		count := d.incrConsecutiveSL(ctx)
		if cfg.MaxConsecutiveSLs > 0 && count >= cfg.MaxConsecutiveSLs {
			d.pause(ctx, "max_consecutive_sl", sessionBoundary)
		}
		if cfg.SessionBasedPause && currentRegime == models.RegimeChopDecay && cfg.S3MaxConsecutiveSLs > 0 && count >= cfg.S3MaxConsecutiveSLs {
			d.pause(ctx, "session_chop_consecutive_sl", sessionBoundary)
		}
	} else {
		d.resetConsecutiveSL(ctx)
	}

	sum := d.rollingSum(ctx)
	if cfg.RollingWindowThresholdRupees.IsNegative() && decimal.NewFromFloat(sum).LessThanOrEqual(cfg.RollingWindowThresholdRupees) {
		d.pause(ctx, "rolling_pnl_window", sessionBoundary)
	}
}

// EntriesPaused возвращает паузу, если таковая активна, с наиболее строгой
// (любой активной) причиной. Ошибка чтения стораджа трактуется как
// "не на паузе" (fail-open)
func (d *Detector) EntriesPaused(ctx context.Context) Pause {
	until, err := d.store.Get(ctx, pausedUntilKey)
	if err != nil || until == "" {
		return Pause{Active: false}
	}
	reason, _ := d.store.Get(ctx, pauseReasonKey)
	return Pause{Active: true, Reason: reason, Until: until}
}

// ClearPause снимает активную паузу - вызывается на границе сессии,
// заданной sessionBoundary (см. config.RiskConfig.EdgeFailureDetector).
func (d *Detector) ClearPause(ctx context.Context) error {
	return d.store.Del(ctx, pausedUntilKey, pauseReasonKey)
}

func (d *Detector) pause(ctx context.Context, reason, until string) {
	_ = d.store.Set(ctx, pausedUntilKey, until, 0)
	_ = d.store.Set(ctx, pauseReasonKey, reason, 0)
}

func (d *Detector) pushRolling(ctx context.Context, pnlPct float64, maxWindow int) {
	if maxWindow <= 0 {
		maxWindow = 5
	}
	_ = d.store.LPush(ctx, rollingWindowKey, strconv.FormatFloat(pnlPct, 'f', -1, 64))
	_ = d.store.LTrim(ctx, rollingWindowKey, 0, int64(maxWindow-1))
}

func (d *Detector) rollingSum(ctx context.Context) float64 {
	values, err := d.store.LRange(ctx, rollingWindowKey, 0, -1)
	if err != nil {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		sum += f
	}
	return sum
}

func (d *Detector) incrConsecutiveSL(ctx context.Context) int {
	n, err := d.store.Incr(ctx, consecutiveSLKey)
	if err != nil {
		return 0
	}
	return int(n)
}

func (d *Detector) resetConsecutiveSL(ctx context.Context) {
	_ = d.store.Set(ctx, consecutiveSLKey, "0", 0)
}

// State выстраивает models.EdgeState из хранимых компонентов - для admin
// ручки и диагностики.
func (d *Detector) State(ctx context.Context) models.EdgeState {
	values, _ := d.store.LRange(ctx, rollingWindowKey, 0, -1)
	rolling := make([]float64, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		if f, err := strconv.ParseFloat(values[i], 64); err == nil {
			rolling = append(rolling, f)
		}
	}
	consecutive := 0
	if v, err := d.store.Get(ctx, consecutiveSLKey); err == nil {
		consecutive, _ = strconv.Atoi(v)
	}
	p := d.EntriesPaused(ctx)
	state := models.EdgeState{ConsecutiveSLCount: consecutive, RollingPnlPct: rolling}
	if p.Active {
		state.PausedUntilSession = p.Until
		state.PauseReason = p.Reason
	}
	return state
}
