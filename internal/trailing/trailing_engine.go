// Package trailing реализует TrailingEngine - сопровождение защитного SL
// одной позиции на каждом тике. Никогда не выставляет
// рыночных заявок сам, кроме делегированного выхода по пиковому откату.
package trailing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/riskcore/internal/config"
	"github.com/shubhamtaywade82/riskcore/internal/exit"
	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/internal/position"
	"github.com/shubhamtaywade82/riskcore/internal/risk"
	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

// SLAmender подаёт команду брокеру на перенос защитной заявки (SL-leg).
// Отдельный от broker.Gateway интерфейс: не любой брокер поддерживает
// amend напрямую, а в paper-режиме перенос SL - чисто локальная операция.
type SLAmender interface {
	AmendStopLoss(ctx context.Context, tracker *models.Tracker, newSL decimal.Decimal) error
}

// TierStep - одна ступень тиеризованного трейлинга: начиная с FromPct
// прибыли, SL ставится на OffsetPct (в процентах от цены входа) ниже
// текущего LTP (bullish) / выше (bearish).
type TierStep struct {
	FromPct   float64
	OffsetPct float64
}

// Mode - способ расчёта новой цены SL.
type Mode int

const (
	// ModeDirect - фиксированный отступ ниже текущей цены, монотонно вверх.
	ModeDirect Mode = iota
	// ModeTiered - отступ как ступенчатая функция текущей прибыли.
	ModeTiered
)

// Engine - TrailingEngine.
type Engine struct {
	amender SLAmender
	tiers   []TierStep
	mode    Mode
	logger  *utils.Logger
}

// NewEngine собирает TrailingEngine. tiers используется только в ModeTiered.
func NewEngine(amender SLAmender, mode Mode, tiers []TierStep, logger *utils.Logger) *Engine {
	return &Engine{amender: amender, mode: mode, tiers: tiers, logger: logger}
}

// ProcessTick выполняет один цикл сопровождения позиции pos: проверка
// пикового отката (делегируется exitEngine), расчёт и перенос нового SL.
// peak_profit_pct здесь не меняется - его продвигает
// PositionData.RecalculatePnl.
func (e *Engine) ProcessTick(ctx context.Context, cfg config.RiskConfig, active *position.ActiveCache, exitEngine *exit.Engine, tracker *models.Tracker, pos *models.PositionData) {
	if pos == nil || tracker == nil {
		return
	}

	if breached, applicable, reason, _ := risk.EvaluatePeakDrawdown(cfg, pos); applicable && breached {
		result := exitEngine.ExecuteExit(ctx, tracker.ID, reason)
		if result.Success {
			return
		}
		if e.logger != nil {
			e.logger.Warn("peak drawdown exit failed, trailing continues", utils.String("reason", reason), utils.Err(result.Error))
		}
	}

	newSL, ok := e.computeStopLoss(cfg, pos)
	if !ok {
		return
	}
	if !pos.RaiseStopLoss(newSL) {
		return
	}

	if e.amender != nil {
		if err := e.amender.AmendStopLoss(ctx, tracker, newSL); err != nil {
			if e.logger != nil {
				e.logger.Warn("broker rejected SL amend", utils.Err(err))
			}
			return
		}
	}

	if active != nil {
		active.Update(tracker.ID, func(p *models.PositionData) {
			p.SLPrice = newSL
			p.TrailingActive = true
		})
	}
}

// computeStopLoss возвращает предложенную новую цену SL и true, если
// трейлинг применим к текущему состоянию позиции.
func (e *Engine) computeStopLoss(cfg config.RiskConfig, pos *models.PositionData) (decimal.Decimal, bool) {
	if cfg.ExitDropPct <= 0 && len(e.tiers) == 0 {
		return decimal.Zero, false
	}
	if pos.PnlPct <= 0 {
		return decimal.Zero, false
	}

	offsetPct := e.offsetForMode(cfg, pos.PnlPct)
	if offsetPct <= 0 {
		return decimal.Zero, false
	}

	offset := pos.EntryPrice.Mul(decimal.NewFromFloat(offsetPct / 100))
	switch pos.Direction {
	case models.DirectionBullish:
		return pos.CurrentLTP.Sub(offset), true
	case models.DirectionBearish:
		return pos.CurrentLTP.Add(offset), true
	default:
		return decimal.Zero, false
	}
}

func (e *Engine) offsetForMode(cfg config.RiskConfig, pnlPct float64) float64 {
	if e.mode == ModeTiered && len(e.tiers) > 0 {
		best := 0.0
		for _, tier := range e.tiers {
			if pnlPct >= tier.FromPct && tier.OffsetPct > best {
				best = tier.OffsetPct
			}
		}
		return best
	}
	return cfg.ExitDropPct
}
