package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionDirection - направление, в котором позиция зарабатывает: long-CE
// зарабатывает на росте базового актива (bullish), long-PE - на падении
// (bearish). Нужен трейлинг-движку и правилу UnderlyingExit, чтобы
// сопоставлять движение подложки с PnL ноги.
type PositionDirection string

const (
	DirectionBullish PositionDirection = "bullish"
	DirectionBearish PositionDirection = "bearish"
)

// DirectionForSide возвращает направление, соответствующее стороне трекера.
func DirectionForSide(side Side) PositionDirection {
	if side == SideLongPE {
		return DirectionBearish
	}
	return DirectionBullish
}

// PositionData - живой, производный от Tracker снимок позиции, который
// держит ActiveCache. Пересчитывается на каждом тике; TrackerID - это
// единственная связь обратно к персистентному Tracker, указателей не
// храним.
type PositionData struct {
	TrackerID      int64
	SecurityID     string
	Segment        Segment
	UnderlyingID   string
	Direction      PositionDirection
	EntryPrice     decimal.Decimal
	Quantity       int
	CurrentLTP     decimal.Decimal
	PnlRupees      decimal.Decimal
	PnlPct         float64
	PeakProfitPct  float64 // максимум pnl_pct за время жизни позиции
	HighWaterMark  float64 // максимум pnl_pct, достигнутый после активации трейлинга
	SLPrice        decimal.Decimal
	SLOffsetPct    float64
	EntryTime      time.Time
	LastUpdatedAt  time.Time
	TrailingActive bool
}

// RecalculatePnl пересчитывает pnl/pnl_pct по текущему LTP и продвигает
// монотонные максимумы peak_profit_pct/high_water_mark. Вызывается на
// каждом тике; никогда не уменьшает peak/HWM - только ExitEngine или явный
// сброс трейлинга может их понизить.
func (p *PositionData) RecalculatePnl(ltp decimal.Decimal, now time.Time) {
	p.CurrentLTP = ltp
	p.PnlRupees = ltp.Sub(p.EntryPrice).Mul(decimal.NewFromInt(int64(p.Quantity)))

	if p.EntryPrice.IsPositive() {
		ratio, _ := ltp.Div(p.EntryPrice).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).Float64()
		p.PnlPct = ratio
	} else {
		p.PnlPct = 0
	}

	if p.PnlPct > p.PeakProfitPct {
		p.PeakProfitPct = p.PnlPct
	}
	if p.TrailingActive && p.PnlPct > p.HighWaterMark {
		p.HighWaterMark = p.PnlPct
	}
	p.LastUpdatedAt = now
}

// DrawdownFromPeakPct возвращает откат в процентных пунктах от
// наилучшего зафиксированного pnl_pct - вход для правила PeakDrawdown.
func (p *PositionData) DrawdownFromPeakPct() float64 {
	return p.PeakProfitPct - p.PnlPct
}

// ActivateTrailing включает трейлинг-режим и заводит high_water_mark с
// текущего pnl_pct, если он ещё не был инициализирован выше.
func (p *PositionData) ActivateTrailing() {
	if p.TrailingActive {
		return
	}
	p.TrailingActive = true
	if p.PnlPct > p.HighWaterMark {
		p.HighWaterMark = p.PnlPct
	}
}

// RaiseStopLoss поднимает sl_price до newSL, если это движение в сторону
// профита для направления позиции (монотонный инвариант трейлинга:
// SL никогда не отступает назад).
func (p *PositionData) RaiseStopLoss(newSL decimal.Decimal) bool {
	switch p.Direction {
	case DirectionBullish:
		if p.SLPrice.IsZero() || newSL.GreaterThan(p.SLPrice) {
			p.SLPrice = newSL
			return true
		}
	case DirectionBearish:
		if p.SLPrice.IsZero() || newSL.LessThan(p.SLPrice) {
			p.SLPrice = newSL
			return true
		}
	}
	return false
}
