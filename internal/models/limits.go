package models

import "github.com/shopspring/decimal"

// DailyCounters - дневные счётчики торговли по одному ключу (глобальному
// или per-underlying), хранимые в warm-cache под ключами
// daily_limits:{kind}:{date}:{index|global}. Обнуляются календарным
// переходом дня, не таймером процесса.
type DailyCounters struct {
	Date          string // YYYY-MM-DD в зоне биржи (Asia/Kolkata)
	Scope         string // "global" либо имя underlying
	RealizedPnl   decimal.Decimal
	TradeCount    int
	LossStreak    int
	SLHitCount    int
}

// ExceedsLossLimit сообщает, пробит ли дневной лимит убытка.
func (c DailyCounters) ExceedsLossLimit(limit decimal.Decimal) bool {
	if limit.IsZero() {
		return false
	}
	return c.RealizedPnl.LessThanOrEqual(limit.Neg())
}

// ExceedsTradeCap сообщает, достигнут ли дневной предел количества сделок.
func (c DailyCounters) ExceedsTradeCap(cap int) bool {
	if cap <= 0 {
		return false
	}
	return c.TradeCount >= cap
}

// EdgeState - состояние детектора деградации края (edge-failure),
// хранимое под edge_failure:*. Отслеживает подряд идущие стоп-лоссы и
// скользящее окно PnL для решения о паузе торговли по сессии.
type EdgeState struct {
	ConsecutiveSLCount int
	RollingPnlPct      []float64 // скользящее окно (FIFO), самые свежие в конце
	PausedUntilSession string    // пустая строка, если паузы нет
	PauseReason        string
}

// RollingAverage возвращает среднее значение скользящего окна PnL, либо 0
// для пустого окна.
func (s EdgeState) RollingAverage() float64 {
	if len(s.RollingPnlPct) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range s.RollingPnlPct {
		sum += v
	}
	return sum / float64(len(s.RollingPnlPct))
}

// Paused сообщает, действует ли в данный момент пауза edge-failure.
func (s EdgeState) Paused() bool {
	return s.PausedUntilSession != ""
}

// PushRolling добавляет значение в скользящее окно, обрезая его до
// maxWindow элементов (аналог LPUSH+LTRIM в warm-хранилище).
func (s *EdgeState) PushRolling(pct float64, maxWindow int) {
	s.RollingPnlPct = append(s.RollingPnlPct, pct)
	if len(s.RollingPnlPct) > maxWindow {
		s.RollingPnlPct = s.RollingPnlPct[len(s.RollingPnlPct)-maxWindow:]
	}
}
