package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/riskcore/internal/errs"
)

// Side - направление опционной ноги, которую держит трекер.
type Side string

const (
	SideLongCE Side = "long_ce"
	SideLongPE Side = "long_pe"
)

// TrackerStatus - состояние жизненного цикла трекера. Допустимые переходы:
// pending -> active -> (exited|cancelled); exited и cancelled терминальны.
// См. models.CanTransition.
type TrackerStatus string

const (
	StatusPending   TrackerStatus = "pending"
	StatusActive    TrackerStatus = "active"
	StatusExited    TrackerStatus = "exited"
	StatusCancelled TrackerStatus = "cancelled"
)

// validTrackerTransitions перечисляет допустимые рёбра статусов.
var validTrackerTransitions = map[TrackerStatus][]TrackerStatus{
	StatusPending: {StatusActive, StatusCancelled},
	StatusActive:  {StatusExited, StatusCancelled},
}

// CanTransition сообщает, разрешён ли переход трекера из from в to.
func CanTransition(from, to TrackerStatus) bool {
	for _, allowed := range validTrackerTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal сообщает, является ли статус терминальным.
func IsTerminal(status TrackerStatus) bool {
	return status == StatusExited || status == StatusCancelled
}

// Tracker - авторитетное, персистентное состояние одной открытой позиции.
// Владеет им хранилище трекеров (база данных); PositionData - производный
// снимок в памяти, который никогда не должен хранить указатель обратно на
// Tracker - только TrackerID.
type Tracker struct {
	ID            int64
	OrderNo       string
	SecurityID    string
	Segment       Segment
	Symbol        string
	Side          Side
	Quantity      int
	EntryPrice    decimal.Decimal
	AvgPrice      decimal.Decimal
	Status        TrackerStatus
	LastPnlRupees decimal.Decimal
	LastPnlPct    float64
	HighWaterMark float64 // high_water_mark_pnl, в процентах
	ExitPrice     decimal.Decimal
	ExitReason    string
	Meta          map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate проверяет инварианты: quantity > 0, а entry_price > 0, как
// только трекер активен (или переходит в active).
func (t *Tracker) Validate() error {
	if t.Quantity <= 0 {
		return errs.ErrInvalidQuantity
	}
	if t.Status != StatusPending && !t.EntryPrice.IsPositive() {
		return errs.ErrInvalidEntryPrice
	}
	return nil
}

// MutableAfterExit сообщает, входит ли поле field в список тех немногих
// полей, которые терминальный трекер ещё вправе обновлять (цена/причина
// выхода, PnL). TrackerRepository.Update её не вызывает и пишет все
// столбцы независимо от статуса.
func MutableAfterExit(field string) bool {
	switch field {
	case "exit_price", "exit_reason", "last_pnl_rupees", "last_pnl_pct", "high_water_mark", "updated_at":
		return true
	default:
		return false
	}
}

// IsPaper сообщает, является ли трекер симулированной (paper-mode)
// позицией - признак выставляется EntryGuard в meta при создании.
func (t *Tracker) IsPaper() bool {
	return t.Meta["paper"] == "true"
}

// IsSynthetic сообщает, был ли трекер синтезирован Reconciliation для
// позиции брокера без соответствующего локального трекера ("осиротевшая"
// позиция, префикс SYNC-). Синтетические трекеры допускаются только к
// упрощённой SL/TP-оценке в RiskManager, никогда к полному набору правил.
func (t *Tracker) IsSynthetic() bool {
	return len(t.OrderNo) >= 5 && t.OrderNo[:5] == "SYNC-"
}
