// Package exit реализует ExitEngine - единственную точку, которая вправе
// закрывать позиции и финализировать трекеры.
package exit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/riskcore/internal/broker"
	"github.com/shubhamtaywade82/riskcore/internal/errs"
	"github.com/shubhamtaywade82/riskcore/internal/limits"
	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

// LTPLookup - необязательный источник последней цены для вычисления
// итогового PnL, если шлюз не вернул exit_price. Ошибка/отсутствие
// никогда не фатальны (best-effort).
type LTPLookup func(segment models.Segment, securityID string) (decimal.Decimal, bool)

// Result - итог execute_exit.
type Result struct {
	Success   bool
	ExitPrice decimal.Decimal
	Reason    string
	Error     error
}

// Engine - ExitEngine.
type Engine struct {
	store   TrackerStore
	gateway broker.Gateway
	limits  *limits.DailyLimits
	ltp     LTPLookup
	logger  *utils.Logger
}

// NewEngine собирает ExitEngine. ltp и logger необязательны (могут быть nil).
func NewEngine(store TrackerStore, gateway broker.Gateway, dailyLimits *limits.DailyLimits, ltp LTPLookup, logger *utils.Logger) *Engine {
	return &Engine{store: store, gateway: gateway, limits: dailyLimits, ltp: ltp, logger: logger}
}

// ExecuteExit закрывает позицию trackerID по причине reason. Идемпотентна:
// повторный вызов на уже терминальном трекере возвращает прежний успех без
// повторного обращения к брокеру.
func (e *Engine) ExecuteExit(ctx context.Context, trackerID int64, reason string) Result {
	reason = strings.TrimSpace(reason)
	if trackerID <= 0 {
		return Result{Success: false, Error: errs.ErrTrackerNotFound}
	}
	if reason == "" {
		return Result{Success: false, Error: errBlankReason}
	}
	if e.store == nil || e.gateway == nil {
		return Result{Success: false, Error: errs.ErrBrokerUnavailable}
	}

	var result Result
	var pnlRupees decimal.Decimal
	var index string
	var alreadyTerminal bool

	err := e.store.WithLock(ctx, trackerID, func(tracker *models.Tracker) error {
		if tracker == nil {
			return errs.ErrTrackerNotFound
		}
		if models.IsTerminal(tracker.Status) {
			alreadyTerminal = true
			result = Result{Success: true, ExitPrice: tracker.ExitPrice, Reason: tracker.ExitReason}
			return errIdempotentNoOp
		}

		ltp, _ := e.resolveLTP(tracker)

		flat, gwErr := e.gateway.FlatPosition(ctx, tracker.Segment, tracker.SecurityID)
		if gwErr != nil {
			result = Result{Success: false, Error: gwErr}
			return errSkipPersist
		}

		exitPrice := ltp
		if flat != nil && flat.ExitPrice.IsPositive() {
			exitPrice = flat.ExitPrice
		}
		if exitPrice.IsZero() {
			exitPrice = tracker.AvgPrice
		}

		pnlRupees = exitPrice.Sub(tracker.EntryPrice).Mul(decimal.NewFromInt(int64(tracker.Quantity)))
		pnlPct := 0.0
		if tracker.EntryPrice.IsPositive() {
			ratio, _ := exitPrice.Div(tracker.EntryPrice).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).Float64()
			pnlPct = ratio
		}

		tracker.Status = models.StatusExited
		tracker.ExitPrice = exitPrice
		tracker.ExitReason = fmt.Sprintf("%s %.2f%%", reason, pnlPct)
		tracker.LastPnlRupees = pnlRupees
		tracker.LastPnlPct = pnlPct
		tracker.UpdatedAt = time.Now()

		index = trackerIndex(tracker)

		result = Result{Success: true, ExitPrice: exitPrice, Reason: tracker.ExitReason}
		return nil
	})

	if err != nil && err != errIdempotentNoOp && err != errSkipPersist {
		return Result{Success: false, Error: err}
	}
	if alreadyTerminal || (err == errSkipPersist) {
		return result
	}

	e.recordDailyOutcome(ctx, index, pnlRupees)
	return result
}

func (e *Engine) resolveLTP(tracker *models.Tracker) (decimal.Decimal, bool) {
	if e.ltp == nil {
		return decimal.Zero, false
	}
	price, ok := e.ltp(tracker.Segment, tracker.SecurityID)
	if !ok {
		return decimal.Zero, false
	}
	return price, true
}

func (e *Engine) recordDailyOutcome(ctx context.Context, index string, pnlRupees decimal.Decimal) {
	if e.limits == nil || index == "" {
		return
	}
	switch {
	case pnlRupees.IsNegative():
		if err := e.limits.RecordLoss(ctx, index, pnlRupees.Abs()); err != nil && e.logger != nil {
			e.logger.Warn("failed to record daily loss", utils.String("index", index), utils.Err(err))
		}
	case pnlRupees.IsPositive():
		if err := e.limits.RecordProfit(ctx, index, pnlRupees); err != nil && e.logger != nil {
			e.logger.Warn("failed to record daily profit", utils.String("index", index), utils.Err(err))
		}
	}
}

// trackerIndex резолвит логический индекс (NIFTY/BANKNIFTY/...) трекера -
// EntryGuard прописывает его в meta["index"] на момент создания трекера.
func trackerIndex(tracker *models.Tracker) string {
	if tracker.Meta != nil {
		if idx, ok := tracker.Meta["index"]; ok && idx != "" {
			return idx
		}
	}
	return tracker.Symbol
}

// errIdempotentNoOp и errSkipPersist - внутренние сигналы управления
// потоком WithLock: errIdempotentNoOp означает "трекер уже терминален,
// ничего не меняем и не персистируем"; errSkipPersist означает "шлюз
// отказал, оставляем трекер нетронутым". Оба гасятся в ExecuteExit и
// никогда не всплывают наружу как ошибка.
var errIdempotentNoOp = fmt.Errorf("tracker already terminal")
var errSkipPersist = fmt.Errorf("gateway rejected exit")
var errBlankReason = fmt.Errorf("exit reason must not be blank")
