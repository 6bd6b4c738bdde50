package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/riskcore/internal/models"
)

const tickTTL = 6 * time.Hour
const pnlTTL = 6 * time.Hour

// WarmCache - durable зеркало последнего тика и PnL позиции поверх
// WarmStore (Redis в проде). Запись best-effort: ошибки возвращаются
// вызывающему коду, но никогда не должны останавливать горячий путь -
// вызывающая сторона (MarketFeedHub, RiskManager) решает, логировать и
// продолжить, или откатиться на hot cache.
type WarmCache struct {
	store WarmStore
}

// NewWarmCache оборачивает store в WarmCache.
func NewWarmCache(store WarmStore) *WarmCache {
	return &WarmCache{store: store}
}

func tickKey(segment models.Segment, securityID string) string {
	return "tick:" + string(segment) + ":" + securityID
}

func pnlKey(trackerID int64) string {
	return "pnl:tracker:" + strconv.FormatInt(trackerID, 10)
}

// PutTick пишет tick:{segment}:{sid} - вызывается MarketFeedHub только
// когда ltp > 0.
func (w *WarmCache) PutTick(ctx context.Context, tick models.Tick) error {
	key := tickKey(tick.Segment, tick.SecurityID)
	now := time.Now().UTC().Format(time.RFC3339)
	if err := w.store.HSet(ctx, key, map[string]string{
		"ltp":        tick.LTP.String(),
		"ts":         strconv.FormatInt(tick.Ts, 10),
		"updated_at": now,
	}); err != nil {
		return err
	}
	return w.store.Expire(ctx, key, tickTTL)
}

// TickSnapshot - значение, прочитанное из tick:{segment}:{sid}.
type TickSnapshot struct {
	LTP       decimal.Decimal
	Ts        int64
	UpdatedAt time.Time
}

// GetTick читает tick:{segment}:{sid}.
func (w *WarmCache) GetTick(ctx context.Context, segment models.Segment, securityID string) (TickSnapshot, error) {
	fields, err := w.store.HGetAll(ctx, tickKey(segment, securityID))
	if err != nil {
		return TickSnapshot{}, err
	}
	ltp, _ := decimal.NewFromString(fields["ltp"])
	ts, _ := strconv.ParseInt(fields["ts"], 10, 64)
	updatedAt, _ := time.Parse(time.RFC3339, fields["updated_at"])
	return TickSnapshot{LTP: ltp, Ts: ts, UpdatedAt: updatedAt}, nil
}

// PnlSnapshot - значение, прочитанное из pnl:tracker:{id}.
type PnlSnapshot struct {
	PnlRupees decimal.Decimal
	PnlPct    float64
	LTP       decimal.Decimal
	HWMPnl    float64
	Ts        int64
	UpdatedAt time.Time
}

// Fresh сообщает, моложе ли снимок maxAge относительно now.
func (p PnlSnapshot) Fresh(now time.Time, maxAge time.Duration) bool {
	if p.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(p.UpdatedAt) <= maxAge
}

// PutPnl пишет pnl:tracker:{id}.
func (w *WarmCache) PutPnl(ctx context.Context, trackerID int64, snap PnlSnapshot) error {
	key := pnlKey(trackerID)
	now := time.Now().UTC()
	if err := w.store.HSet(ctx, key, map[string]string{
		"pnl":        snap.PnlRupees.String(),
		"pnl_pct":    strconv.FormatFloat(snap.PnlPct, 'f', -1, 64),
		"ltp":        snap.LTP.String(),
		"hwm_pnl":    strconv.FormatFloat(snap.HWMPnl, 'f', -1, 64),
		"ts":         strconv.FormatInt(now.Unix(), 10),
		"updated_at": now.Format(time.RFC3339),
	}); err != nil {
		return err
	}
	return w.store.Expire(ctx, key, pnlTTL)
}

// GetPnl читает pnl:tracker:{id}.
func (w *WarmCache) GetPnl(ctx context.Context, trackerID int64) (PnlSnapshot, error) {
	fields, err := w.store.HGetAll(ctx, pnlKey(trackerID))
	if err != nil {
		return PnlSnapshot{}, err
	}
	pnl, _ := decimal.NewFromString(fields["pnl"])
	pnlPct, _ := strconv.ParseFloat(fields["pnl_pct"], 64)
	ltp, _ := decimal.NewFromString(fields["ltp"])
	hwm, _ := strconv.ParseFloat(fields["hwm_pnl"], 64)
	ts, _ := strconv.ParseInt(fields["ts"], 10, 64)
	updatedAt, _ := time.Parse(time.RFC3339, fields["updated_at"])
	return PnlSnapshot{PnlRupees: pnl, PnlPct: pnlPct, LTP: ltp, HWMPnl: hwm, Ts: ts, UpdatedAt: updatedAt}, nil
}

// DeleteTick удаляет tick:{segment}:{sid} - используется pruner'ом.
func (w *WarmCache) DeleteTick(ctx context.Context, segment models.Segment, securityID string) error {
	return w.store.Del(ctx, tickKey(segment, securityID))
}
