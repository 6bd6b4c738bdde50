package cache

import (
	"context"
	"time"

	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

const staleAge = 30 * time.Second

// ProtectedSet сообщает, какие ключи pruner никогда не должен трогать -
// индексные сегменты, watchlist и текущие активные позиции. Реализуется
// вызывающим кодом (обычно ActiveCache + статический watchlist).
type ProtectedSet interface {
	Protected(key models.InstrumentKey) bool
}

// Pruner периодически выметает из TickCache и WarmCache записи старше
// 30 с, кроме защищённого множества. Никогда не трогает pnl:* ключи.
type Pruner struct {
	hot       *TickCache
	warm      *WarmCache
	protected ProtectedSet
	logger    *utils.Logger
}

// NewPruner собирает Pruner из его зависимостей.
func NewPruner(hot *TickCache, warm *WarmCache, protected ProtectedSet, logger *utils.Logger) *Pruner {
	return &Pruner{hot: hot, warm: warm, protected: protected, logger: logger}
}

// Run блокирует вызывающую горутину, выполняя выметание каждые 30 с,
// пока ctx не отменён.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(staleAge)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce(ctx)
		}
	}
}

// sweepOnce выполняет один проход выметания - вынесен отдельно, чтобы
// тесты могли вызвать его детерминированно, без ожидания тикера.
func (p *Pruner) sweepOnce(ctx context.Context) {
	now := time.Now().UTC()
	snapshot := p.hot.Snapshot()
	removed := 0
	for key, tick := range snapshot {
		if key.Segment == models.SegmentIndex {
			continue
		}
		if p.protected != nil && p.protected.Protected(key) {
			continue
		}
		if now.Sub(tick.ReceivedAt()) <= staleAge {
			continue
		}
		p.hot.Delete(key)
		if p.warm != nil {
			_ = p.warm.DeleteTick(ctx, key.Segment, key.SecurityID)
		}
		removed++
	}
	if removed > 0 && p.logger != nil {
		p.logger.Debug("pruner swept stale ticks", utils.Int("removed", removed))
	}
}
