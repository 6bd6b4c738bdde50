package trailing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhamtaywade82/riskcore/internal/broker"
	"github.com/shubhamtaywade82/riskcore/internal/cache"
	"github.com/shubhamtaywade82/riskcore/internal/config"
	"github.com/shubhamtaywade82/riskcore/internal/exit"
	"github.com/shubhamtaywade82/riskcore/internal/limits"
	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/internal/position"
)

type fakeAmender struct {
	calls int
	sl    decimal.Decimal
	err   error
}

func (a *fakeAmender) AmendStopLoss(_ context.Context, _ *models.Tracker, newSL decimal.Decimal) error {
	a.calls++
	a.sl = newSL
	return a.err
}

type fakeGW struct{ exitPrice decimal.Decimal }

func (g *fakeGW) PlaceMarket(context.Context, broker.PlaceMarketRequest) (*broker.PlaceMarketResult, error) {
	return &broker.PlaceMarketResult{}, nil
}
func (g *fakeGW) FlatPosition(context.Context, models.Segment, string) (*broker.FlatPositionResult, error) {
	return &broker.FlatPositionResult{ExitPrice: g.exitPrice}, nil
}
func (g *fakeGW) Position(context.Context, models.Segment, string) (*broker.PositionSnapshot, error) {
	return &broker.PositionSnapshot{}, nil
}
func (g *fakeGW) WalletSnapshot(context.Context) (*broker.WalletSnapshot, error) {
	return &broker.WalletSnapshot{}, nil
}
func (g *fakeGW) LTPBatch(context.Context, map[models.Segment][]string) (map[models.Segment]map[string]decimal.Decimal, error) {
	return nil, nil
}

type fakeTrackerRepo struct{ tracker *models.Tracker }

func (r *fakeTrackerRepo) Get(context.Context, int64) (*models.Tracker, error) { return r.tracker, nil }
func (r *fakeTrackerRepo) Update(_ context.Context, t *models.Tracker) error {
	*r.tracker = *t
	return nil
}

func samplePos() *models.PositionData {
	return &models.PositionData{
		TrackerID:  1,
		EntryPrice: decimal.NewFromInt(100),
		CurrentLTP: decimal.NewFromInt(110),
		Direction:  models.DirectionBullish,
		Quantity:   75,
		PnlPct:     10,
	}
}

func sampleTracker() *models.Tracker {
	return &models.Tracker{ID: 1, Status: models.StatusActive, Quantity: 75, EntryPrice: decimal.NewFromInt(100)}
}

func TestTrailingEngine_DirectTrailingRaisesSL(t *testing.T) {
	amender := &fakeAmender{}
	engine := NewEngine(amender, ModeDirect, nil, nil)
	cfg := config.RiskConfig{ExitDropPct: 2}
	active := position.NewActiveCache(nil)
	pos := samplePos()
	active.Add(pos)
	exitEngine := exit.NewEngine(exit.NewKeyedMutexStore(&fakeTrackerRepo{tracker: sampleTracker()}), &fakeGW{}, limits.NewDailyLimits(cache.NewMemoryStore()), nil, nil)

	engine.ProcessTick(context.Background(), cfg, active, exitEngine, sampleTracker(), pos)

	assert.Equal(t, 1, amender.calls)
	assert.True(t, amender.sl.Equal(decimal.NewFromInt(108)), "expected ltp 110 - 2%% of entry 100 = 108, got %s", amender.sl)
}

func TestTrailingEngine_RejectsNonIncreasingSL(t *testing.T) {
	amender := &fakeAmender{}
	engine := NewEngine(amender, ModeDirect, nil, nil)
	cfg := config.RiskConfig{ExitDropPct: 2}
	pos := samplePos()
	pos.SLPrice = decimal.NewFromInt(200) // уже выше расчётного нового SL

	exitEngine := exit.NewEngine(exit.NewKeyedMutexStore(&fakeTrackerRepo{tracker: sampleTracker()}), &fakeGW{}, nil, nil, nil)
	engine.ProcessTick(context.Background(), cfg, nil, exitEngine, sampleTracker(), pos)

	assert.Equal(t, 0, amender.calls)
}

func TestTrailingEngine_TieredOffsetPicksHighestMatchingStep(t *testing.T) {
	amender := &fakeAmender{}
	tiers := []TierStep{{FromPct: 0, OffsetPct: 1}, {FromPct: 5, OffsetPct: 3}}
	engine := NewEngine(amender, ModeTiered, tiers, nil)
	cfg := config.RiskConfig{}
	pos := samplePos() // pnl_pct = 10, qualifies for both tiers, highest offset wins

	exitEngine := exit.NewEngine(exit.NewKeyedMutexStore(&fakeTrackerRepo{tracker: sampleTracker()}), &fakeGW{}, nil, nil, nil)
	engine.ProcessTick(context.Background(), cfg, nil, exitEngine, sampleTracker(), pos)

	require.Equal(t, 1, amender.calls)
	assert.True(t, amender.sl.Equal(decimal.NewFromInt(107)), "expected ltp 110 - 3%% of entry 100 = 107, got %s", amender.sl)
}

func TestTrailingEngine_DelegatesPeakDrawdownExit(t *testing.T) {
	amender := &fakeAmender{}
	engine := NewEngine(amender, ModeDirect, nil, nil)
	cfg := config.RiskConfig{ExitDropPct: 2, PeakDrawdownPct: 5}
	pos := samplePos()
	pos.PeakProfitPct = 25
	pos.PnlPct = 18 // drawdown of 7 >= threshold 5

	tracker := sampleTracker()
	repo := &fakeTrackerRepo{tracker: tracker}
	gw := &fakeGW{exitPrice: decimal.NewFromInt(118)}
	exitEngine := exit.NewEngine(exit.NewKeyedMutexStore(repo), gw, nil, nil, nil)

	engine.ProcessTick(context.Background(), cfg, nil, exitEngine, tracker, pos)

	assert.Equal(t, models.StatusExited, repo.tracker.Status)
	assert.Equal(t, 0, amender.calls, "trailing must not also amend SL once the position has been exited")
}

func TestTrailingEngine_NoOpWhenPnlNonPositive(t *testing.T) {
	amender := &fakeAmender{}
	engine := NewEngine(amender, ModeDirect, nil, nil)
	cfg := config.RiskConfig{ExitDropPct: 2}
	pos := samplePos()
	pos.PnlPct = -1

	exitEngine := exit.NewEngine(exit.NewKeyedMutexStore(&fakeTrackerRepo{tracker: sampleTracker()}), &fakeGW{}, nil, nil, nil)
	engine.ProcessTick(context.Background(), cfg, nil, exitEngine, sampleTracker(), pos)

	assert.Equal(t, 0, amender.calls)
}
