package riskmanager

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhamtaywade82/riskcore/internal/broker"
	"github.com/shubhamtaywade82/riskcore/internal/cache"
	"github.com/shubhamtaywade82/riskcore/internal/config"
	"github.com/shubhamtaywade82/riskcore/internal/edge"
	"github.com/shubhamtaywade82/riskcore/internal/exit"
	"github.com/shubhamtaywade82/riskcore/internal/feed"
	"github.com/shubhamtaywade82/riskcore/internal/limits"
	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/internal/position"
	"github.com/shubhamtaywade82/riskcore/internal/risk"
	"github.com/shubhamtaywade82/riskcore/internal/trailing"
)

type fakeRepo struct {
	trackers map[int64]*models.Tracker
}

func (r *fakeRepo) ActiveTrackers(context.Context) ([]*models.Tracker, error) {
	out := make([]*models.Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		out = append(out, t)
	}
	return out, nil
}

func (r *fakeRepo) GetMany(_ context.Context, ids []int64) (map[int64]*models.Tracker, error) {
	out := map[int64]*models.Tracker{}
	for _, id := range ids {
		if t, ok := r.trackers[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

type fakeFeedHub struct{ connected bool }

func (f *fakeFeedHub) Connected() bool { return f.connected }
func (f *fakeFeedHub) Health() models.FeedHealth {
	return models.FeedHealth{State: models.FeedStateDisconnected}
}
func (f *fakeFeedHub) Subscribe(context.Context, ...feed.Instrument) error { return nil }

type fakeGateway struct{ quote decimal.Decimal }

func (g *fakeGateway) PlaceMarket(context.Context, broker.PlaceMarketRequest) (*broker.PlaceMarketResult, error) {
	return &broker.PlaceMarketResult{}, nil
}
func (g *fakeGateway) FlatPosition(context.Context, models.Segment, string) (*broker.FlatPositionResult, error) {
	return &broker.FlatPositionResult{ExitPrice: g.quote}, nil
}
func (g *fakeGateway) Position(context.Context, models.Segment, string) (*broker.PositionSnapshot, error) {
	return &broker.PositionSnapshot{}, nil
}
func (g *fakeGateway) WalletSnapshot(context.Context) (*broker.WalletSnapshot, error) {
	return &broker.WalletSnapshot{}, nil
}
func (g *fakeGateway) LTPBatch(_ context.Context, bySegment map[models.Segment][]string) (map[models.Segment]map[string]decimal.Decimal, error) {
	out := map[models.Segment]map[string]decimal.Decimal{}
	for seg, ids := range bySegment {
		inner := map[string]decimal.Decimal{}
		for _, id := range ids {
			inner[id] = g.quote
		}
		out[seg] = inner
	}
	return out, nil
}

type fakeTrackerStoreRepo struct{ tracker *models.Tracker }

func (r *fakeTrackerStoreRepo) Get(context.Context, int64) (*models.Tracker, error) {
	return r.tracker, nil
}
func (r *fakeTrackerStoreRepo) Update(_ context.Context, t *models.Tracker) error {
	*r.tracker = *t
	return nil
}

func buildManager(t *testing.T, tracker *models.Tracker, pos *models.PositionData, gw *fakeGateway) (*Manager, *position.ActiveCache, *cache.WarmCache) {
	t.Helper()
	store := cache.NewMemoryStore()
	warm := cache.NewWarmCache(store)
	active := position.NewActiveCache(nil)
	if pos != nil {
		active.Add(pos)
	}
	repo := &fakeRepo{trackers: map[int64]*models.Tracker{tracker.ID: tracker}}
	exitEngine := exit.NewEngine(exit.NewKeyedMutexStore(&fakeTrackerStoreRepo{tracker: tracker}), gw, limits.NewDailyLimits(store), nil, nil)
	trailingEngine := trailing.NewEngine(nil, trailing.ModeDirect, nil, nil)
	ruleEngine := risk.NewEngineDefault(nil)
	detector := edge.NewDetector(store)

	mgr := NewManager(repo, active, warm, &fakeFeedHub{connected: true}, gw, ruleEngine, exitEngine, trailingEngine, detector, nil, nil, Config{
		Risk: config.RiskConfig{
			SLPct:               5,
			TPPct:               20,
			LoopIntervalIdle:    5 * time.Second,
			LoopIntervalActive:  500 * time.Millisecond,
			EdgeFailureDetector: config.EdgeFailureDetectorConfig{},
		},
		Regimes:          map[string]models.RegimeWindow{"all_day": {Name: models.RegimeTrendContinuation, Start: "00:00", End: "23:59", SLMultiplier: 1, TPMultiplier: 1, AllowEntries: true}},
		MaintenanceEvery: time.Hour,
	})
	// Симулируем только что прошедшее обслуживание, чтобы runCycle не
	// перезаписал PositionData из тёплого кэша значениями по умолчанию -
	// эти тесты проверяют RuleEngine/ExitEngine, а не само обслуживание.
	mgr.lastMaintenance = time.Now()
	return mgr, active, warm
}

func TestManager_RunCycleExitsOnStopLoss(t *testing.T) {
	tracker := &models.Tracker{ID: 1, Status: models.StatusActive, Quantity: 75, EntryPrice: decimal.NewFromInt(100), Segment: models.SegmentNSEFnO, SecurityID: "49081", Side: models.SideLongCE}
	pos := &models.PositionData{
		TrackerID:  1,
		Segment:    models.SegmentNSEFnO,
		SecurityID: "49081",
		Direction:  models.DirectionBullish,
		EntryPrice: decimal.NewFromInt(100),
		Quantity:   75,
		CurrentLTP: decimal.NewFromInt(94),
		PnlPct:     -6,
	}
	gw := &fakeGateway{quote: decimal.NewFromInt(94)}
	mgr, active, _ := buildManager(t, tracker, pos, gw)

	next := mgr.runCycle(context.Background())

	assert.Equal(t, models.StatusExited, tracker.Status)
	_, stillThere := active.GetByTrackerID(1)
	assert.False(t, stillThere, "exited position must be removed from the active cache")
	assert.Equal(t, mgr.cfg.Risk.LoopIntervalIdle, next, "cache now empty, next cadence must be idle")
}

func TestManager_RunCycleNoActionKeepsPositionAndUsesActiveCadence(t *testing.T) {
	tracker := &models.Tracker{ID: 2, Status: models.StatusActive, Quantity: 75, EntryPrice: decimal.NewFromInt(100), Segment: models.SegmentNSEFnO, SecurityID: "49082", Side: models.SideLongCE}
	pos := &models.PositionData{
		TrackerID:  2,
		Segment:    models.SegmentNSEFnO,
		SecurityID: "49082",
		Direction:  models.DirectionBullish,
		EntryPrice: decimal.NewFromInt(100),
		Quantity:   75,
		CurrentLTP: decimal.NewFromInt(102),
		PnlPct:     2,
	}
	gw := &fakeGateway{quote: decimal.NewFromInt(102)}
	mgr, active, _ := buildManager(t, tracker, pos, gw)

	next := mgr.runCycle(context.Background())

	assert.Equal(t, models.StatusActive, tracker.Status)
	_, stillThere := active.GetByTrackerID(2)
	assert.True(t, stillThere)
	assert.Equal(t, mgr.cfg.Risk.LoopIntervalActive, next)
}

func TestManager_FallbackEvaluateClosesOnSLBreach(t *testing.T) {
	tracker := &models.Tracker{ID: 3, Status: models.StatusActive, Quantity: 75, EntryPrice: decimal.NewFromInt(100), Segment: models.SegmentNSEFnO, SecurityID: "49083", Side: models.SideLongCE}
	gw := &fakeGateway{quote: decimal.NewFromInt(80)}
	mgr, _, warm := buildManager(t, tracker, nil, gw)

	require.NoError(t, warm.PutPnl(context.Background(), 3, cache.PnlSnapshot{PnlPct: -8, UpdatedAt: time.Now()}))

	mgr.fallbackEvaluate(context.Background(), mgr.cfg.Risk, time.Now(), tracker)

	assert.Equal(t, models.StatusExited, tracker.Status, "fallback pass must close a tracker breaching SL outside the active cache")
}

func TestManager_FallbackPassSkipsTrackersAlreadyInActiveCache(t *testing.T) {
	tracker := &models.Tracker{ID: 4, Status: models.StatusActive, Quantity: 75, EntryPrice: decimal.NewFromInt(100), Segment: models.SegmentNSEFnO, SecurityID: "49084", Side: models.SideLongCE}
	pos := &models.PositionData{TrackerID: 4, EntryPrice: decimal.NewFromInt(100), CurrentLTP: decimal.NewFromInt(100), Direction: models.DirectionBullish, Quantity: 75}
	gw := &fakeGateway{quote: decimal.NewFromInt(100)}
	mgr, _, warm := buildManager(t, tracker, pos, gw)

	require.NoError(t, warm.PutPnl(context.Background(), 4, cache.PnlSnapshot{PnlPct: -50, UpdatedAt: time.Now()}))

	mgr.fallbackPass(context.Background(), mgr.cfg.Risk, time.Now(), map[int64]*models.Tracker{4: tracker}, []*models.PositionData{pos})

	assert.Equal(t, models.StatusActive, tracker.Status, "a tracker already tracked by the active cache must never be touched by the fallback pass")
}

func TestQuoteCircuitBreaker_OpensAfterThresholdAndHalfOpens(t *testing.T) {
	b := newQuoteCircuitBreaker(3, time.Minute)
	now := time.Now()

	assert.True(t, b.Allow(now))
	b.RecordFailure(now)
	b.RecordFailure(now)
	b.RecordFailure(now)
	assert.False(t, b.Allow(now), "circuit must be open immediately after hitting the failure threshold")

	later := now.Add(2 * time.Minute)
	assert.True(t, b.Allow(later), "first call after cooldown must be allowed as a half-open probe")
	assert.False(t, b.Allow(later), "second call within the same cooldown window must not probe again")

	b.RecordSuccess()
	assert.True(t, b.Allow(later), "circuit must be fully closed after a successful probe")
}
