package exit

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhamtaywade82/riskcore/internal/broker"
	"github.com/shubhamtaywade82/riskcore/internal/cache"
	"github.com/shubhamtaywade82/riskcore/internal/limits"
	"github.com/shubhamtaywade82/riskcore/internal/models"
)

type fakeRepo struct {
	mu       sync.Mutex
	trackers map[int64]*models.Tracker
	updates  int
}

func newFakeRepo(trackers ...*models.Tracker) *fakeRepo {
	r := &fakeRepo{trackers: make(map[int64]*models.Tracker)}
	for _, t := range trackers {
		r.trackers[t.ID] = t
	}
	return r
}

func (r *fakeRepo) Get(_ context.Context, trackerID int64) (*models.Tracker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[trackerID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *fakeRepo) Update(_ context.Context, tracker *models.Tracker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	cp := *tracker
	r.trackers[tracker.ID] = &cp
	return nil
}

type fakeGateway struct {
	mu        sync.Mutex
	calls     int
	exitPrice decimal.Decimal
	err       error
}

func (g *fakeGateway) PlaceMarket(_ context.Context, _ broker.PlaceMarketRequest) (*broker.PlaceMarketResult, error) {
	return &broker.PlaceMarketResult{OrderID: "o1"}, nil
}

func (g *fakeGateway) FlatPosition(_ context.Context, _ models.Segment, _ string) (*broker.FlatPositionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &broker.FlatPositionResult{OrderID: "flat1", ExitPrice: g.exitPrice}, nil
}

func (g *fakeGateway) Position(_ context.Context, _ models.Segment, _ string) (*broker.PositionSnapshot, error) {
	return &broker.PositionSnapshot{}, nil
}

func (g *fakeGateway) WalletSnapshot(_ context.Context) (*broker.WalletSnapshot, error) {
	return &broker.WalletSnapshot{}, nil
}

func (g *fakeGateway) LTPBatch(_ context.Context, _ map[models.Segment][]string) (map[models.Segment]map[string]decimal.Decimal, error) {
	return nil, nil
}

func activeTestTracker() *models.Tracker {
	return &models.Tracker{
		ID:         7,
		SecurityID: "49081",
		Segment:    models.SegmentNSEFnO,
		Symbol:     "NIFTY",
		Side:       models.SideLongCE,
		Quantity:   75,
		EntryPrice: decimal.NewFromInt(100),
		Status:     models.StatusActive,
		Meta:       map[string]string{"index": "NIFTY"},
	}
}

func TestExitEngine_ExecuteExitSuccess(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(activeTestTracker())
	gw := &fakeGateway{exitPrice: decimal.NewFromInt(110)}
	dl := limits.NewDailyLimits(cache.NewMemoryStore())
	engine := NewEngine(NewKeyedMutexStore(repo), gw, dl, nil, nil)

	result := engine.ExecuteExit(ctx, 7, "TP HIT")
	require.True(t, result.Success)
	assert.True(t, result.ExitPrice.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, "TP HIT 10.00%", result.Reason)
	assert.Equal(t, 1, gw.calls)

	stored, err := repo.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExited, stored.Status)

	counters := dl.IndexCounters(ctx, "NIFTY")
	assert.True(t, counters.RealizedPnl.IsPositive())
}

func TestExitEngine_IdempotentOnAlreadyTerminal(t *testing.T) {
	ctx := context.Background()
	tracker := activeTestTracker()
	tracker.Status = models.StatusExited
	tracker.ExitPrice = decimal.NewFromInt(105)
	tracker.ExitReason = "SL HIT 5.00%"
	repo := newFakeRepo(tracker)
	gw := &fakeGateway{exitPrice: decimal.NewFromInt(999)}
	engine := NewEngine(NewKeyedMutexStore(repo), gw, nil, nil, nil)

	result := engine.ExecuteExit(ctx, 7, "TP HIT")
	require.True(t, result.Success)
	assert.True(t, result.ExitPrice.Equal(decimal.NewFromInt(105)))
	assert.Equal(t, 0, gw.calls, "must not call broker again for a terminal tracker")
}

func TestExitEngine_GatewayFailureLeavesTrackerUntouched(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(activeTestTracker())
	gw := &fakeGateway{err: assert.AnError}
	engine := NewEngine(NewKeyedMutexStore(repo), gw, nil, nil, nil)

	result := engine.ExecuteExit(ctx, 7, "TP HIT")
	assert.False(t, result.Success)
	assert.Error(t, result.Error)

	stored, err := repo.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)
}

func TestExitEngine_BlankReasonRejected(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(activeTestTracker())
	gw := &fakeGateway{exitPrice: decimal.NewFromInt(110)}
	engine := NewEngine(NewKeyedMutexStore(repo), gw, nil, nil, nil)

	result := engine.ExecuteExit(ctx, 7, "  ")
	assert.False(t, result.Success)
	assert.Equal(t, 0, gw.calls)
}

func TestExitEngine_ConcurrentExitsIssueExactlyOneBrokerCall(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(activeTestTracker())
	gw := &fakeGateway{exitPrice: decimal.NewFromInt(110)}
	engine := NewEngine(NewKeyedMutexStore(repo), gw, nil, nil, nil)

	var wg sync.WaitGroup
	results := make([]Result, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = engine.ExecuteExit(ctx, 7, "TP HIT")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, gw.calls)
	for _, r := range results {
		assert.True(t, r.Success)
	}
}

func TestExitEngine_MissingGatewayReturnsFailure(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(activeTestTracker())
	engine := NewEngine(NewKeyedMutexStore(repo), nil, nil, nil, nil)

	result := engine.ExecuteExit(ctx, 7, "TP HIT")
	assert.False(t, result.Success)
}
