package entry

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
	"github.com/shubhamtaywade82/riskcore/internal/models"
)

type fakeAllocator struct {
	qty int
	err error
}

func (a *fakeAllocator) Allocate(context.Context, Pick, models.PositionDirection, float64) (int, error) {
	return a.qty, a.err
}

type fakeCreator struct {
	tracker *models.Tracker
	err     error
}

func (c *fakeCreator) Create(_ context.Context, t *models.Tracker) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.tracker = t
	return 42, nil
}

type fakeExposure struct {
	trackers []*models.Tracker
	err      error
}

func (e *fakeExposure) ActiveSameSide(context.Context, models.Segment, string, models.Side) ([]*models.Tracker, error) {
	return e.trackers, e.err
}

type fakeFeed struct{ connected bool }

func (f fakeFeed) Connected() bool { return f.connected }

type fakeGateway struct {
	orderID string
	err     error
	quote   decimal.Decimal
}

func (g *fakeGateway) PlaceMarket(_ context.Context, _ broker.PlaceMarketRequest) (*broker.PlaceMarketResult, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &broker.PlaceMarketResult{OrderID: g.orderID}, nil
}
func (g *fakeGateway) FlatPosition(context.Context, models.Segment, string) (*broker.FlatPositionResult, error) {
	return &broker.FlatPositionResult{}, nil
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

func samplePick() Pick {
	return Pick{SecurityID: "49081", Segment: models.SegmentNSEFnO, Symbol: "NIFTY", LTP: decimal.NewFromInt(100)}
}

func TestEntryGuard_HappyPathCreatesTracker(t *testing.T) {
	gw := &fakeGateway{orderID: "ord-1"}
	creator := &fakeCreator{}
	guard := NewGuard(gw, &fakeAllocator{qty: 75}, creator, &fakeExposure{}, fakeFeed{connected: true}, cache.NewMemoryStore(), nil)

	ok := guard.TryEnter(context.Background(), IndexConfig{Name: "NIFTY"}, samplePick(), models.DirectionBullish, 1.0, config.RiskConfig{})
	require.True(t, ok)
	require.NotNil(t, creator.tracker)
	assert.Equal(t, models.StatusPending, creator.tracker.Status)
	assert.Equal(t, models.SideLongCE, creator.tracker.Side)
	assert.LessOrEqual(t, len(creator.tracker.OrderNo), 25)
}

func TestEntryGuard_BearishUsesLongPE(t *testing.T) {
	gw := &fakeGateway{orderID: "ord-1"}
	creator := &fakeCreator{}
	guard := NewGuard(gw, &fakeAllocator{qty: 75}, creator, &fakeExposure{}, fakeFeed{connected: true}, cache.NewMemoryStore(), nil)

	ok := guard.TryEnter(context.Background(), IndexConfig{Name: "NIFTY"}, samplePick(), models.DirectionBearish, 1.0, config.RiskConfig{})
	require.True(t, ok)
	assert.Equal(t, models.SideLongPE, creator.tracker.Side)
}

func TestEntryGuard_ExposureBlocksThirdPosition(t *testing.T) {
	existing := []*models.Tracker{{ID: 1}, {ID: 2}}
	gw := &fakeGateway{orderID: "ord-1"}
	guard := NewGuard(gw, &fakeAllocator{qty: 75}, &fakeCreator{}, &fakeExposure{trackers: existing}, fakeFeed{connected: true}, cache.NewMemoryStore(), nil)

	ok := guard.TryEnter(context.Background(), IndexConfig{Name: "NIFTY"}, samplePick(), models.DirectionBullish, 1.0, config.RiskConfig{MaxSameSide: 2})
	assert.False(t, ok)
}

func TestEntryGuard_PyramidingRequiresProfitAndMinWindow(t *testing.T) {
	gw := &fakeGateway{orderID: "ord-1"}
	recentUnprofitable := []*models.Tracker{{ID: 1, CreatedAt: time.Now().Add(-time.Minute), LastPnlRupees: decimal.NewFromInt(-10)}}
	guard := NewGuard(gw, &fakeAllocator{qty: 75}, &fakeCreator{}, &fakeExposure{trackers: recentUnprofitable}, fakeFeed{connected: true}, cache.NewMemoryStore(), nil)

	cfg := config.RiskConfig{MaxSameSide: 2, PyramidMinProfitWindow: 5 * time.Minute}
	ok := guard.TryEnter(context.Background(), IndexConfig{Name: "NIFTY"}, samplePick(), models.DirectionBullish, 1.0, cfg)
	assert.False(t, ok, "not yet profitable, pyramiding must be blocked")
}

func TestEntryGuard_PyramidingAllowedWhenProfitableLongEnough(t *testing.T) {
	gw := &fakeGateway{orderID: "ord-1"}
	creator := &fakeCreator{}
	profitable := []*models.Tracker{{ID: 1, CreatedAt: time.Now().Add(-10 * time.Minute), LastPnlRupees: decimal.NewFromInt(500)}}
	guard := NewGuard(gw, &fakeAllocator{qty: 75}, creator, &fakeExposure{trackers: profitable}, fakeFeed{connected: true}, cache.NewMemoryStore(), nil)

	cfg := config.RiskConfig{MaxSameSide: 2, PyramidMinProfitWindow: 5 * time.Minute}
	ok := guard.TryEnter(context.Background(), IndexConfig{Name: "NIFTY"}, samplePick(), models.DirectionBullish, 1.0, cfg)
	assert.True(t, ok)
}

func TestEntryGuard_CooldownBlocksReentry(t *testing.T) {
	gw := &fakeGateway{orderID: "ord-1"}
	store := cache.NewMemoryStore()
	guard := NewGuard(gw, &fakeAllocator{qty: 75}, &fakeCreator{}, &fakeExposure{}, fakeFeed{connected: true}, store, nil)

	cfg := config.RiskConfig{CooldownSec: 30}
	require.True(t, guard.TryEnter(context.Background(), IndexConfig{Name: "NIFTY"}, samplePick(), models.DirectionBullish, 1.0, cfg))

	ok := guard.TryEnter(context.Background(), IndexConfig{Name: "NIFTY"}, samplePick(), models.DirectionBullish, 1.0, cfg)
	assert.False(t, ok, "reentry within cooldown window must be blocked")
}

func TestEntryGuard_FallsBackToQuoteWhenFeedDisconnected(t *testing.T) {
	gw := &fakeGateway{orderID: "ord-1", quote: decimal.NewFromInt(123)}
	creator := &fakeCreator{}
	guard := NewGuard(gw, &fakeAllocator{qty: 75}, creator, &fakeExposure{}, fakeFeed{connected: false}, cache.NewMemoryStore(), nil)

	pick := samplePick()
	ok := guard.TryEnter(context.Background(), IndexConfig{Name: "NIFTY"}, pick, models.DirectionBullish, 1.0, config.RiskConfig{})
	require.True(t, ok)
	assert.True(t, creator.tracker.EntryPrice.Equal(decimal.NewFromInt(123)))
}

func TestEntryGuard_ZeroQuantityRejected(t *testing.T) {
	gw := &fakeGateway{orderID: "ord-1"}
	guard := NewGuard(gw, &fakeAllocator{qty: 0}, &fakeCreator{}, &fakeExposure{}, fakeFeed{connected: true}, cache.NewMemoryStore(), nil)

	ok := guard.TryEnter(context.Background(), IndexConfig{Name: "NIFTY"}, samplePick(), models.DirectionBullish, 1.0, config.RiskConfig{})
	assert.False(t, ok)
}

func TestEntryGuard_BrokerRejectionReturnsFalse(t *testing.T) {
	gw := &fakeGateway{err: assert.AnError}
	guard := NewGuard(gw, &fakeAllocator{qty: 75}, &fakeCreator{}, &fakeExposure{}, fakeFeed{connected: true}, cache.NewMemoryStore(), nil)

	ok := guard.TryEnter(context.Background(), IndexConfig{Name: "NIFTY"}, samplePick(), models.DirectionBullish, 1.0, config.RiskConfig{})
	assert.False(t, ok)
}
