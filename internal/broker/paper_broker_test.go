package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhamtaywade82/riskcore/internal/models"
)

func fixedLTP(price decimal.Decimal) LTPLookup {
	return func(_ models.Segment, _ string) (decimal.Decimal, bool) {
		return price, true
	}
}

func TestPaperBroker_PlaceMarketOpensPosition(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(fixedLTP(decimal.NewFromInt(100)), decimal.NewFromInt(100000))

	result, err := b.PlaceMarket(ctx, PlaceMarketRequest{
		Side:       models.TransactionBuy,
		Segment:    models.SegmentNSEFnO,
		SecurityID: "49081",
		Quantity:   75,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.OrderID)

	pos, err := b.Position(ctx, models.SegmentNSEFnO, "49081")
	require.NoError(t, err)
	assert.Equal(t, 75, pos.Quantity)
	assert.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(100)))
}

func TestPaperBroker_PlaceMarketIdempotentByClientOrderID(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(fixedLTP(decimal.NewFromInt(100)), decimal.NewFromInt(100000))

	req := PlaceMarketRequest{
		Side:          models.TransactionBuy,
		Segment:       models.SegmentNSEFnO,
		SecurityID:    "49081",
		Quantity:      75,
		ClientOrderID: "AS-NIFT-49081-123456",
	}
	first, err := b.PlaceMarket(ctx, req)
	require.NoError(t, err)
	second, err := b.PlaceMarket(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	pos, err := b.Position(ctx, models.SegmentNSEFnO, "49081")
	require.NoError(t, err)
	assert.Equal(t, 75, pos.Quantity, "the second call must not execute again")
}

func TestPaperBroker_FlatPositionClosesAndRealizesPnl(t *testing.T) {
	ctx := context.Background()
	price := decimal.NewFromInt(100)
	b := NewPaperBroker(func(_ models.Segment, _ string) (decimal.Decimal, bool) {
		return price, true
	}, decimal.NewFromInt(100000))

	_, err := b.PlaceMarket(ctx, PlaceMarketRequest{
		Side:       models.TransactionBuy,
		Segment:    models.SegmentNSEFnO,
		SecurityID: "49081",
		Quantity:   75,
	})
	require.NoError(t, err)

	price = decimal.NewFromInt(110)
	result, err := b.FlatPosition(ctx, models.SegmentNSEFnO, "49081")
	require.NoError(t, err)
	assert.True(t, result.ExitPrice.Equal(decimal.NewFromInt(110)))

	pos, err := b.Position(ctx, models.SegmentNSEFnO, "49081")
	require.NoError(t, err)
	assert.Equal(t, 0, pos.Quantity)
	assert.True(t, pos.RealizedPnl.Equal(decimal.NewFromInt(750)), "expected 75*10 realized, got %s", pos.RealizedPnl)
}

func TestPaperBroker_FlatPositionNoopWhenFlat(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(fixedLTP(decimal.NewFromInt(100)), decimal.NewFromInt(100000))

	result, err := b.FlatPosition(ctx, models.SegmentNSEFnO, "49081")
	require.NoError(t, err)
	assert.Empty(t, result.OrderID)
}

func TestPaperBroker_PlaceMarketFailsWithoutLTP(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(func(_ models.Segment, _ string) (decimal.Decimal, bool) {
		return decimal.Zero, false
	}, decimal.NewFromInt(100000))

	_, err := b.PlaceMarket(ctx, PlaceMarketRequest{
		Side:       models.TransactionBuy,
		Segment:    models.SegmentNSEFnO,
		SecurityID: "49081",
		Quantity:   75,
	})
	assert.Error(t, err)
}

func TestPaperBroker_WalletSnapshotReflectsExposure(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(fixedLTP(decimal.NewFromInt(100)), decimal.NewFromInt(100000))

	_, err := b.PlaceMarket(ctx, PlaceMarketRequest{
		Side:       models.TransactionBuy,
		Segment:    models.SegmentNSEFnO,
		SecurityID: "49081",
		Quantity:   75,
	})
	require.NoError(t, err)

	snap, err := b.WalletSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Exposure.Equal(decimal.NewFromInt(7500)))
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(100000)))
}

func TestPaperBroker_LTPBatchResolvesKnownInstruments(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(fixedLTP(decimal.NewFromInt(123)), decimal.NewFromInt(100000))

	out, err := b.LTPBatch(ctx, map[models.Segment][]string{
		models.SegmentNSEFnO: {"49081", "49082"},
	})
	require.NoError(t, err)
	assert.True(t, out[models.SegmentNSEFnO]["49081"].Equal(decimal.NewFromInt(123)))
	assert.True(t, out[models.SegmentNSEFnO]["49082"].Equal(decimal.NewFromInt(123)))
}
