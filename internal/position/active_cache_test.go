package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/shubhamtaywade82/riskcore/internal/models"
)

func samplePosition(trackerID int64) *models.PositionData {
	return &models.PositionData{
		TrackerID:  trackerID,
		SecurityID: "49081",
		Segment:    models.SegmentNSEFnO,
		Direction:  models.DirectionBullish,
		EntryPrice: decimal.NewFromFloat(100),
		Quantity:   75,
	}
}

func TestActiveCache_AddGetRemove(t *testing.T) {
	c := NewActiveCache(nil)
	c.Add(samplePosition(1))

	pos, ok := c.GetByTrackerID(1)
	assert.True(t, ok)
	assert.Equal(t, "49081", pos.SecurityID)

	c.Remove(1)
	_, ok = c.GetByTrackerID(1)
	assert.False(t, ok)
}

func TestActiveCache_BySecurityIndex(t *testing.T) {
	c := NewActiveCache(nil)
	c.Add(samplePosition(1))
	c.Add(samplePosition(2))

	ids := c.BySecurityID(models.SegmentNSEFnO, "49081")
	assert.ElementsMatch(t, []int64{1, 2}, ids)

	c.Remove(1)
	ids = c.BySecurityID(models.SegmentNSEFnO, "49081")
	assert.ElementsMatch(t, []int64{2}, ids)
}

func TestActiveCache_Update(t *testing.T) {
	c := NewActiveCache(nil)
	c.Add(samplePosition(1))

	ok := c.Update(1, func(pos *models.PositionData) {
		pos.RecalculatePnl(decimal.NewFromFloat(110), time.Now().UTC())
	})
	assert.True(t, ok)

	pos, _ := c.GetByTrackerID(1)
	assert.InDelta(t, 10.0, pos.PnlPct, 0.001)
}

func TestActiveCache_UpdateMissingReturnsFalse(t *testing.T) {
	c := NewActiveCache(nil)
	ok := c.Update(99, func(*models.PositionData) {})
	assert.False(t, ok)
}

func TestActiveCache_Protected(t *testing.T) {
	c := NewActiveCache(nil)
	key := models.InstrumentKey{Segment: models.SegmentNSEFnO, SecurityID: "49081"}
	assert.False(t, c.Protected(key))

	c.Add(samplePosition(1))
	assert.True(t, c.Protected(key))

	c.Remove(1)
	assert.False(t, c.Protected(key))
}

func TestActiveCache_EmitsEvents(t *testing.T) {
	events := make(chan Event, 4)
	c := NewActiveCache(events)
	c.Add(samplePosition(1))
	c.Remove(1)

	added := <-events
	removed := <-events
	assert.Equal(t, "positions.added", added.Kind)
	assert.Equal(t, "positions.removed", removed.Kind)
	assert.Equal(t, int64(1), added.TrackerID)
}

func TestActiveCache_RecalculateFromTick(t *testing.T) {
	c := NewActiveCache(nil)
	c.Add(samplePosition(1))
	c.RecalculateFromTick(models.SegmentNSEFnO, "49081", decimal.NewFromFloat(120), time.Now().UTC())

	pos, _ := c.GetByTrackerID(1)
	assert.InDelta(t, 20.0, pos.PnlPct, 0.001)
}

func TestActiveCache_AllPositionsSnapshot(t *testing.T) {
	c := NewActiveCache(nil)
	c.Add(samplePosition(1))
	c.Add(samplePosition(2))
	assert.Len(t, c.AllPositions(), 2)
	assert.Equal(t, 2, c.Len())
}
