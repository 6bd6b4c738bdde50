package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/internal/position"
)

type fakeFeedStatus struct {
	connected bool
	health    models.FeedHealth
}

func (f *fakeFeedStatus) Connected() bool           { return f.connected }
func (f *fakeFeedStatus) Health() models.FeedHealth { return f.health }

func TestHealthHandler_ConnectedFeedReturnsOK(t *testing.T) {
	feed := &fakeFeedStatus{connected: true, health: models.FeedHealth{State: models.FeedStateConnected}}
	active := position.NewActiveCache(nil)
	active.Add(&models.PositionData{TrackerID: 1})

	handler := NewHealthHandler(feed, active)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.FeedConnected)
	assert.Equal(t, 1, resp.ActivePositions)
}

func TestHealthHandler_DisconnectedFeedReturns503(t *testing.T) {
	feed := &fakeFeedStatus{connected: false, health: models.FeedHealth{State: models.FeedStateDisconnected}}
	handler := NewHealthHandler(feed, position.NewActiveCache(nil))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
