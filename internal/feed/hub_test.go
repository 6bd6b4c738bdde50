package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhamtaywade82/riskcore/internal/models"
)

// fakeTransport - тестовый Transport без сети, управляемый вручную.
type fakeTransport struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	subscribed   []Instrument
	unsubscribed []Instrument
	subscribeCalls int

	onTick       func(models.Tick)
	onConnect    func()
	onDisconnect func(error)
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, instruments []Instrument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls++
	f.subscribed = append(f.subscribed, instruments...)
	return nil
}

func (f *fakeTransport) Unsubscribe(_ context.Context, instruments []Instrument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, instruments...)
	return nil
}

func (f *fakeTransport) SetOnTick(handler func(models.Tick)) { f.onTick = handler }
func (f *fakeTransport) SetOnConnect(handler func())         { f.onConnect = handler }
func (f *fakeTransport) SetOnDisconnect(handler func(error)) { f.onDisconnect = handler }

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

type fakeHotSink struct {
	mu    sync.Mutex
	put   []models.Tick
}

func (s *fakeHotSink) Put(tick models.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put = append(s.put, tick)
}

type fakeWarmWriter struct {
	mu  sync.Mutex
	put []models.Tick
}

func (w *fakeWarmWriter) PutTick(_ context.Context, tick models.Tick) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.put = append(w.put, tick)
	return nil
}

func TestMarketFeedHub_StartStop(t *testing.T) {
	transport := &fakeTransport{}
	hub := NewMarketFeedHub(transport, &fakeHotSink{}, &fakeWarmWriter{}, nil)

	assert.True(t, hub.Start(context.Background()))
	assert.True(t, hub.Running())
	require.NoError(t, hub.Stop())
	assert.False(t, hub.Running())
}

func TestMarketFeedHub_SubscribeIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	hub := NewMarketFeedHub(transport, &fakeHotSink{}, &fakeWarmWriter{}, nil)
	require.True(t, hub.Start(context.Background()))

	inst := Instrument{Segment: models.SegmentNSEFnO, SecurityID: "49081"}
	require.NoError(t, hub.Subscribe(context.Background(), inst))
	require.NoError(t, hub.Subscribe(context.Background(), inst))

	assert.Len(t, transport.subscribed, 1)
	assert.Equal(t, 1, transport.subscribeCalls)
}

func TestMarketFeedHub_SubscribeRequiresRunning(t *testing.T) {
	transport := &fakeTransport{}
	hub := NewMarketFeedHub(transport, &fakeHotSink{}, &fakeWarmWriter{}, nil)
	err := hub.Subscribe(context.Background(), Instrument{Segment: models.SegmentNSEFnO, SecurityID: "1"})
	assert.Error(t, err)
}

func TestMarketFeedHub_TickFlowsToSinksAndListeners(t *testing.T) {
	transport := &fakeTransport{}
	hot := &fakeHotSink{}
	warm := &fakeWarmWriter{}
	hub := NewMarketFeedHub(transport, hot, warm, nil)
	require.True(t, hub.Start(context.Background()))

	var received models.Tick
	var mu sync.Mutex
	hub.OnTick(func(tick models.Tick) {
		mu.Lock()
		received = tick
		mu.Unlock()
	})

	tick := models.Tick{Segment: models.SegmentNSEFnO, SecurityID: "49081", LTP: decimal.NewFromFloat(101.5), Ts: time.Now().Unix()}
	transport.onTick(tick)

	mu.Lock()
	assert.Equal(t, tick.SecurityID, received.SecurityID)
	mu.Unlock()
	assert.Len(t, hot.put, 1)
	assert.Len(t, warm.put, 1)
	assert.True(t, hub.Connected())
}

func TestMarketFeedHub_ZeroLTPSkipsWarmWrite(t *testing.T) {
	transport := &fakeTransport{}
	hot := &fakeHotSink{}
	warm := &fakeWarmWriter{}
	hub := NewMarketFeedHub(transport, hot, warm, nil)
	require.True(t, hub.Start(context.Background()))

	tick := models.Tick{Segment: models.SegmentNSEFnO, SecurityID: "49081", LTP: decimal.Zero, Ts: time.Now().Unix()}
	transport.onTick(tick)

	assert.Len(t, hot.put, 1)
	assert.Len(t, warm.put, 0)
}

func TestMarketFeedHub_ListenerPanicIsolated(t *testing.T) {
	transport := &fakeTransport{}
	hub := NewMarketFeedHub(transport, &fakeHotSink{}, &fakeWarmWriter{}, nil)
	require.True(t, hub.Start(context.Background()))

	delivered := false
	hub.OnTick(func(models.Tick) { panic("boom") })
	hub.OnTick(func(models.Tick) { delivered = true })

	tick := models.Tick{Segment: models.SegmentNSEFnO, SecurityID: "1", LTP: decimal.NewFromInt(10), Ts: time.Now().Unix()}
	assert.NotPanics(t, func() { transport.onTick(tick) })
	assert.True(t, delivered)
}

func TestMarketFeedHub_StartFailureReturnsFalse(t *testing.T) {
	transport := &fakeTransport{connectErr: assert.AnError}
	hub := NewMarketFeedHub(transport, &fakeHotSink{}, &fakeWarmWriter{}, nil)
	assert.False(t, hub.Start(context.Background()))
	assert.False(t, hub.Running())
}
