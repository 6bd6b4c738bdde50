package feed

import (
	"context"
	"sync"
	"time"

	"github.com/shubhamtaywade82/riskcore/internal/errs"
	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

// staleWindow - порог, после которого последний тик считается устаревшим
// для целей connected?
const staleWindow = 30 * time.Second

// Listener получает каждый тик, прошедший через хаб. Вызывается на
// горутине broadcaster'а - обработчик не должен блокироваться надолго.
type Listener func(models.Tick)

// TickSink - куда хаб пишет каждый принятый тик помимо слушателей.
type TickSink interface {
	Put(tick models.Tick)
}

// WarmTickWriter - запись последнего тика в тёплый кэш; вызывается только
// когда LTP > 0, как того требует контракт
type WarmTickWriter interface {
	PutTick(ctx context.Context, tick models.Tick) error
}

// MarketFeedHub - единственное соединение с потоковым апстримом плюс
// fan-out broadcaster. Регистрация слушателей и рассылка тиков устроены по
// образцу register/unregister/broadcast из внутреннего websocket-хаба:
// короткий RLock для снимка получателей, рассылка без блокировки регистра.
type MarketFeedHub struct {
	transport Transport
	hot       TickSink
	warm      WarmTickWriter
	logger    *utils.Logger

	mu        sync.RWMutex
	listeners []Listener
	running   bool

	healthMu sync.RWMutex
	health   models.FeedHealth

	subMu      sync.Mutex
	subscribed map[models.InstrumentKey]Instrument
}

// NewMarketFeedHub собирает хаб из транспорта и мест записи тиков.
func NewMarketFeedHub(transport Transport, hot TickSink, warm WarmTickWriter, logger *utils.Logger) *MarketFeedHub {
	h := &MarketFeedHub{
		transport:  transport,
		hot:        hot,
		warm:       warm,
		logger:     logger,
		subscribed: make(map[models.InstrumentKey]Instrument),
	}
	transport.SetOnTick(h.handleTick)
	transport.SetOnConnect(h.handleConnect)
	transport.SetOnDisconnect(h.handleDisconnect)
	return h
}

// Start дозванивается до апстрима. При ошибке выполняет полный откат и
// возвращает false слушателю вызова - внутреннего retry нет; Supervisor.Start
// в этом случае тоже не повторяет попытку, а возвращает ошибку.
func (h *MarketFeedHub) Start(ctx context.Context) bool {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return true
	}
	h.mu.Unlock()

	if err := h.transport.Connect(ctx); err != nil {
		if h.logger != nil {
			h.logger.Error("market feed failed to start", utils.Err(err))
		}
		h.setState(models.FeedStateDisconnected)
		return false
	}

	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	return true
}

// Stop закрывает транспорт и помечает хаб неактивным.
func (h *MarketFeedHub) Stop() error {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
	h.setState(models.FeedStateDisconnected)
	return h.transport.Close()
}

// Running сообщает, запущен ли хаб (Start выполнен успешно и Stop не вызван).
func (h *MarketFeedHub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Connected - true, если тик наблюдался в последние 30 с, либо сам
// транспорт считает себя подключённым.
func (h *MarketFeedHub) Connected() bool {
	h.healthMu.RLock()
	last := h.health.LastTickAt
	h.healthMu.RUnlock()
	if !last.IsZero() && time.Since(last) <= staleWindow {
		return true
	}
	return h.transport.Connected()
}

// Health возвращает снимок FeedHealth.
func (h *MarketFeedHub) Health() models.FeedHealth {
	h.healthMu.RLock()
	defer h.healthMu.RUnlock()
	return h.health
}

// OnTick регистрирует слушателя, вызываемого на каждый принятый тик.
func (h *MarketFeedHub) OnTick(listener Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, listener)
}

// Subscribe идемпотентно подписывается на один или несколько инструментов;
// уже подписанные не переотправляются апстриму.
func (h *MarketFeedHub) Subscribe(ctx context.Context, instruments ...Instrument) error {
	if !h.Running() {
		return errs.ErrFeedNotRunning
	}

	h.subMu.Lock()
	var fresh []Instrument
	for _, inst := range instruments {
		key := inst.key()
		if _, ok := h.subscribed[key]; ok {
			continue
		}
		h.subscribed[key] = inst
		fresh = append(fresh, inst)
	}
	count := len(h.subscribed)
	h.subMu.Unlock()

	h.healthMu.Lock()
	h.health.SubscribedCount = count
	h.healthMu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return h.transport.Subscribe(ctx, fresh)
}

// Unsubscribe отписывается от инструментов, уже отсутствующие игнорируются.
func (h *MarketFeedHub) Unsubscribe(ctx context.Context, instruments ...Instrument) error {
	h.subMu.Lock()
	var toRemove []Instrument
	for _, inst := range instruments {
		key := inst.key()
		if _, ok := h.subscribed[key]; !ok {
			continue
		}
		delete(h.subscribed, key)
		toRemove = append(toRemove, inst)
	}
	count := len(h.subscribed)
	h.subMu.Unlock()

	h.healthMu.Lock()
	h.health.SubscribedCount = count
	h.healthMu.Unlock()

	if len(toRemove) == 0 {
		return nil
	}
	return h.transport.Unsubscribe(ctx, toRemove)
}

func (h *MarketFeedHub) setState(state models.FeedConnState) {
	h.healthMu.Lock()
	h.health.State = state
	h.healthMu.Unlock()
}

func (h *MarketFeedHub) handleConnect() {
	h.healthMu.Lock()
	if h.health.State == models.FeedStateReconnecting {
		h.health.ReconnectCount++
		h.health.LastReconnectAt = time.Now().UTC()
	}
	h.health.State = models.FeedStateConnected
	h.healthMu.Unlock()
}

func (h *MarketFeedHub) handleDisconnect(err error) {
	h.healthMu.Lock()
	h.health.State = models.FeedStateReconnecting
	h.healthMu.Unlock()
	if h.logger != nil && err != nil {
		h.logger.Warn("market feed transport disconnected", utils.Err(err))
	}
}

// handleTick - обработчик входящего тика от транспорта: пишет в горячий
// кэш, best-effort пишет в тёплый кэш (только при ltp > 0), обновляет
// здоровье и рассылает слушателям, изолируя их ошибки/паники.
func (h *MarketFeedHub) handleTick(tick models.Tick) {
	if !tick.Valid() {
		return
	}

	h.hot.Put(tick)

	if tick.LTP.IsPositive() && h.warm != nil {
		if err := h.warm.PutTick(context.Background(), tick); err != nil && h.logger != nil {
			h.logger.Debug("warm tick write failed", utils.Err(err), utils.String("security_id", tick.SecurityID))
		}
	}

	h.healthMu.Lock()
	h.health.LastTickAt = time.Now().UTC()
	h.healthMu.Unlock()

	h.mu.RLock()
	listeners := make([]Listener, len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.RUnlock()

	for _, listener := range listeners {
		h.safeDeliver(listener, tick)
	}
}

// safeDeliver вызывает слушателя, изолируя панику - один сломанный
// обработчик не должен уронить broadcaster.
func (h *MarketFeedHub) safeDeliver(listener Listener, tick models.Tick) {
	defer func() {
		if r := recover(); r != nil && h.logger != nil {
			h.logger.Error("market feed listener panicked", utils.Any("recover", r))
		}
	}()
	listener(tick)
}
