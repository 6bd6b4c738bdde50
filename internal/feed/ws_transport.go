package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/riskcore/internal/models"
)

// WSTransportConfig параметры переподключения для WSTransport. Значения по
// умолчанию задают экспоненциальный backoff 2s, 4s, 8s, 16s.
type WSTransportConfig struct {
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// DefaultWSTransportConfig возвращает параметры переподключения по умолчанию.
func DefaultWSTransportConfig() WSTransportConfig {
	return WSTransportConfig{
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
	}
}

// wireState - внутреннее состояние WS соединения, атомарно читаемое/
// записываемое из нескольких горутин.
type wireState int32

const (
	wireDisconnected wireState = iota
	wireConnecting
	wireConnected
	wireClosed
)

// wireTick - проводной формат одного обновления цены от брокера.
type wireTick struct {
	Segment    string `json:"segment"`
	SecurityID string `json:"security_id"`
	LTP        string `json:"ltp"`
	Kind       string `json:"kind"`
	Ts         int64  `json:"ts"`
}

// wireSubscribe - формат сообщения подписки/отписки, отправляемого апстриму.
type wireSubscribe struct {
	Action      string       `json:"action"`
	Instruments []wireSymbol `json:"instruments"`
}

type wireSymbol struct {
	ExchangeSegment string `json:"exchange_segment"`
	SecurityID      string `json:"security_id"`
}

// WSTransport - реализация Transport поверх gorilla/websocket с
// автоматическим переподключением и восстановлением подписок. Каждый вызов
// Subscribe/Unsubscribe дополнительно запоминает инструмент, чтобы dial()
// мог переподписаться после реконнекта.
type WSTransport struct {
	url    string
	header map[string][]string
	config WSTransportConfig

	conn   *websocket.Conn
	connMu sync.RWMutex

	state      int32
	closeChan  chan struct{}
	closeOnce  sync.Once

	subscribed   map[models.InstrumentKey]Instrument
	subscribedMu sync.RWMutex

	onTick       func(models.Tick)
	onConnect    func()
	onDisconnect func(error)
	callbackMu   sync.RWMutex
}

// NewWSTransport создаёт WSTransport для заданного URL апстрима.
func NewWSTransport(url string, header map[string][]string, config WSTransportConfig) *WSTransport {
	return &WSTransport{
		url:        url,
		header:     header,
		config:     config,
		closeChan:  make(chan struct{}),
		subscribed: make(map[models.InstrumentKey]Instrument),
	}
}

func (t *WSTransport) setState(s wireState) { atomic.StoreInt32(&t.state, int32(s)) }
func (t *WSTransport) getState() wireState  { return wireState(atomic.LoadInt32(&t.state)) }

// Connected сообщает, активно ли соединение прямо сейчас.
func (t *WSTransport) Connected() bool {
	return t.getState() == wireConnected
}

func (t *WSTransport) SetOnTick(handler func(models.Tick)) {
	t.callbackMu.Lock()
	t.onTick = handler
	t.callbackMu.Unlock()
}

func (t *WSTransport) SetOnConnect(handler func()) {
	t.callbackMu.Lock()
	t.onConnect = handler
	t.callbackMu.Unlock()
}

func (t *WSTransport) SetOnDisconnect(handler func(error)) {
	t.callbackMu.Lock()
	t.onDisconnect = handler
	t.callbackMu.Unlock()
}

// Connect дозванивается до апстрима и поднимает readPump/pingPump.
// Переподключение после разрыва выполняется внутренне, в фоне.
func (t *WSTransport) Connect(ctx context.Context) error {
	select {
	case <-t.closeChan:
		return fmt.Errorf("transport is closed")
	default:
	}

	t.setState(wireConnecting)
	if err := t.dial(ctx); err != nil {
		t.setState(wireDisconnected)
		return err
	}
	t.setState(wireConnected)

	t.callbackMu.RLock()
	onConnect := t.onConnect
	t.callbackMu.RUnlock()
	if onConnect != nil {
		onConnect()
	}

	go t.readPump()
	go t.pingPump()
	return nil
}

func (t *WSTransport) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: t.config.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, t.url, t.header)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	if err := t.resubscribe(); err != nil {
		// подписки можно восстановить на следующем тике обслуживания -
		// не проваливаем всё подключение из-за этого
		return nil
	}
	return nil
}

func (t *WSTransport) resubscribe() error {
	t.subscribedMu.RLock()
	instruments := make([]Instrument, 0, len(t.subscribed))
	for _, inst := range t.subscribed {
		instruments = append(instruments, inst)
	}
	t.subscribedMu.RUnlock()

	if len(instruments) == 0 {
		return nil
	}
	return t.send(wireSubscribe{Action: "subscribe", Instruments: toWireSymbols(instruments)})
}

func toWireSymbols(instruments []Instrument) []wireSymbol {
	out := make([]wireSymbol, 0, len(instruments))
	for _, inst := range instruments {
		out = append(out, wireSymbol{ExchangeSegment: string(inst.Segment), SecurityID: inst.SecurityID})
	}
	return out
}

func (t *WSTransport) send(msg interface{}) error {
	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.WriteJSON(msg)
}

// Subscribe отправляет запрос подписки пакетами не длиннее maxBatchSize и
// запоминает инструменты для восстановления после реконнекта.
func (t *WSTransport) Subscribe(_ context.Context, instruments []Instrument) error {
	t.subscribedMu.Lock()
	for _, inst := range instruments {
		t.subscribed[inst.key()] = inst
	}
	t.subscribedMu.Unlock()

	for _, batch := range batches(instruments) {
		if err := t.send(wireSubscribe{Action: "subscribe", Instruments: toWireSymbols(batch)}); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe отправляет запрос отписки пакетами не длиннее maxBatchSize.
func (t *WSTransport) Unsubscribe(_ context.Context, instruments []Instrument) error {
	t.subscribedMu.Lock()
	for _, inst := range instruments {
		delete(t.subscribed, inst.key())
	}
	t.subscribedMu.Unlock()

	for _, batch := range batches(instruments) {
		if err := t.send(wireSubscribe{Action: "unsubscribe", Instruments: toWireSymbols(batch)}); err != nil {
			return err
		}
	}
	return nil
}

func (t *WSTransport) readPump() {
	defer t.handleDisconnect(nil)
	for {
		select {
		case <-t.closeChan:
			return
		default:
		}

		t.connMu.RLock()
		conn := t.conn
		t.connMu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			t.handleDisconnect(err)
			return
		}

		var wt wireTick
		if err := json.Unmarshal(message, &wt); err != nil {
			continue
		}
		ltp, _ := decimal.NewFromString(wt.LTP)
		tick := models.Tick{
			Segment:    models.Segment(wt.Segment),
			SecurityID: wt.SecurityID,
			LTP:        ltp,
			Kind:       models.TickKind(wt.Kind),
			Ts:         wt.Ts,
		}
		if tick.Kind == "" {
			tick.Kind = models.TickKindLTP
		}

		t.callbackMu.RLock()
		onTick := t.onTick
		t.callbackMu.RUnlock()
		if onTick != nil {
			onTick(tick)
		}
	}
}

func (t *WSTransport) pingPump() {
	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closeChan:
			return
		case <-ticker.C:
			if t.getState() != wireConnected {
				return
			}
			t.connMu.RLock()
			conn := t.conn
			t.connMu.RUnlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(t.config.PongTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.handleDisconnect(err)
				return
			}
		}
	}
}

func (t *WSTransport) handleDisconnect(err error) {
	select {
	case <-t.closeChan:
		return
	default:
	}

	state := t.getState()
	if state == wireClosed {
		return
	}
	t.setState(wireDisconnected)

	t.connMu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.connMu.Unlock()

	t.callbackMu.RLock()
	onDisconnect := t.onDisconnect
	t.callbackMu.RUnlock()
	if onDisconnect != nil {
		onDisconnect(err)
	}

	go t.reconnectLoop()
}

func (t *WSTransport) reconnectLoop() {
	delay := t.config.InitialDelay
	for {
		select {
		case <-t.closeChan:
			return
		default:
		}

		select {
		case <-t.closeChan:
			return
		case <-time.After(delay):
		}

		if err := t.dial(context.Background()); err != nil {
			delay *= 2
			if delay > t.config.MaxDelay {
				delay = t.config.MaxDelay
			}
			continue
		}

		t.setState(wireConnected)
		t.callbackMu.RLock()
		onConnect := t.onConnect
		t.callbackMu.RUnlock()
		if onConnect != nil {
			onConnect()
		}

		go t.readPump()
		go t.pingPump()
		return
	}
}

// Close закрывает соединение и останавливает все фоновые горутины.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closeChan) })
	t.setState(wireClosed)

	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}
