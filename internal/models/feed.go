package models

import "time"

// FeedConnState - состояние соединения MarketFeedHub с апстримом.
type FeedConnState string

const (
	FeedStateDisconnected FeedConnState = "disconnected"
	FeedStateConnecting   FeedConnState = "connecting"
	FeedStateConnected    FeedConnState = "connected"
	FeedStateReconnecting FeedConnState = "reconnecting"
)

// FeedHealth - снимок состояния потокового фида: используется админ-ручкой
// /healthz и правилом, которое решает, доверять ли свежести последнего
// тика.
type FeedHealth struct {
	State            FeedConnState
	SubscribedCount  int
	LastTickAt       time.Time
	LastReconnectAt  time.Time
	ReconnectCount   int
	DroppedTickCount int64
}

// Stale сообщает, не превышает ли возраст последнего тика maxAge
// относительно now - используется как предохранитель перед принятием
// решений на устаревших данных.
func (h FeedHealth) Stale(now time.Time, maxAge time.Duration) bool {
	if h.LastTickAt.IsZero() {
		return true
	}
	return now.Sub(h.LastTickAt) > maxAge
}

// Connected сообщает, находится ли соединение в рабочем состоянии.
func (h FeedHealth) Connected() bool {
	return h.State == FeedStateConnected
}
