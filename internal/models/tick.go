package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Segment - сегмент биржи, на которой торгуется инструмент, короткие коды
// брокера (совпадают с потоковым фидом и API заявок).
type Segment string

const (
	SegmentIndex   Segment = "IDX_I" // индексный фид (NIFTY, BANKNIFTY spot)
	SegmentNSEFnO  Segment = "NSE_FNO"
	SegmentBSEFnO  Segment = "BSE_FNO"
	SegmentNSEEq   Segment = "NSE_EQ"
	SegmentMCXComm Segment = "MCX_COMM"
)

// TickKind отличает торгуемый LTP-тик от прочих пакетов, которые
// мультиплексирует входящее соединение (quote, OI, prev-close, …).
// Риск-ядро реагирует только на TickKindLTP, остальные виды нужны лишь
// для проверки свежести данных.
type TickKind string

const (
	TickKindLTP       TickKind = "ltp"
	TickKindQuote     TickKind = "quote"
	TickKindOI        TickKind = "oi"
	TickKindPrevClose TickKind = "prev_close"
)

// Tick - одно обновление цены для пары (segment, security id).
type Tick struct {
	Segment    Segment
	SecurityID string
	LTP        decimal.Decimal
	Kind       TickKind
	Ts         int64 // epoch-секунды от брокера
}

// Key возвращает ключ hot-cache / warm-cache для этого тика.
func (t Tick) Key() InstrumentKey {
	return InstrumentKey{Segment: t.Segment, SecurityID: t.SecurityID}
}

// Valid сообщает, несёт ли тик неотрицательную цену и адресован ли он
// известному инструменту.
func (t Tick) Valid() bool {
	return t.SecurityID != "" && t.Segment != "" && !t.LTP.IsNegative()
}

// ReceivedAt конвертирует Ts в time.Time в UTC; нулевой Ts даёт нулевое
// время, так что проверки устаревания трактуют его как "ещё не видели".
func (t Tick) ReceivedAt() time.Time {
	if t.Ts <= 0 {
		return time.Time{}
	}
	return time.Unix(t.Ts, 0).UTC()
}

// InstrumentKey идентифицирует инструмент парой (segment, security id) -
// это адресная схема брокера. Используется как ключ TickCache и как
// суффикс ключа warm-cache.
type InstrumentKey struct {
	Segment    Segment
	SecurityID string
}

func (k InstrumentKey) String() string {
	return string(k.Segment) + ":" + k.SecurityID
}
