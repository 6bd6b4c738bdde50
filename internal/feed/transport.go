package feed

import (
	"context"

	"github.com/shubhamtaywade82/riskcore/internal/models"
)

// Instrument адресует один инструмент для подписки/отписки у апстрима -
// повторяет адресную схему брокера (Segment + SecurityID), как и
// InstrumentKey из internal/models.
type Instrument struct {
	Segment    models.Segment
	SecurityID string
}

func (i Instrument) key() models.InstrumentKey {
	return models.InstrumentKey{Segment: i.Segment, SecurityID: i.SecurityID}
}

// maxBatchSize - верхняя граница инструментов в одном сообщении подписки.
const maxBatchSize = 100

// Transport - низкоуровневое потоковое соединение с апстримом брокера.
// MarketFeedHub не знает ничего о проводном протоколе; Transport отвечает
// за дозвон, переподписку после реконнекта и демультиплексацию тиков.
type Transport interface {
	// Connect устанавливает соединение. Блокирует, пока не установлено
	// или не истёк контекст.
	Connect(ctx context.Context) error
	// Close закрывает соединение и останавливает фоновые горутины.
	Close() error
	// Subscribe отправляет апстриму запрос подписки на инструменты.
	Subscribe(ctx context.Context, instruments []Instrument) error
	// Unsubscribe отправляет апстриму запрос отписки от инструментов.
	Unsubscribe(ctx context.Context, instruments []Instrument) error
	// SetOnTick регистрирует обработчик входящих тиков.
	SetOnTick(handler func(models.Tick))
	// SetOnConnect регистрирует обработчик успешного (пере)подключения.
	SetOnConnect(handler func())
	// SetOnDisconnect регистрирует обработчик разрыва соединения.
	SetOnDisconnect(handler func(error))
	// Connected сообщает, считает ли сам транспорт себя подключённым.
	Connected() bool
}

// batches разбивает список инструментов на пакеты не длиннее maxBatchSize.
func batches(instruments []Instrument) [][]Instrument {
	if len(instruments) == 0 {
		return nil
	}
	var out [][]Instrument
	for start := 0; start < len(instruments); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(instruments) {
			end = len(instruments)
		}
		out = append(out, instruments[start:end])
	}
	return out
}
