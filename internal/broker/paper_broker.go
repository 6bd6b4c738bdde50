package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/riskcore/internal/errs"
	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/pkg/retry"
)

// LTPLookup resolves the last traded price for an instrument - backed in
// production by the hot TickCache.
type LTPLookup func(segment models.Segment, securityID string) (decimal.Decimal, bool)

// paperRPCRetry - политика ретраев на Gateway-методах PaperBroker:
// короткие задержки, рассчитанные на то, что цена появится в hot-кэше в
// пределах нескольких миллисекунд, а не на сетевой сбой.
var paperRPCRetry = retry.Config{
	MaxRetries:   3,
	InitialDelay: 5 * time.Millisecond,
	MaxDelay:     50 * time.Millisecond,
	Multiplier:   2,
	JitterFactor: 0.1,
	RetryIf:      retry.RetryIfNotContext,
}

// PaperBroker simula исполнение заявок без реального брокера: заявки
// исполняются мгновенно по последней известной цене, позиции и PnL
// накапливаются в памяти. Идемпотентность place_market обеспечивается
// дедупликацией по client_order_id. Каждый метод Gateway обёрнут
// retry.DoWithResult: симулятор не знает сетевых сбоев, но резолюция LTP
// может промахнуться, если hot-кэш ещё не успел получить свежий тик -
// те же методы на живом брокере столкнутся с настоящими транзиентными
// ошибками, так что обёртка остаётся полезной при замене реализации.
type PaperBroker struct {
	ltp LTPLookup

	mu         sync.Mutex
	positions  map[models.InstrumentKey]*PositionSnapshot
	orders     map[string]*PlaceMarketResult // client_order_id -> результат
	stopLosses map[int64]decimal.Decimal     // tracker_id -> текущий симулированный SL
	cash       decimal.Decimal
}

// NewPaperBroker создаёт PaperBroker со стартовым капиталом startCash.
func NewPaperBroker(ltp LTPLookup, startCash decimal.Decimal) *PaperBroker {
	return &PaperBroker{
		ltp:        ltp,
		positions:  make(map[models.InstrumentKey]*PositionSnapshot),
		orders:     make(map[string]*PlaceMarketResult),
		stopLosses: make(map[int64]decimal.Decimal),
		cash:       startCash,
	}
}

// AmendStopLoss симулирует перенос защитной заявки: у paper-брокера нет
// реального SL-ордера на стороне биржи, поэтому перенос - это просто
// запоминание нового уровня для диагностики. Фактическое срабатывание SL
// для paper-трекеров определяет StopLossRule по pnl_pct позиции (от
// PositionData.EntryPrice и текущего LTP), а не эта заявка.
func (p *PaperBroker) AmendStopLoss(_ context.Context, tracker *models.Tracker, newSL decimal.Decimal) error {
	if tracker == nil {
		return errs.ErrTrackerNotFound
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLosses[tracker.ID] = newSL
	return nil
}

func (p *PaperBroker) resolveLTP(segment models.Segment, securityID string) (decimal.Decimal, error) {
	if p.ltp == nil {
		return decimal.Zero, errs.ErrNoTick
	}
	price, ok := p.ltp(segment, securityID)
	if !ok || price.IsZero() {
		return decimal.Zero, errs.ErrNoTick
	}
	return price, nil
}

// PlaceMarket исполняет рыночную заявку немедленно по текущему LTP.
// Повторный вызов с тем же client_order_id возвращает прежний результат
// без повторного исполнения.
func (p *PaperBroker) PlaceMarket(ctx context.Context, req PlaceMarketRequest) (*PlaceMarketResult, error) {
	return retry.DoWithResult(ctx, func() (*PlaceMarketResult, error) {
		return p.placeMarketOnce(req)
	}, paperRPCRetry)
}

func (p *PaperBroker) placeMarketOnce(req PlaceMarketRequest) (*PlaceMarketResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req.ClientOrderID != "" {
		if existing, ok := p.orders[req.ClientOrderID]; ok {
			return existing, nil
		}
	}

	price, err := p.resolveLTP(req.Segment, req.SecurityID)
	if err != nil {
		return nil, err
	}

	key := models.InstrumentKey{Segment: req.Segment, SecurityID: req.SecurityID}
	pos, ok := p.positions[key]
	if !ok {
		pos = &PositionSnapshot{}
		p.positions[key] = pos
	}

	signedQty := req.Quantity
	if req.Side == models.TransactionSell {
		signedQty = -req.Quantity
	}

	switch {
	case pos.Quantity == 0:
		pos.Quantity = signedQty
		pos.AvgPrice = price
	case (pos.Quantity > 0) == (signedQty > 0):
		totalQty := pos.Quantity + signedQty
		pos.AvgPrice = weightedAverage(pos.AvgPrice, pos.Quantity, price, signedQty)
		pos.Quantity = totalQty
	default:
		closing := signedQty
		if abs(signedQty) > abs(pos.Quantity) {
			closing = -pos.Quantity
		}
		realized := price.Sub(pos.AvgPrice).Mul(decimal.NewFromInt(int64(-closing)))
		pos.RealizedPnl = pos.RealizedPnl.Add(realized)
		pos.Quantity += signedQty
		if pos.Quantity == 0 {
			pos.AvgPrice = decimal.Zero
		}
	}
	pos.LastLTP = price

	result := &PlaceMarketResult{OrderID: orderID()}
	if req.ClientOrderID != "" {
		p.orders[req.ClientOrderID] = result
	}
	return result, nil
}

// FlatPosition закрывает всю позицию по текущему LTP рыночной заявкой
// противоположной стороны - симулированная цена выхода.
func (p *PaperBroker) FlatPosition(ctx context.Context, segment models.Segment, securityID string) (*FlatPositionResult, error) {
	return retry.DoWithResult(ctx, func() (*FlatPositionResult, error) {
		return p.flatPositionOnce(segment, securityID)
	}, paperRPCRetry)
}

func (p *PaperBroker) flatPositionOnce(segment models.Segment, securityID string) (*FlatPositionResult, error) {
	p.mu.Lock()
	key := models.InstrumentKey{Segment: segment, SecurityID: securityID}
	pos, ok := p.positions[key]
	qty := 0
	if ok {
		qty = pos.Quantity
	}
	p.mu.Unlock()

	if qty == 0 {
		return &FlatPositionResult{}, nil
	}

	side := models.TransactionSell
	if qty < 0 {
		side = models.TransactionBuy
	}

	result, err := p.placeMarketOnce(PlaceMarketRequest{
		Side:       side,
		Segment:    segment,
		SecurityID: securityID,
		Quantity:   abs(qty),
	})
	if err != nil {
		return nil, err
	}

	price, _ := p.resolveLTP(segment, securityID)
	return &FlatPositionResult{OrderID: result.OrderID, ExitPrice: price}, nil
}

// Position возвращает снимок симулированной позиции.
func (p *PaperBroker) Position(_ context.Context, segment models.Segment, securityID string) (*PositionSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := models.InstrumentKey{Segment: segment, SecurityID: securityID}
	pos, ok := p.positions[key]
	if !ok {
		return &PositionSnapshot{}, nil
	}
	copy := *pos
	return &copy, nil
}

// WalletSnapshot возвращает симулированное состояние счёта.
func (p *PaperBroker) WalletSnapshot(_ context.Context) (*WalletSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	exposure := decimal.Zero
	mtm := decimal.Zero
	for _, pos := range p.positions {
		exposure = exposure.Add(pos.AvgPrice.Mul(decimal.NewFromInt(int64(abs(pos.Quantity)))))
		mtm = mtm.Add(pos.RealizedPnl).Add(pos.UnrealizedPnl)
	}
	return &WalletSnapshot{Cash: p.cash, Equity: p.cash.Add(mtm), MTM: mtm, Exposure: exposure}, nil
}

// LTPBatch резолвит LTP для набора инструментов, группированных по
// сегменту. Если ни один инструмент из запроса не резолвится (hot-кэш ещё
// не получил ни одного тика), возвращает errs.ErrNoTick - тогда retry
// вокруг вызова даёт кэшу шанс догнать перед тем, как вызывающая сторона
// (RiskManager/EntryGuard) сдастся.
func (p *PaperBroker) LTPBatch(ctx context.Context, bySegment map[models.Segment][]string) (map[models.Segment]map[string]decimal.Decimal, error) {
	return retry.DoWithResult(ctx, func() (map[models.Segment]map[string]decimal.Decimal, error) {
		return p.ltpBatchOnce(bySegment)
	}, paperRPCRetry)
}

func (p *PaperBroker) ltpBatchOnce(bySegment map[models.Segment][]string) (map[models.Segment]map[string]decimal.Decimal, error) {
	out := make(map[models.Segment]map[string]decimal.Decimal, len(bySegment))
	requested, resolved := 0, 0
	for segment, ids := range bySegment {
		inner := make(map[string]decimal.Decimal, len(ids))
		for _, id := range ids {
			requested++
			if price, err := p.resolveLTP(segment, id); err == nil {
				inner[id] = price
				resolved++
			}
		}
		out[segment] = inner
	}
	if requested > 0 && resolved == 0 {
		return out, errs.ErrNoTick
	}
	return out, nil
}

func weightedAverage(price1 decimal.Decimal, qty1 int, price2 decimal.Decimal, qty2 int) decimal.Decimal {
	totalQty := qty1 + qty2
	if totalQty == 0 {
		return decimal.Zero
	}
	weighted := price1.Mul(decimal.NewFromInt(int64(qty1))).Add(price2.Mul(decimal.NewFromInt(int64(qty2))))
	return weighted.Div(decimal.NewFromInt(int64(totalQty)))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func orderID() string {
	return fmt.Sprintf("PAPER-%s", uuid.NewString())
}
