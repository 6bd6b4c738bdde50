// Package entry реализует EntryGuard - единственную точку допуска новых
// позиций. Каждый шаг может отказать независимо; любой
// отказ возвращает false без паники и без изменения состояния.
package entry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/riskcore/internal/broker"
	"github.com/shubhamtaywade82/riskcore/internal/cache"
	"github.com/shubhamtaywade82/riskcore/internal/config"
	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/pkg/ratelimit"
	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

// Pick - кандидат на вход: конкретный инструмент (опционная нога), который
// нужно проверить и, при успехе, купить.
type Pick struct {
	SecurityID   string
	Segment      models.Segment
	Symbol       string
	UnderlyingID string
	LTP          decimal.Decimal // может быть нулевым, если ещё неизвестен
}

// IndexConfig - конфигурация индекса, на котором открывается позиция;
// Name используется как индекс для client-order-id и для daily-limits.
type IndexConfig struct {
	Name string
}

// CapitalAllocator вычисляет размер позиции - внешняя зависимость (risk
// sizing живёт вне этого пакета).
type CapitalAllocator interface {
	Allocate(ctx context.Context, pick Pick, direction models.PositionDirection, scaleMultiplier float64) (int, error)
}

// TrackerCreator персистирует новый трекер в статусе pending.
type TrackerCreator interface {
	Create(ctx context.Context, tracker *models.Tracker) (int64, error)
}

// FeedStatus сообщает, подключён ли рыночный фид - используется, чтобы
// решить, доверять ли pick.LTP или идти за котировкой к брокеру.
type FeedStatus interface {
	Connected() bool
}

// ExposureQuery возвращает активные трекеры того же (instrument, side) -
// для проверки exposure_ok?/pyramiding_allowed?.
type ExposureQuery interface {
	ActiveSameSide(ctx context.Context, segment models.Segment, securityID string, side models.Side) ([]*models.Tracker, error)
}

const cooldownKeyPrefix = "entry_guard:cooldown:"

// Guard - EntryGuard.
type Guard struct {
	gateway    broker.Gateway
	allocator  CapitalAllocator
	creator    TrackerCreator
	exposure   ExposureQuery
	feed       FeedStatus
	cooldown   cache.WarmStore
	logger     *utils.Logger
	ltpLimiter *ratelimit.RateLimiter
}

// NewGuard собирает EntryGuard. feed может быть nil (тогда pick.LTP всегда
// считается достаточным, если положителен). ltpLimiter ограничивает частоту
// обращений к gateway.LTPBatch при разрешении инструмента - при высокой
// частоте входных сигналов это тот же broker quote RPC, что и в цикле
// RiskManager, и заслуживает того же троттлинга.
func NewGuard(gateway broker.Gateway, allocator CapitalAllocator, creator TrackerCreator, exposure ExposureQuery, feed FeedStatus, cooldown cache.WarmStore, logger *utils.Logger) *Guard {
	return &Guard{
		gateway:    gateway,
		allocator:  allocator,
		creator:    creator,
		exposure:   exposure,
		feed:       feed,
		cooldown:   cooldown,
		logger:     logger,
		ltpLimiter: ratelimit.NewRateLimiter(10, 20),
	}
}

// TryEnter реализует последовательность допуска нового входа. Возвращает
// true только если заявка была принята брокером и трекер создан.
func (g *Guard) TryEnter(ctx context.Context, indexCfg IndexConfig, pick Pick, direction models.PositionDirection, scaleMultiplier float64, cfg config.RiskConfig) bool {
	if pick.SecurityID == "" || pick.Segment == "" || pick.Symbol == "" {
		g.warn("instrument unresolved", pick)
		return false
	}

	side := sideForDirection(direction)

	if !g.exposureOK(ctx, pick, side, cfg) {
		return false
	}

	if g.cooldownActive(ctx, pick.Symbol, cfg.CooldownSec) {
		g.warn("cooldown active", pick)
		return false
	}

	ltp, ok := g.resolveLTP(ctx, pick)
	if !ok {
		g.warn("unable to resolve ltp", pick)
		return false
	}

	qty := 0
	if g.allocator != nil {
		var err error
		qty, err = g.allocator.Allocate(ctx, pick, direction, scaleMultiplier)
		if err != nil {
			g.warn("capital allocator failed", pick)
			return false
		}
	}
	if qty <= 0 {
		g.warn("non-positive quantity", pick)
		return false
	}

	clientOrderID := buildClientOrderID(indexCfg.Name, pick.SecurityID, time.Now())
	if err := utils.ValidateClientOrderID(clientOrderID); err != nil {
		g.warn("client order id invalid", pick)
		return false
	}

	result, err := g.gateway.PlaceMarket(ctx, broker.PlaceMarketRequest{
		Side:          models.TransactionBuy,
		Segment:       pick.Segment,
		SecurityID:    pick.SecurityID,
		Quantity:      qty,
		ClientOrderID: clientOrderID,
		Meta:          map[string]interface{}{"index": indexCfg.Name},
	})
	if err != nil || result == nil || result.OrderID == "" {
		g.warn("broker rejected order", pick)
		return false
	}

	tracker := &models.Tracker{
		OrderNo:    result.OrderID,
		SecurityID: pick.SecurityID,
		Segment:    pick.Segment,
		Symbol:     pick.Symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: ltp,
		Status:     models.StatusPending,
		Meta:       map[string]string{"index": indexCfg.Name},
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	if g.creator != nil {
		if _, err := g.creator.Create(ctx, tracker); err != nil {
			g.warn("failed to persist tracker", pick)
			return false
		}
	}

	g.recordCooldown(ctx, pick.Symbol)
	return true
}

func sideForDirection(direction models.PositionDirection) models.Side {
	if direction == models.DirectionBearish {
		return models.SideLongPE
	}
	return models.SideLongCE
}

func (g *Guard) exposureOK(ctx context.Context, pick Pick, side models.Side, cfg config.RiskConfig) bool {
	if g.exposure == nil {
		return true
	}
	maxSameSide := cfg.MaxSameSide
	if maxSameSide <= 0 {
		maxSameSide = 1
	}

	existing, err := g.exposure.ActiveSameSide(ctx, pick.Segment, pick.SecurityID, side)
	if err != nil {
		g.warn("exposure query failed", pick)
		return false
	}

	if len(existing) >= maxSameSide {
		return false
	}
	if len(existing) == 1 {
		first := existing[0]
		profitable := first.LastPnlRupees.IsPositive()
		longEnough := !first.CreatedAt.IsZero() && time.Since(first.CreatedAt) >= cfg.PyramidMinProfitWindow
		if !profitable || !longEnough {
			return false
		}
	}
	return true
}

func (g *Guard) cooldownActive(ctx context.Context, symbol string, cooldownSec int) bool {
	if g.cooldown == nil || cooldownSec <= 0 {
		return false
	}
	raw, err := g.cooldown.Get(ctx, cooldownKeyPrefix+symbol)
	if err != nil {
		return false
	}
	last, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return time.Since(time.Unix(last, 0)) < time.Duration(cooldownSec)*time.Second
}

func (g *Guard) recordCooldown(ctx context.Context, symbol string) {
	if g.cooldown == nil {
		return
	}
	_ = g.cooldown.Set(ctx, cooldownKeyPrefix+symbol, strconv.FormatInt(time.Now().Unix(), 10), 0)
}

func (g *Guard) resolveLTP(ctx context.Context, pick Pick) (decimal.Decimal, bool) {
	preferPickLTP := pick.LTP.IsPositive()
	if g.feed != nil && !g.feed.Connected() {
		preferPickLTP = false
	}
	if preferPickLTP {
		return pick.LTP, true
	}
	if g.gateway == nil {
		return decimal.Zero, false
	}
	if err := g.ltpLimiter.Wait(ctx); err != nil {
		return decimal.Zero, false
	}

	quotes, err := g.gateway.LTPBatch(ctx, map[models.Segment][]string{pick.Segment: {pick.SecurityID}})
	if err != nil {
		return decimal.Zero, false
	}
	bySecurity, ok := quotes[pick.Segment]
	if !ok {
		return decimal.Zero, false
	}
	price, ok := bySecurity[pick.SecurityID]
	if !ok || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}

// buildClientOrderID формирует id вида AS-{KEY0..3}-{SID}-{last6(unix_ts)},
// укладывающийся в лимит брокера (25 символов)
func buildClientOrderID(indexName, securityID string, now time.Time) string {
	key := indexName
	if len(key) > 4 {
		key = key[:4]
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	if len(ts) > 6 {
		ts = ts[len(ts)-6:]
	}
	sid := securityID
	if len(sid) > 8 {
		sid = sid[:8]
	}
	return fmt.Sprintf("AS-%s-%s-%s", key, sid, ts)
}

func (g *Guard) warn(msg string, pick Pick) {
	if g.logger == nil {
		return
	}
	g.logger.Warn("entry guard rejected pick",
		utils.String("reason", msg),
		utils.String("security_id", pick.SecurityID),
		utils.String("symbol", pick.Symbol))
}
