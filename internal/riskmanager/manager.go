// Package riskmanager реализует центральный цикл управления риском -
// тикер-движок, который на каждом проходе прогоняет открытые позиции
// через RuleEngine и TrailingEngine, обслуживает ActiveCache/тёплый кэш и
// обновляет paper-PnL пакетно.
package riskmanager

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/riskcore/internal/broker"
	"github.com/shubhamtaywade82/riskcore/internal/cache"
	"github.com/shubhamtaywade82/riskcore/internal/config"
	"github.com/shubhamtaywade82/riskcore/internal/edge"
	"github.com/shubhamtaywade82/riskcore/internal/exit"
	"github.com/shubhamtaywade82/riskcore/internal/feed"
	"github.com/shubhamtaywade82/riskcore/internal/metrics"
	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/internal/position"
	"github.com/shubhamtaywade82/riskcore/internal/regime"
	"github.com/shubhamtaywade82/riskcore/internal/risk"
	"github.com/shubhamtaywade82/riskcore/internal/trailing"
	"github.com/shubhamtaywade82/riskcore/pkg/ratelimit"
	"github.com/shubhamtaywade82/riskcore/pkg/retry"
	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

// TrackerRepository - доступ к персистентным трекерам для цикла
// RiskManager'а: список активных id и пакетное чтение строк по id -
// в пределах одного прохода каждый трекер читается из БД не более раза.
type TrackerRepository interface {
	ActiveTrackers(ctx context.Context) ([]*models.Tracker, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]*models.Tracker, error)
}

// FeedSubscriber - минимальная поверхность MarketFeedHub, нужная циклу:
// состояние подключения и (ре)подписка при обслуживании.
type FeedSubscriber interface {
	Connected() bool
	Health() models.FeedHealth
	Subscribe(ctx context.Context, instruments ...feed.Instrument) error
}

// UnderlyingExitRule обращается к risk.UnderlyingMonitor - сигналы базового
// актива поставляются снаружи пакета и передаются в Manager целиком.

// Config - параметры конструктора Manager помимо зависимостей-интерфейсов.
type Config struct {
	Risk              config.RiskConfig
	Regimes           map[string]models.RegimeWindow
	FeatureFlags      config.FeatureFlags
	PaperTrading      config.PaperTradingConfig
	MaintenanceEvery  time.Duration
	MarketClosedSleep time.Duration
}

// Manager - RiskManager: драйвер-цикл, владеющий кадансом idle/active и
// координирующий RuleEngine, TrailingEngine, ExitEngine и обслуживание
// кэшей.
type Manager struct {
	repo       TrackerRepository
	active     *position.ActiveCache
	warm       *cache.WarmCache
	feedHub    FeedSubscriber
	gateway    broker.Gateway
	ruleEngine *risk.Engine
	exitEngine *exit.Engine
	trailing   *trailing.Engine
	edge       *edge.Detector
	underlying risk.UnderlyingMonitor
	logger     *utils.Logger
	cfg        Config

	breaker         *quoteCircuitBreaker
	quoteLimiter    *ratelimit.RateLimiter
	lastMaintenance time.Time
}

// NewManager собирает Manager. underlying может быть nil (UnderlyingExit
// тогда всегда Skip, даже если флаг enable_underlying_aware_exits включён).
func NewManager(
	repo TrackerRepository,
	active *position.ActiveCache,
	warm *cache.WarmCache,
	feedHub FeedSubscriber,
	gateway broker.Gateway,
	ruleEngine *risk.Engine,
	exitEngine *exit.Engine,
	trailingEngine *trailing.Engine,
	edgeDetector *edge.Detector,
	underlying risk.UnderlyingMonitor,
	logger *utils.Logger,
	cfg Config,
) *Manager {
	if cfg.MaintenanceEvery <= 0 {
		cfg.MaintenanceEvery = 5 * time.Second
	}
	if cfg.MarketClosedSleep <= 0 {
		cfg.MarketClosedSleep = 60 * time.Second
	}
	return &Manager{
		repo:         repo,
		active:       active,
		warm:         warm,
		feedHub:      feedHub,
		gateway:      gateway,
		ruleEngine:   ruleEngine,
		exitEngine:   exitEngine,
		trailing:     trailingEngine,
		edge:         edgeDetector,
		underlying:   underlying,
		logger:       logger,
		cfg:          cfg,
		breaker:      newQuoteCircuitBreaker(5, 60*time.Second),
		quoteLimiter: ratelimit.NewRateLimiter(5, 10),
	}
}

// Run запускает цикл до отмены ctx. Каданс переключается между
// loop_interval_idle и loop_interval_active в зависимости от того, есть ли
// открытые позиции.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.Risk.LoopIntervalIdle
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			next := m.runCycle(ctx)
			timer.Reset(next)
		}
	}
}

// runCycle выполняет один проход цикла и возвращает интервал до следующего.
func (m *Manager) runCycle(ctx context.Context) time.Duration {
	start := time.Now()
	now := utils.NowInExchange()
	window := regime.Resolve(m.cfg.Regimes, now)

	positions := m.active.AllPositions()
	if marketClosed(window.Name) && len(positions) == 0 {
		metrics.RecordLoopCycle("idle", float64(time.Since(start).Milliseconds()))
		return m.cfg.MarketClosedSleep
	}

	if m.cfg.MaintenanceEvery > 0 && time.Since(m.lastMaintenance) >= m.cfg.MaintenanceEvery {
		m.runMaintenance(ctx)
		m.lastMaintenance = now
	}

	if m.cfg.PaperTrading.Enabled {
		m.refreshPaperPnl(ctx, positions, now)
	}

	mergedRisk := regime.MergeConfig(m.cfg.Risk, window)
	session := risk.NewMarketCloseSession(m.cfg.Risk.MarketCloseHHMM)

	ids := make([]int64, 0, len(positions))
	for _, p := range positions {
		ids = append(ids, p.TrackerID)
	}
	trackers, err := m.repo.GetMany(ctx, ids)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("batched tracker load failed, skipping cycle", utils.Err(err))
		}
		trackers = map[int64]*models.Tracker{}
	}

	cadence := "active"
	if len(positions) == 0 {
		cadence = "idle"
	}

	for _, pos := range positions {
		tracker, ok := trackers[pos.TrackerID]
		if !ok || tracker == nil {
			continue
		}
		m.processPosition(ctx, mergedRisk, session, now, tracker, pos)
	}

	m.fallbackPass(ctx, mergedRisk, now, trackers, positions)

	metrics.ActivePositions.Set(float64(len(positions)))
	if m.feedHub != nil {
		connected := 0.0
		if m.feedHub.Connected() {
			connected = 1.0
		}
		metrics.FeedConnected.Set(connected)
		if len(positions) > 0 && !m.feedHub.Connected() && m.logger != nil {
			health := m.feedHub.Health()
			m.logger.Warn("market feed stale with open positions",
				utils.Int("subscribed_count", health.SubscribedCount),
				utils.Any("last_tick_at", health.LastTickAt))
		}
	}
	metrics.PaperQuoteCircuitOpen.Set(boolToFloat(m.breaker.Open(now)))
	metrics.RecordLoopCycle(cadence, float64(time.Since(start).Milliseconds()))

	if m.active.Len() == 0 {
		return m.cfg.Risk.LoopIntervalIdle
	}
	return m.cfg.Risk.LoopIntervalActive
}

// processPosition синхронизирует PnL из тёплого кэша при необходимости,
// прогоняет RuleEngine и, если выхода не случилось, передаёт позицию
// TrailingEngine'у.
func (m *Manager) processPosition(ctx context.Context, cfg config.RiskConfig, session risk.TradingSession, now time.Time, tracker *models.Tracker, pos *models.PositionData) {
	m.syncFromWarmCache(ctx, pos, now)

	ruleCtx := risk.Context{
		Position:        pos,
		Tracker:         tracker,
		Config:          cfg,
		Now:             now,
		Session:         session,
		Underlying:      m.underlying,
		UnderlyingAware: m.cfg.FeatureFlags.EnableUnderlyingAwareExits,
	}

	result := m.ruleEngine.Evaluate(ruleCtx)
	metrics.PositionsProcessed.WithLabelValues("active_cache").Inc()

	if result.Outcome != risk.ExitSignal {
		if m.trailing != nil {
			m.trailing.ProcessTick(ctx, cfg, m.active, m.exitEngine, tracker, pos)
		}
		return
	}

	m.executeExit(ctx, tracker, pos, result.Reason, now)
}

// executeExit закрывает позицию через ExitEngine и фиксирует исход в
// EdgeFailureDetector'е - ExitEngine сам этого не делает, поскольку не
// знает о текущем режиме и границе сессии.
func (m *Manager) executeExit(ctx context.Context, tracker *models.Tracker, pos *models.PositionData, reason string, now time.Time) {
	result := m.exitEngine.ExecuteExit(ctx, tracker.ID, reason)
	metrics.RecordExit(reason, result.Success)
	if !result.Success {
		if m.logger != nil {
			m.logger.Warn("exit execution failed", utils.Int64("tracker_id", tracker.ID), utils.Err(result.Error))
		}
		return
	}

	m.active.Remove(tracker.ID)

	if m.edge == nil {
		return
	}
	wasSL := strings.Contains(reason, "SL HIT") || strings.Contains(reason, "stop_loss")
	window := regime.Resolve(m.cfg.Regimes, now)
	m.edge.RecordTradeOutcome(ctx, m.cfg.Risk.EdgeFailureDetector, pos.PnlPct, wasSL, window.Name, utils.ExchangeDateString(now))
}

// syncFromWarmCache обновляет снимок позиции из тёплого кэша, если запись
// свежее 30 секунд Отсутствие или устаревшая запись не
// считаются ошибкой: позиция продолжает жить на последнем известном LTP.
func (m *Manager) syncFromWarmCache(ctx context.Context, pos *models.PositionData, now time.Time) {
	if m.warm == nil {
		return
	}
	snap, err := m.warm.GetPnl(ctx, pos.TrackerID)
	if err != nil {
		return
	}
	if !snap.Fresh(now, 30*time.Second) {
		return
	}
	if snap.LTP.IsPositive() {
		pos.RecalculatePnl(snap.LTP, now)
	}
}

// fallbackPass оценивает только SL/TP по тёплому кэшу для активных
// трекеров, отсутствующих в ActiveCache Эти трекеры не
// получают полный набор правил и никогда не трогаются TrailingEngine'ом.
func (m *Manager) fallbackPass(ctx context.Context, cfg config.RiskConfig, now time.Time, trackers map[int64]*models.Tracker, tracked []*models.PositionData) {
	inCache := make(map[int64]struct{}, len(tracked))
	for _, p := range tracked {
		inCache[p.TrackerID] = struct{}{}
	}

	for id, tracker := range trackers {
		if _, ok := inCache[id]; ok {
			continue
		}
		if tracker == nil || models.IsTerminal(tracker.Status) {
			continue
		}
		m.fallbackEvaluate(ctx, cfg, now, tracker)
	}
}

func (m *Manager) fallbackEvaluate(ctx context.Context, cfg config.RiskConfig, now time.Time, tracker *models.Tracker) {
	if m.warm == nil {
		return
	}
	snap, err := m.warm.GetPnl(ctx, tracker.ID)
	if err != nil || !snap.Fresh(now, 30*time.Second) {
		return
	}
	metrics.PositionsProcessed.WithLabelValues("fallback").Inc()

	switch {
	case cfg.SLPct > 0 && snap.PnlPct <= -cfg.SLPct:
		m.executeExit(ctx, tracker, &models.PositionData{TrackerID: tracker.ID, PnlPct: snap.PnlPct}, "stop_loss (fallback)", now)
	case cfg.TPPct > 0 && snap.PnlPct >= cfg.TPPct:
		m.executeExit(ctx, tracker, &models.PositionData{TrackerID: tracker.ID, PnlPct: snap.PnlPct}, "take_profit (fallback)", now)
	}
}

// runMaintenance - обслуживание раз в MaintenanceEvery: гарантирует, что у
// каждого активного трекера есть запись в ActiveCache, подписка в хабе и
// свежая запись pnl:tracker:*.
func (m *Manager) runMaintenance(ctx context.Context) {
	trackers, err := m.repo.ActiveTrackers(ctx)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("maintenance: failed to list active trackers", utils.Err(err))
		}
		return
	}

	var toSubscribe []feed.Instrument
	for _, tracker := range trackers {
		if tracker == nil || models.IsTerminal(tracker.Status) {
			continue
		}

		if _, ok := m.active.GetByTrackerID(tracker.ID); !ok {
			m.active.Add(&models.PositionData{
				TrackerID:  tracker.ID,
				SecurityID: tracker.SecurityID,
				Segment:    tracker.Segment,
				Direction:  models.DirectionForSide(tracker.Side),
				EntryPrice: tracker.EntryPrice,
				Quantity:   tracker.Quantity,
				CurrentLTP: tracker.EntryPrice,
				EntryTime:  tracker.CreatedAt,
			})
		}

		toSubscribe = append(toSubscribe, feed.Instrument{Segment: tracker.Segment, SecurityID: tracker.SecurityID})

		if m.warm != nil {
			if _, err := m.warm.GetPnl(ctx, tracker.ID); err != nil {
				_ = m.warm.PutPnl(ctx, tracker.ID, cache.PnlSnapshot{
					PnlRupees: tracker.LastPnlRupees,
					PnlPct:    tracker.LastPnlPct,
					LTP:       tracker.EntryPrice,
					Ts:        utils.NowInExchange().Unix(),
					UpdatedAt: utils.NowInExchange(),
				})
			}
		}
	}

	if m.feedHub != nil && len(toSubscribe) > 0 {
		if err := m.feedHub.Subscribe(ctx, toSubscribe...); err != nil && m.logger != nil {
			m.logger.Warn("maintenance: hub subscribe failed", utils.Err(err))
		}
	}
}

// refreshPaperPnl обновляет LTP paper-трекеров одним RPC на сегмент,
// защищённым брейкером, лимитером частоты запросов и retry с отступом на
// единичный сбой
func (m *Manager) refreshPaperPnl(ctx context.Context, positions []*models.PositionData, now time.Time) {
	if m.gateway == nil || len(positions) == 0 {
		return
	}
	if !m.breaker.Allow(now) {
		return
	}
	if err := m.quoteLimiter.Wait(ctx); err != nil {
		return
	}

	bySegment := make(map[models.Segment][]string)
	bySegmentIndex := make(map[models.Segment][]*models.PositionData)
	for _, pos := range positions {
		bySegment[pos.Segment] = append(bySegment[pos.Segment], pos.SecurityID)
		bySegmentIndex[pos.Segment] = append(bySegmentIndex[pos.Segment], pos)
	}

	quotes, err := retry.DoWithResult(ctx, func() (map[models.Segment]map[string]decimal.Decimal, error) {
		return m.gateway.LTPBatch(ctx, bySegment)
	}, retry.ConservativeConfig())
	if err != nil {
		m.breaker.RecordFailure(now)
		if m.logger != nil {
			m.logger.Warn("paper pnl refresh failed", utils.Err(err))
		}
		return
	}
	m.breaker.RecordSuccess()

	for segment, list := range bySegmentIndex {
		bySecurity, ok := quotes[segment]
		if !ok {
			continue
		}
		for _, pos := range list {
			ltp, ok := bySecurity[pos.SecurityID]
			if !ok || !ltp.IsPositive() {
				continue
			}
			m.active.Update(pos.TrackerID, func(p *models.PositionData) {
				p.RecalculatePnl(ltp, now)
			})
			if m.warm != nil {
				_ = m.warm.PutPnl(ctx, pos.TrackerID, cache.PnlSnapshot{
					PnlRupees: pos.PnlRupees,
					PnlPct:    pos.PnlPct,
					LTP:       ltp,
					HWMPnl:    pos.HighWaterMark,
					Ts:        now.Unix(),
					UpdatedAt: now,
				})
			}
		}
	}
}

// marketClosed сообщает, закрыта ли сессия при текущем режиме - pre_market
// и post_market единственные режимы, в которых новых событий не ожидается.
func marketClosed(name models.RegimeName) bool {
	return name == models.RegimePreMarket || name == models.RegimePostMarket
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
