// Package reconcile реализует периодическую сверку согласованности между
// хабом фида, ActiveCache и тёплым кэшем PnL для каждого активного трекера
//. Сверка никогда не выставляет и не отменяет заявки -
// только читает и, при расхождении, чинит локальные кэши.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/riskcore/internal/cache"
	"github.com/shubhamtaywade82/riskcore/internal/feed"
	"github.com/shubhamtaywade82/riskcore/internal/metrics"
	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/internal/position"
	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

// divergenceThresholdRupees - порог расхождения PnL между тёплым кэшем и
// строкой трекера, при котором сверка синхронизирует значения.
const divergenceThresholdRupees = 1.0

// TrackerRepository - источник активных трекеров для сверки.
type TrackerRepository interface {
	ActiveTrackers(ctx context.Context) ([]*models.Tracker, error)
}

// FeedSubscriber - минимальная поверхность MarketFeedHub, нужная сверке.
type FeedSubscriber interface {
	Subscribe(ctx context.Context, instruments ...feed.Instrument) error
}

// FixKind - вид исправления, внесённого одним проходом сверки.
type FixKind string

const (
	FixSubscription  FixKind = "subscription"
	FixActiveCache   FixKind = "active_cache"
	FixPnlDivergence FixKind = "pnl_divergence"
)

// Fix - одно внесённое исправление, с достаточным контекстом для
// человекочитаемого отчёта.
type Fix struct {
	TrackerID int64
	Kind      FixKind
	Detail    string
}

// Report - итог одного прохода сверки. RunID - для сопоставления с логами;
// последние N отчётов Sweeper хранит в памяти сам (см. History) для
// админ-ручки.
type Report struct {
	RunID         string
	StartedAt     time.Time
	Duration      time.Duration
	TrackersSeen  int
	Fixes         []Fix
	Inconsistent  []string // записи, которые сверка заметила, но не смогла починить
}

// Sweeper - Reconciliation. Владеет своим cron-расписанием вместо ручного
// ticker-цикла - см. обоснование в DESIGN.md (календарный, а не
// тик-зависимый каданс).
type Sweeper struct {
	repo    TrackerRepository
	active  *position.ActiveCache
	warm    *cache.WarmCache
	feedHub FeedSubscriber
	logger  *utils.Logger

	cron     *cron.Cron
	history  []*Report
	maxKept  int
}

// NewSweeper собирает Sweeper. feedHub может быть nil (тогда исправление
// подписки пропускается - актуально для бумажного режима без реального фида).
func NewSweeper(repo TrackerRepository, active *position.ActiveCache, warm *cache.WarmCache, feedHub FeedSubscriber, logger *utils.Logger) *Sweeper {
	return &Sweeper{
		repo:    repo,
		active:  active,
		warm:    warm,
		feedHub: feedHub,
		logger:  logger,
		cron:    cron.New(cron.WithSeconds()),
		maxKept: 20,
	}
}

// Start регистрирует проход сверки на спецификацию "каждые 30 секунд" и
// запускает cron-планировщик. Возвращает ошибку только если спецификация
// расписания некорректна - само выполнение Run никогда не возвращает
// ошибку наружу, а логирует её.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc("@every 30s", func() {
		report := s.Run(ctx)
		if s.logger != nil && len(report.Inconsistent) > 0 {
			s.logger.Warn("reconciliation found unresolved inconsistencies",
				utils.Int("count", len(report.Inconsistent)))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconciliation sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop останавливает планировщик, дожидаясь завершения текущего прохода.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Run выполняет один проход сверки немедленно (также вызывается по
// расписанию из Start). Безопасен для прямого вызова из тестов.
func (s *Sweeper) Run(ctx context.Context) *Report {
	start := time.Now()
	report := &Report{RunID: uuid.NewString(), StartedAt: start}

	trackers, err := s.repo.ActiveTrackers(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("reconciliation: failed to list active trackers", utils.Err(err))
		}
		report.Duration = time.Since(start)
		return report
	}
	report.TrackersSeen = len(trackers)

	var toSubscribe []feed.Instrument
	for _, tracker := range trackers {
		if tracker == nil || models.IsTerminal(tracker.Status) {
			continue
		}

		pos, inCache := s.active.GetByTrackerID(tracker.ID)
		if !inCache {
			s.active.Add(&models.PositionData{
				TrackerID:  tracker.ID,
				SecurityID: tracker.SecurityID,
				Segment:    tracker.Segment,
				Direction:  models.DirectionForSide(tracker.Side),
				EntryPrice: tracker.EntryPrice,
				Quantity:   tracker.Quantity,
				CurrentLTP: tracker.EntryPrice,
				EntryTime:  tracker.CreatedAt,
			})
			report.Fixes = append(report.Fixes, Fix{TrackerID: tracker.ID, Kind: FixActiveCache, Detail: "added missing PositionData entry"})
			metrics.RecordReconciliationFix(string(FixActiveCache))
		}

		toSubscribe = append(toSubscribe, feed.Instrument{Segment: tracker.Segment, SecurityID: tracker.SecurityID})

		if divergence, ok := s.pnlDivergence(ctx, tracker, pos); ok {
			metrics.ReconciliationDivergenceRupees.Observe(divergence)
			if divergence > divergenceThresholdRupees {
				if err := s.syncPnl(ctx, tracker); err != nil {
					report.Inconsistent = append(report.Inconsistent,
						fmt.Sprintf("tracker %d: pnl divergence %.2f could not be synced: %v", tracker.ID, divergence, err))
					continue
				}
				report.Fixes = append(report.Fixes, Fix{
					TrackerID: tracker.ID,
					Kind:      FixPnlDivergence,
					Detail:    fmt.Sprintf("synced warm cache pnl, divergence was %.2f rupees", divergence),
				})
				metrics.RecordReconciliationFix(string(FixPnlDivergence))
			}
		}
	}

	if s.feedHub != nil && len(toSubscribe) > 0 {
		if err := s.feedHub.Subscribe(ctx, toSubscribe...); err != nil {
			report.Inconsistent = append(report.Inconsistent, fmt.Sprintf("hub subscribe failed: %v", err))
		} else {
			report.Fixes = append(report.Fixes, Fix{Kind: FixSubscription, Detail: fmt.Sprintf("resubscribed %d instruments", len(toSubscribe))})
			metrics.RecordReconciliationFix(string(FixSubscription))
		}
	}

	report.Duration = time.Since(start)
	s.remember(report)
	return report
}

// pnlDivergence возвращает абсолютное расхождение в рупиях между
// last_pnl_rupees трекера и значением, записанным в тёплом кэше - ok=false,
// если в тёплом кэше ещё нет записи (не ошибка, просто нечего сравнивать).
func (s *Sweeper) pnlDivergence(ctx context.Context, tracker *models.Tracker, pos *models.PositionData) (float64, bool) {
	if s.warm == nil {
		return 0, false
	}
	snap, err := s.warm.GetPnl(ctx, tracker.ID)
	if err != nil {
		return 0, false
	}

	warmPnl := snap.PnlRupees
	trackerPnl := tracker.LastPnlRupees

	diff, _ := warmPnl.Sub(trackerPnl).Abs().Float64()
	return diff, true
}

// syncPnl перезаписывает pnl:tracker:{id} значениями трекера - трекер
// (БД) считается источником истины при расхождении, поскольку он
// персистентен и переживает рестарт процесса, тогда как тёплый кэш - нет.
func (s *Sweeper) syncPnl(ctx context.Context, tracker *models.Tracker) error {
	return s.warm.PutPnl(ctx, tracker.ID, cache.PnlSnapshot{
		PnlRupees: tracker.LastPnlRupees,
		PnlPct:    tracker.LastPnlPct,
		LTP:       resolveLTPForSync(tracker),
		Ts:        utils.NowInExchange().Unix(),
		UpdatedAt: utils.NowInExchange(),
	})
}

func resolveLTPForSync(tracker *models.Tracker) decimal.Decimal {
	if tracker.AvgPrice.IsPositive() {
		return tracker.AvgPrice
	}
	return tracker.EntryPrice
}

// remember хранит последние maxKept отчётов - используется админ-ручкой,
// чтобы показать историю сверок без отдельного хранилища.
func (s *Sweeper) remember(report *Report) {
	s.history = append(s.history, report)
	if len(s.history) > s.maxKept {
		s.history = s.history[len(s.history)-s.maxKept:]
	}
}

// History возвращает снимок последних отчётов, от старого к новому.
func (s *Sweeper) History() []*Report {
	out := make([]*Report, len(s.history))
	copy(out, s.history)
	return out
}
