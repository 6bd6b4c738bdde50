// Package supervisor собирает жизненный цикл фоновых компонентов riskcore в
// одно место: MarketFeedHub, цикл RiskManager, периодическая сверка
// Reconciliation, hygiene-job DailyLimits и admin HTTP сервер. Устроен по
// образцу Engine.Run/cancel из bot/engine.go - родительский контекст plus
// sync.WaitGroup на присоединение горутин при остановке.
package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

// FeedHub - минимальная поверхность MarketFeedHub, нужная супервизору.
type FeedHub interface {
	Start(ctx context.Context) bool
	Stop() error
}

// RiskManagerLoop - минимальная поверхность riskmanager.Manager.
type RiskManagerLoop interface {
	Run(ctx context.Context) error
}

// CronJob - общий интерфейс для фоновых задач на cron (Sweeper, Rollover).
type CronJob interface {
	Start(ctx context.Context) error
	Stop()
}

// Supervisor запускает и останавливает все долгоживущие компоненты
// приложения. Сам по себе не владеет бизнес-логикой - чистая оркестрация
// жизненного цикла.
type Supervisor struct {
	feed        FeedHub
	riskManager RiskManagerLoop
	sweeper     CronJob
	rollover    CronJob
	httpServer  *http.Server

	logger *utils.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	runErrMu sync.Mutex
	runErr   error
}

// Dependencies - набор компонентов, которыми управляет Supervisor. Любое
// поле может быть nil - соответствующий компонент тогда просто не
// запускается (удобно для тестов и для урезанных конфигураций).
type Dependencies struct {
	Feed        FeedHub
	RiskManager RiskManagerLoop
	Sweeper     CronJob
	Rollover    CronJob
	HTTPServer  *http.Server
	Logger      *utils.Logger
}

// New собирает Supervisor из Dependencies.
func New(deps Dependencies) *Supervisor {
	return &Supervisor{
		feed:        deps.Feed,
		riskManager: deps.RiskManager,
		sweeper:     deps.Sweeper,
		rollover:    deps.Rollover,
		httpServer:  deps.HTTPServer,
		logger:      deps.Logger,
	}
}

// Start запускает все сконфигурированные компоненты и возвращает управление
// сразу же - фоновая работа продолжается в горутинах до Stop() или до
// отмены ctx вызывающей стороной.
func (s *Supervisor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.feed != nil {
		if !s.feed.Start(runCtx) {
			cancel()
			return errors.New("supervisor: market feed hub failed to start")
		}
	}

	if s.riskManager != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.riskManager.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.recordRunErr(err)
				if s.logger != nil {
					s.logger.Error("risk manager loop exited with error", utils.Err(err))
				}
			}
		}()
	}

	if s.sweeper != nil {
		if err := s.sweeper.Start(runCtx); err != nil {
			cancel()
			return err
		}
	}

	if s.rollover != nil {
		if err := s.rollover.Start(runCtx); err != nil {
			cancel()
			return err
		}
	}

	if s.httpServer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.recordRunErr(err)
				if s.logger != nil {
					s.logger.Error("admin http server exited with error", utils.Err(err))
				}
			}
		}()
	}

	return nil
}

// Stop останавливает все компоненты и ждёт завершения их горутин. shutdownTimeout
// ограничивает время на graceful остановку HTTP сервера (30s в cmd/riskcore/main.go).
func (s *Supervisor) Stop(shutdownTimeout time.Duration) error {
	if s.cancel != nil {
		s.cancel()
	}

	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.rollover != nil {
		s.rollover.Stop()
	}
	if s.feed != nil {
		if err := s.feed.Stop(); err != nil && s.logger != nil {
			s.logger.Error("market feed hub failed to stop cleanly", utils.Err(err))
		}
	}

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	s.wg.Wait()

	return s.RunError()
}

func (s *Supervisor) recordRunErr(err error) {
	s.runErrMu.Lock()
	defer s.runErrMu.Unlock()
	if s.runErr == nil {
		s.runErr = err
	}
}

// RunError возвращает первую ошибку, с которой завершился любой из фоновых
// циклов (риск-менеджер или HTTP сервер), если такая была.
func (s *Supervisor) RunError() error {
	s.runErrMu.Lock()
	defer s.runErrMu.Unlock()
	return s.runErr
}
