// Package errs содержит типизированные ошибки риск-ядра, сгруппированные
// по таксономии из спецификации: transient / stale / validation / conflict
// / infrastructure / programming. Компоненты оборачивают их через %w, чтобы
// вызывающий код мог использовать errors.Is/errors.As вместо сравнения строк.
package errs

import "errors"

// Ошибки валидации домена (models, entry-guard).
var (
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrInvalidEntryPrice  = errors.New("entry price must be positive")
	ErrInvalidSecurityID  = errors.New("security id is required")
	ErrInvalidSegment     = errors.New("segment is required")
	ErrInvalidTransition  = errors.New("invalid tracker status transition")
	ErrTerminalTracker    = errors.New("tracker is already in a terminal state")
	ErrNegativeQuantity   = errors.New("quantity cannot be negative")
	ErrClientOrderTooLong = errors.New("client order id exceeds broker length limit")
)

// Ошибки устаревших/отсутствующих данных (cache, feed).
var (
	ErrStaleTick      = errors.New("tick is stale")
	ErrNoTick         = errors.New("no tick observed for instrument")
	ErrTrackerNotFound = errors.New("tracker not found")
	ErrFeedNotRunning = errors.New("market feed is not running")
)

// Ошибки конфликта состояния (exit engine, reconciliation).
var (
	ErrAlreadyExited   = errors.New("position already exited")
	ErrExitInProgress  = errors.New("exit already in progress for this tracker")
	ErrOrphanPosition  = errors.New("broker position has no matching tracker")
)

// Ошибки лимитов и защитных механизмов (daily limits, edge failure, entry guard).
var (
	ErrDailyLossLimitHit   = errors.New("daily loss limit reached")
	ErrDailyTradeCapHit    = errors.New("daily trade count cap reached")
	ErrEdgeFailurePaused   = errors.New("trading paused by edge failure detector")
	ErrExposureLimitHit    = errors.New("exposure limit reached")
	ErrPyramidingBlocked   = errors.New("pyramiding not allowed for this underlying")
	ErrCooldownActive      = errors.New("entry cooldown still active")
	ErrOutsideTradingHours = errors.New("outside permitted trading hours")
)

// Инфраструктурные ошибки (временные, допускают retry).
var (
	ErrWarmStoreUnavailable = errors.New("warm store unavailable")
	ErrBrokerUnavailable    = errors.New("broker gateway unavailable")
	ErrRepositoryUnavailable = errors.New("tracker repository unavailable")
)

// Temporary оборачивает err, помечая его как пригодный для retry. Зеркалит
// pkg/retry.Temporary, но живёт здесь, чтобы компоненты верхнего уровня не
// тянули pkg/retry только ради разметки ошибок.
type Temporary struct {
	Err error
}

func (e *Temporary) Error() string { return e.Err.Error() }
func (e *Temporary) Unwrap() error { return e.Err }
func (e *Temporary) Temporary() bool { return true }

// WrapTemporary оборачивает err как временную (retryable) ошибку.
func WrapTemporary(err error) error {
	if err == nil {
		return nil
	}
	return &Temporary{Err: err}
}

// Permanent оборачивает err, помечая его как не подлежащий retry.
type Permanent struct {
	Err error
}

func (e *Permanent) Error() string   { return e.Err.Error() }
func (e *Permanent) Unwrap() error   { return e.Err }
func (e *Permanent) Retryable() bool { return false }

// WrapPermanent оборачивает err как окончательную (non-retryable) ошибку.
func WrapPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}
