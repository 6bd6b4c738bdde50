package riskmanager

import (
	"sync"
	"time"
)

// quoteCircuitBreaker защищает пакетное обновление paper-PnL от шторма
// повторов, когда брокерский quote RPC начинает систематически отказывать:
// после 5 подряд неудач цепь размыкается на 60 секунд, затем пропускает
// ровно один пробный вызов (half-open) прежде чем снова закрыться.
// pkg/retry покрывает только повтор с отступом одного вызова - не
// состояние цепи между вызовами, поэтому счётчик ведётся здесь отдельно.
type quoteCircuitBreaker struct {
	mu              sync.Mutex
	failures        int
	openUntil       time.Time
	maxFailures     int
	cooldown        time.Duration
	halfOpenAllowed bool
}

func newQuoteCircuitBreaker(maxFailures int, cooldown time.Duration) *quoteCircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &quoteCircuitBreaker{maxFailures: maxFailures, cooldown: cooldown}
}

// Allow сообщает, можно ли сейчас выполнить вызов: true в закрытом
// состоянии, true ровно один раз за период охлаждения в open-состоянии
// (half-open probe), иначе false.
func (b *quoteCircuitBreaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.maxFailures {
		return true
	}
	if now.Before(b.openUntil) {
		return false
	}
	if b.halfOpenAllowed {
		return false
	}
	b.halfOpenAllowed = true
	return true
}

// RecordSuccess закрывает цепь обратно.
func (b *quoteCircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.halfOpenAllowed = false
	b.openUntil = time.Time{}
}

// RecordFailure учитывает отказ; по достижении порога размыкает цепь на
// cooldown от момента отказа.
func (b *quoteCircuitBreaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.halfOpenAllowed = false
	if b.failures >= b.maxFailures {
		b.openUntil = now.Add(b.cooldown)
	}
}

// Open сообщает текущее состояние цепи для метрик.
func (b *quoteCircuitBreaker) Open(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.maxFailures && now.Before(b.openUntil) && !b.halfOpenAllowed
}
