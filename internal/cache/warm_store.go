package cache

import (
	"context"
	"time"
)

// WarmStore - минимальный интерфейс key-value хранилища, которого
// достаточно warm-cache, DailyLimits и EdgeFailureDetector. Его
// единственная реализация на проде - обёртка над *redis.Client
// (см. redis_store.go); MemoryStore - её in-memory двойник для тестов.
type WarmStore interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)
	Incr(ctx context.Context, key string) (int64, error)

	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Keys(ctx context.Context, pattern string) ([]string, error)
}

// ErrNoSuchKey - возвращается Get/HGetAll при отсутствии ключа, по
// соглашению, совместимому с redis.Nil (см. redis_store.go).
type ErrNoSuchKey struct {
	Key string
}

func (e *ErrNoSuchKey) Error() string {
	return "key not found: " + e.Key
}
