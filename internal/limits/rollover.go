package limits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

// retentionDays - сколько последних календарных дней ключей
// daily_limits:* хранится в WarmStore. Счётчики сами по себе "обнуляются"
// просто потому, что ключ следующего дня - другой (см. today()); Rollover
// существует только затем, чтобы ключи прошлых дней не копились в хранилище
// бесконечно.
const retentionDays = 7

// Rollover - ежедневная уборка устаревших ключей daily_limits:*. Управляется
// собственным cron-расписанием вместо ручного ticker-цикла, поскольку её
// каданс календарный (раз в сутки в фиксированное время биржевой зоны), а
// не привязан к тикам рынка - см. обоснование в DESIGN.md.
type Rollover struct {
	store  deleter
	cron   *cron.Cron
	logger *utils.Logger
}

type deleter interface {
	Keys(ctx context.Context, pattern string) ([]string, error)
	Del(ctx context.Context, keys ...string) error
}

// NewRollover собирает Rollover поверх store.
func NewRollover(store deleter, logger *utils.Logger) *Rollover {
	return &Rollover{store: store, cron: cron.New(), logger: logger}
}

// Start регистрирует ежедневную уборку на 00:10 по биржевому времени и
// запускает планировщик.
func (r *Rollover) Start(ctx context.Context) error {
	spec := fmt.Sprintf("CRON_TZ=%s 10 0 * * *", utils.ExchangeLocation().String())
	_, err := r.cron.AddFunc(spec, func() {
		removed, err := r.PurgeOlderThan(ctx, retentionDays)
		if err != nil && r.logger != nil {
			r.logger.Warn("daily limits rollover failed", utils.Err(err))
			return
		}
		if r.logger != nil && removed > 0 {
			r.logger.Info("daily limits rollover removed stale keys", utils.Int("removed", removed))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule daily limits rollover: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop останавливает планировщик, дожидаясь завершения текущего прохода.
func (r *Rollover) Stop() {
	<-r.cron.Stop().Done()
}

// PurgeOlderThan удаляет все ключи daily_limits:*:{date}:* чья дата старше
// retainDays календарных дней относительно сегодняшней биржевой даты.
// Вызывается по расписанию из Start, но безопасен для прямого вызова из
// тестов.
func (r *Rollover) PurgeOlderThan(ctx context.Context, retainDays int) (int, error) {
	keys, err := r.store.Keys(ctx, "daily_limits:*")
	if err != nil {
		return 0, fmt.Errorf("list daily limits keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	cutoff := utils.NowInExchange().AddDate(0, 0, -retainDays)
	var stale []string
	for _, key := range keys {
		date, ok := dateFromKey(key)
		if !ok {
			continue
		}
		if date.Before(cutoff) {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := r.store.Del(ctx, stale...); err != nil {
		return 0, fmt.Errorf("delete stale daily limits keys: %w", err)
	}
	return len(stale), nil
}

// dateFromKey извлекает YYYY-MM-DD из daily_limits:{kind}:{date}:{scope}.
func dateFromKey(key string) (time.Time, bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 3 {
		return time.Time{}, false
	}
	date, err := time.ParseInLocation("2006-01-02", parts[2], utils.ExchangeLocation())
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}
