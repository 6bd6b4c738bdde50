// Package limits реализует DailyLimits - дневные торговые лимиты поверх
// счётчикового хранилища. Ключи:
// daily_limits:{kind}:{date}:{index|global}.
package limits

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/riskcore/internal/cache"
	"github.com/shubhamtaywade82/riskcore/internal/config"
	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

const scopeGlobal = "global"

// Decision - результат can_trade? с машиночитаемой причиной блокировки.
type Decision struct {
	Allowed bool
	Reason  string
}

// DailyLimits хранит дневные счётчики PnL/сделок в cache.WarmStore и
// применяет политику окна; ключевое пространство разбито по календарному
// дню в зоне биржи - переход дня обнуляет счётчики естественным образом,
// без отдельного таймера.
type DailyLimits struct {
	store cache.WarmStore
}

// NewDailyLimits собирает DailyLimits поверх store.
func NewDailyLimits(store cache.WarmStore) *DailyLimits {
	return &DailyLimits{store: store}
}

func pnlKey(date, scope string) string        { return "daily_limits:pnl:" + date + ":" + scope }
func peakPnlKey(date, scope string) string     { return "daily_limits:peak_pnl:" + date + ":" + scope }
func tradesKey(date, scope string) string      { return "daily_limits:trades:" + date + ":" + scope }
func lossStreakKey(date, scope string) string  { return "daily_limits:loss_streak:" + date + ":" + scope }

func today() string { return utils.ExchangeDateString(utils.NowInExchange()) }

// bumpPeak обновляет daily_limits:peak_pnl - "липкий" максимум net PnL за
// день, который не откатывается последующим убытком. profit_threshold
// сверяется с этим максимумом, а не с текущим net PnL: иначе убыток,
// съедающий накопленный профит, незаметно снял бы защиту убытков как раз
// тогда, когда она больше всего нужна.
func (d *DailyLimits) bumpPeak(ctx context.Context, date, scope string) {
	current := d.readDecimal(ctx, pnlKey(date, scope))
	peak := d.readDecimal(ctx, peakPnlKey(date, scope))
	if current.GreaterThan(peak) {
		_ = d.store.Set(ctx, peakPnlKey(date, scope), current.String(), 0)
	}
}

// RecordLoss увеличивает зафиксированный убыток по index и глобально на
// amount (ожидается неотрицательная величина - абсолютный модуль PnL).
func (d *DailyLimits) RecordLoss(ctx context.Context, index string, amount decimal.Decimal) error {
	amt, _ := amount.Abs().Neg().Float64()
	date := today()
	if _, err := d.store.IncrByFloat(ctx, pnlKey(date, index), amt); err != nil {
		return err
	}
	if _, err := d.store.IncrByFloat(ctx, pnlKey(date, scopeGlobal), amt); err != nil {
		return err
	}
	_, _ = d.store.Incr(ctx, lossStreakKey(date, index))
	_, _ = d.store.Incr(ctx, lossStreakKey(date, scopeGlobal))
	d.bumpPeak(ctx, date, index)
	d.bumpPeak(ctx, date, scopeGlobal)
	return nil
}

// RecordProfit увеличивает накопленный профит по index и глобально, и
// сбрасывает серию убытков (loss streak) на 0.
func (d *DailyLimits) RecordProfit(ctx context.Context, index string, amount decimal.Decimal) error {
	amt, _ := amount.Abs().Float64()
	date := today()
	if _, err := d.store.IncrByFloat(ctx, pnlKey(date, index), amt); err != nil {
		return err
	}
	if _, err := d.store.IncrByFloat(ctx, pnlKey(date, scopeGlobal), amt); err != nil {
		return err
	}
	_ = d.store.Set(ctx, lossStreakKey(date, index), "0", 0)
	_ = d.store.Set(ctx, lossStreakKey(date, scopeGlobal), "0", 0)
	d.bumpPeak(ctx, date, index)
	d.bumpPeak(ctx, date, scopeGlobal)
	return nil
}

// RecordTrade увеличивает счётчик сделок - только для наблюдаемости, не
// влияет на can_trade?.
func (d *DailyLimits) RecordTrade(ctx context.Context, index string) error {
	date := today()
	if _, err := d.store.Incr(ctx, tradesKey(date, index)); err != nil {
		return err
	}
	_, err := d.store.Incr(ctx, tradesKey(date, scopeGlobal))
	return err
}

// ResetDailyCounters удаляет ключи pnl, trades и loss_streak за указанную
// дату и scope; ключ peak_pnl не затрагивается.
func (d *DailyLimits) ResetDailyCounters(ctx context.Context, date, scope string) error {
	return d.store.Del(ctx, pnlKey(date, scope), tradesKey(date, scope), lossStreakKey(date, scope))
}

// counters читает DailyCounters для заданных date/scope - отсутствующие
// ключи трактуются как нулевые счётчики, а не как ошибка.
func (d *DailyLimits) counters(ctx context.Context, date, scope string) models.DailyCounters {
	pnl := d.readDecimal(ctx, pnlKey(date, scope))
	trades := d.readInt(ctx, tradesKey(date, scope))
	streak := d.readInt(ctx, lossStreakKey(date, scope))
	return models.DailyCounters{Date: date, Scope: scope, RealizedPnl: pnl, TradeCount: trades, LossStreak: streak}
}

func (d *DailyLimits) readDecimal(ctx context.Context, key string) decimal.Decimal {
	v, err := d.store.Get(ctx, key)
	if err != nil {
		return decimal.Zero
	}
	dec, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return dec
}

func (d *DailyLimits) readInt(ctx context.Context, key string) int {
	v, err := d.store.Get(ctx, key)
	if err != nil {
		return 0
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// CanTrade проверяет дневные лимиты профита и убытка. Недоступность хранилища
// трактуется как отказ в закрытую сторону (fail-closed): allowed=false.
func (d *DailyLimits) CanTrade(ctx context.Context, index string, cfg config.RiskConfig) Decision {
	date := today()

	if _, err := d.store.Get(ctx, pnlKey(date, scopeGlobal)); err != nil {
		if _, ok := err.(*cache.ErrNoSuchKey); !ok {
			return Decision{Allowed: false, Reason: "store_unavailable"}
		}
	}

	global := d.counters(ctx, date, scopeGlobal)
	globalPeak := d.readDecimal(ctx, peakPnlKey(date, scopeGlobal))

	if cfg.MaxDailyProfit.IsPositive() && globalPeak.GreaterThanOrEqual(cfg.MaxDailyProfit) {
		return Decision{Allowed: false, Reason: "daily_profit_target_reached"}
	}

	profitThreshold := cfg.ProfitThresholdRupees
	if globalPeak.LessThan(profitThreshold) {
		// ниже порога профита убытки ещё не блокируют вход - режим охоты за
		// прибылью сохраняется
		return Decision{Allowed: true}
	}

	if cfg.MaxGlobalDailyLossPct > 0 {
		globalLossLimit := cfg.MaxDailyProfit.Mul(decimal.NewFromFloat(cfg.MaxGlobalDailyLossPct / 100))
		if global.ExceedsLossLimit(globalLossLimit) {
			return Decision{Allowed: false, Reason: "global_daily_loss_limit"}
		}
	}

	if cfg.MaxDailyLossPct > 0 {
		perIndex := d.counters(ctx, date, index)
		indexLossLimit := cfg.MaxDailyProfit.Mul(decimal.NewFromFloat(cfg.MaxDailyLossPct / 100))
		if perIndex.ExceedsLossLimit(indexLossLimit) {
			return Decision{Allowed: false, Reason: "index_daily_loss_limit"}
		}
	}

	return Decision{Allowed: true}
}

// GlobalCounters возвращает текущие глобальные дневные счётчики - для
// admin-ручки и edge-failure detector.
func (d *DailyLimits) GlobalCounters(ctx context.Context) models.DailyCounters {
	return d.counters(ctx, today(), scopeGlobal)
}

// IndexCounters возвращает дневные счётчики по конкретному underlying.
func (d *DailyLimits) IndexCounters(ctx context.Context, index string) models.DailyCounters {
	return d.counters(ctx, today(), index)
}
