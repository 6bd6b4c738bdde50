// Package regime определяет чистую функцию сопоставления настенного
// времени внутридневной фазе сессии
package regime

import (
	"time"

	"github.com/shubhamtaywade82/riskcore/internal/config"
	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

// fallback - режим, возвращаемый, если ни одно окно из конфигурации не
// покрывает текущее время (не должно происходить при полностью заданной
// таблице, но защищает от дыр в конфиге).
var fallback = models.RegimeWindow{Name: models.RegimeTrendContinuation, SLMultiplier: 1, TPMultiplier: 1, AllowEntries: true, AllowTrailing: true}

// Resolve возвращает окно режима, активное в момент now, по таблице
// regimes. Совпадение ищется по зонному (биржевому) времени HH:MM; при
// пересечении нескольких окон побеждает первое найденное - конфигурация не
// должна содержать перекрывающихся интервалов.
func Resolve(regimes map[string]models.RegimeWindow, now time.Time) models.RegimeWindow {
	for _, window := range regimes {
		if utils.WithinHHMMWindow(now, window.Start, window.End) {
			return window
		}
	}
	return fallback
}

// EntriesAllowed сообщает, разрешены ли новые входы в момент now: и режим
// должен разрешать входы, и текущее время должно быть раньше жёсткого
// глобального отсечения входов (RiskConfig.HardEntryCutoffHHMM),
// независимо от того, что говорит сам режим.
func EntriesAllowed(cfg *config.Config, now time.Time) bool {
	window := Resolve(cfg.Regimes, now)
	if !window.AllowEntries {
		return false
	}
	return !pastCutoff(cfg.Risk.HardEntryCutoffHHMM, now)
}

// pastCutoff сообщает, находится ли now на или после HH:MM cutoff (в
// биржевой зоне). Пустой cutoff означает "без отсечения".
func pastCutoff(cutoffHHMM string, now time.Time) bool {
	if cutoffHHMM == "" {
		return false
	}
	cutoff, err := utils.ParseHHMMInExchange(cutoffHHMM, now)
	if err != nil {
		return false
	}
	exchangeNow := now.In(utils.ExchangeLocation())
	return !exchangeNow.Before(cutoff)
}

// MergeConfig накладывает переопределения активного окна режима на базовый
// риск-конфиг: sl_pct/tp_pct масштабируются множителями режима. Нулевой
// множитель трактуется как "не переопределён" (остаётся 1), чтобы дыра в
// таблице режимов не обнуляла SL/TP. Остальные поля risk-конфига не
// затрагиваются - именно этот смёрженный конфиг передаётся в risk.Context.
func MergeConfig(base config.RiskConfig, window models.RegimeWindow) config.RiskConfig {
	merged := base
	slMult := window.SLMultiplier
	if slMult == 0 {
		slMult = 1
	}
	tpMult := window.TPMultiplier
	if tpMult == 0 {
		tpMult = 1
	}
	merged.SLPct = base.SLPct * slMult
	merged.TPPct = base.TPPct * tpMult
	return merged
}
