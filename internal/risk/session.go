package risk

import (
	"time"

	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

// NewMarketCloseSession строит TradingSession, требующий принудительного
// закрытия по достижении market_close_hhmm в зоне биржи. Пустой
// marketCloseHHMM отключает предикат (сессия никогда не форсирует выход).
func NewMarketCloseSession(marketCloseHHMM string) TradingSession {
	if marketCloseHHMM == "" {
		return func(time.Time) bool { return false }
	}
	return func(now time.Time) bool {
		closeAt, err := utils.ParseHHMMInExchange(marketCloseHHMM, now)
		if err != nil {
			return false
		}
		return !now.Before(closeAt)
	}
}

// NewEngineDefault собирает Engine со всеми встроенными правилами
// (см. таблицу приоритетов в).
func NewEngineDefault(logger *utils.Logger) *Engine {
	return NewEngine(logger,
		SessionEndRule{},
		StopLossRule{},
		TakeProfitRule{},
		SecureProfitRule{},
		TimeBasedExitRule{},
		PeakDrawdownRule{},
		TrailingStopRule{},
		UnderlyingExitRule{},
	)
}
