package risk

import (
	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

// TimeBasedExitRule закрывает позицию в окне между time_exit_hhmm и
// market_close_hhmm, но только если заработанная рупийная прибыль уже не
// ниже min_profit_rupees (0 означает "без требования к минимуму").
// Приоритет 40.
type TimeBasedExitRule struct{}

func (TimeBasedExitRule) Priority() int { return 40 }
func (TimeBasedExitRule) Name() string  { return "time_based_exit" }

func (TimeBasedExitRule) Evaluate(ctx Context) (RuleResult, error) {
	cfg := ctx.Config
	if cfg.TimeExitHHMM == "" {
		return skip(), nil
	}
	if ctx.Position == nil {
		return skip(), nil
	}

	exitFrom, err := utils.ParseHHMMInExchange(cfg.TimeExitHHMM, ctx.Now)
	if err != nil {
		return skip(), err
	}
	if ctx.Now.Before(exitFrom) {
		return noAction(), nil
	}

	if cfg.MarketCloseHHMM != "" {
		closeAt, err := utils.ParseHHMMInExchange(cfg.MarketCloseHHMM, ctx.Now)
		if err == nil && !ctx.Now.Before(closeAt) {
			// после закрытия биржи решает SessionEnd (выше по приоритету)
			return noAction(), nil
		}
	}

	if cfg.MinProfitRupees.IsPositive() && ctx.Position.PnlRupees.LessThan(cfg.MinProfitRupees) {
		return noAction(), nil
	}

	return exit("time-based exit", map[string]interface{}{"pnl_rupees": ctx.Position.PnlRupees}), nil
}
