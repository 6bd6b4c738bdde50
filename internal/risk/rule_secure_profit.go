package risk

import "fmt"

// SecureProfitRule закрывает позицию, уже заработавшую ощутимую рупийную
// прибыль, если она откатывается от своего пика на drawdown_pct и более.
// Приоритет 35 - перед TimeBasedExit, после TakeProfit.
type SecureProfitRule struct{}

func (SecureProfitRule) Priority() int { return 35 }
func (SecureProfitRule) Name() string  { return "secure_profit" }

func (SecureProfitRule) Evaluate(ctx Context) (RuleResult, error) {
	cfg := ctx.Config
	if !cfg.SecureProfitThresholdRupees.IsPositive() || cfg.SecureProfitDrawdownPct <= 0 {
		return skip(), nil
	}
	if ctx.Position == nil {
		return skip(), nil
	}

	if ctx.Position.PnlRupees.LessThan(cfg.SecureProfitThresholdRupees) {
		return noAction(), nil
	}

	drawdown := ctx.Position.DrawdownFromPeakPct()
	if drawdown >= cfg.SecureProfitDrawdownPct {
		reason := fmt.Sprintf("secure_profit_exit (drawdown: %.2f%%, threshold: %.2f%%, peak: %.2f%%)",
			drawdown, cfg.SecureProfitDrawdownPct, ctx.Position.PeakProfitPct)
		return exit(reason, map[string]interface{}{
			"drawdown_pct": drawdown,
			"pnl_rupees":   ctx.Position.PnlRupees,
		}), nil
	}
	return noAction(), nil
}
