package risk

import "fmt"

// StopLossRule закрывает позицию, когда pnl_pct опускается не выше
// −sl_pct. Приоритет 20.
type StopLossRule struct{}

func (StopLossRule) Priority() int { return 20 }
func (StopLossRule) Name() string  { return "stop_loss" }

func (StopLossRule) Evaluate(ctx Context) (RuleResult, error) {
	if ctx.Config.SLPct <= 0 {
		return skip(), nil
	}
	if ctx.Position == nil || ctx.Position.Quantity == 0 || !ctx.Position.EntryPrice.IsPositive() {
		return skip(), nil
	}

	if ctx.Position.PnlPct <= -ctx.Config.SLPct {
		reason := fmt.Sprintf("SL HIT %.2f%%", ctx.Position.PnlPct)
		return exit(reason, map[string]interface{}{"pnl_pct": ctx.Position.PnlPct, "sl_pct": ctx.Config.SLPct}), nil
	}
	return noAction(), nil
}
