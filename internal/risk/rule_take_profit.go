package risk

import "fmt"

// TakeProfitRule закрывает позицию, когда pnl_pct достигает tp_pct.
// Приоритет 30.
type TakeProfitRule struct{}

func (TakeProfitRule) Priority() int { return 30 }
func (TakeProfitRule) Name() string  { return "take_profit" }

func (TakeProfitRule) Evaluate(ctx Context) (RuleResult, error) {
	if ctx.Config.TPPct <= 0 {
		return skip(), nil
	}
	if ctx.Position == nil || ctx.Position.Quantity == 0 || !ctx.Position.EntryPrice.IsPositive() {
		return skip(), nil
	}

	if ctx.Position.PnlPct >= ctx.Config.TPPct {
		reason := fmt.Sprintf("TP HIT %.2f%%", ctx.Position.PnlPct)
		return exit(reason, map[string]interface{}{"pnl_pct": ctx.Position.PnlPct, "tp_pct": ctx.Config.TPPct}), nil
	}
	return noAction(), nil
}
