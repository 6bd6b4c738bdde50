package risk

import "fmt"

// TrailingStopRule закрывает позицию, когда pnl_pct откатился от
// high_water_mark (достигнутого только после активации трейлинга) на долю
// exit_drop_pct и более. Приоритет 50 - после PeakDrawdown, которое не
// зависит от активации трейлинга и обычно успевает сработать раньше.
type TrailingStopRule struct{}

func (TrailingStopRule) Priority() int { return 50 }
func (TrailingStopRule) Name() string  { return "trailing_stop" }

func (TrailingStopRule) Evaluate(ctx Context) (RuleResult, error) {
	if ctx.Config.ExitDropPct <= 0 {
		return skip(), nil
	}
	if ctx.Position == nil || ctx.Position.HighWaterMark <= 0 {
		return noAction(), nil
	}

	drop := (ctx.Position.HighWaterMark - ctx.Position.PnlPct) / ctx.Position.HighWaterMark
	if drop*100 < ctx.Config.ExitDropPct {
		return noAction(), nil
	}

	reason := fmt.Sprintf("TRAILING STOP %.2f%%", ctx.Position.PnlPct)
	return exit(reason, map[string]interface{}{
		"hwm_pct":  ctx.Position.HighWaterMark,
		"drop_pct": drop * 100,
	}), nil
}
