package risk

import (
	"fmt"

	"github.com/shubhamtaywade82/riskcore/internal/config"
	"github.com/shubhamtaywade82/riskcore/internal/models"
)

// PeakDrawdownRule закрывает позицию, откатившуюся от своего максимума
// pnl_pct на тиеризованный (или фиксированный) порог. Активна только при
// peak_profit_pct > 0 - докризисный (pre-profit) откат игнорируется.
// Приоритет 45.
type PeakDrawdownRule struct{}

func (PeakDrawdownRule) Priority() int { return 45 }
func (PeakDrawdownRule) Name() string  { return "peak_drawdown" }

func (PeakDrawdownRule) Evaluate(ctx Context) (RuleResult, error) {
	if ctx.Position == nil {
		return skip(), nil
	}
	breached, applicable, reason, meta := EvaluatePeakDrawdown(ctx.Config, ctx.Position)
	if !applicable {
		return skip(), nil
	}
	if !breached {
		return noAction(), nil
	}
	return exit(reason, meta), nil
}

// EvaluatePeakDrawdown - чистая функция той же проверки, что и
// PeakDrawdownRule, вынесенная отдельно, чтобы TrailingEngine мог выполнять
// идентичную проверку на каждом тике, не дожидаясь очередного цикла
// RuleEngine. applicable=false означает, что
// правило выключено конфигом (Skip); applicable=true, breached=false - что
// условие выхода ещё не выполнено (NoAction).
func EvaluatePeakDrawdown(cfg config.RiskConfig, pos *models.PositionData) (breached, applicable bool, reason string, metadata map[string]interface{}) {
	threshold := cfg.PeakDrawdownPct
	if len(cfg.PeakDrawdownTiers) > 0 {
		tiered := cfg.DrawdownForPeak(pos.PeakProfitPct)
		if tiered <= 0 {
			return false, false, "", nil
		}
		threshold = tiered
	}
	if threshold <= 0 {
		return false, false, "", nil
	}

	if pos.PeakProfitPct <= 0 {
		return false, true, "", nil
	}

	if cfg.ActivationProfitPct > 0 {
		if pos.PeakProfitPct < cfg.ActivationProfitPct {
			return false, true, "", nil
		}
		requiredOffset := cfg.ActivationSLOffsetPct * pos.PeakProfitPct
		if pos.SLOffsetPct < requiredOffset {
			return false, true, "", nil
		}
	}

	drawdown := pos.DrawdownFromPeakPct()
	if drawdown < threshold {
		return false, true, "", nil
	}

	reason = fmt.Sprintf("peak_drawdown_exit (drawdown: %.2f%%, threshold: %.2f%%, peak: %.2f%%)",
		drawdown, threshold, pos.PeakProfitPct)
	metadata = map[string]interface{}{
		"drawdown_pct": drawdown,
		"threshold":    threshold,
		"peak_pct":     pos.PeakProfitPct,
	}
	return true, true, reason, metadata
}
