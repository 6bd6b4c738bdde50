package risk

import "github.com/shubhamtaywade82/riskcore/internal/models"

// UnderlyingExitRule закрывает позицию, когда сигнал по базовому активу
// (тренд/структура/ATR) расходится с направлением позиции. Включается
// только флагом enable_underlying_aware_exits и требует настроенного
// UnderlyingMonitor. Приоритет 60 - самый низкий, срабатывает только если
// ни одно ценовое правило не дало сигнала.
type UnderlyingExitRule struct{}

func (UnderlyingExitRule) Priority() int { return 60 }
func (UnderlyingExitRule) Name() string  { return "underlying_exit" }

func (UnderlyingExitRule) Evaluate(ctx Context) (RuleResult, error) {
	if !ctx.UnderlyingAware || ctx.Underlying == nil {
		return skip(), nil
	}
	if ctx.Config.UnderlyingTrendScoreThreshold <= 0 && ctx.Config.UnderlyingATRCollapseMultiplier <= 0 {
		return skip(), nil
	}
	if ctx.Position == nil || ctx.Position.UnderlyingID == "" {
		return skip(), nil
	}

	signal, ok := ctx.Underlying.Signal(ctx.Position.UnderlyingID)
	if !ok {
		return noAction(), nil
	}

	if signal.StructureBroken {
		return exit("underlying_structure_break", map[string]interface{}{"underlying_id": ctx.Position.UnderlyingID}), nil
	}

	if ctx.Config.UnderlyingTrendScoreThreshold > 0 && trendAgainstDirection(signal.TrendScore, ctx.Position.Direction, ctx.Config.UnderlyingTrendScoreThreshold) {
		return exit("underlying_trend_weak", map[string]interface{}{"trend_score": signal.TrendScore}), nil
	}

	if ctx.Config.UnderlyingATRCollapseMultiplier > 0 && signal.ATRRatio > 0 && signal.ATRRatio <= 1/ctx.Config.UnderlyingATRCollapseMultiplier {
		return exit("underlying_atr_collapse", map[string]interface{}{"atr_ratio": signal.ATRRatio}), nil
	}

	return noAction(), nil
}

// trendAgainstDirection сообщает, что тренд базового актива ослаб ниже
// threshold в направлении, невыгодном для позиции: для bullish (long CE)
// ожидается положительный тренд, для bearish (long PE) - отрицательный.
func trendAgainstDirection(trendScore float64, direction models.PositionDirection, threshold float64) bool {
	switch direction {
	case models.DirectionBullish:
		return trendScore < threshold
	case models.DirectionBearish:
		return trendScore > -threshold
	default:
		return false
	}
}
