package risk

// SessionEndRule завершает позицию, если предикат сессии требует
// принудительного закрытия - приоритет 10, выше любого PnL-правила,
// поскольку закрытие сессии не зависит от прибыли/убытка.
type SessionEndRule struct{}

func (SessionEndRule) Priority() int { return 10 }
func (SessionEndRule) Name() string  { return "session_end" }

func (SessionEndRule) Evaluate(ctx Context) (RuleResult, error) {
	if ctx.Session == nil {
		return skip(), nil
	}
	if !ctx.Session(ctx.Now) {
		return noAction(), nil
	}
	return exit("session end", nil), nil
}
