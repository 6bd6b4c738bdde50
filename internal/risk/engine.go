package risk

import (
	"sort"

	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

// Engine - RuleEngine: хранит правила, отсортированные по возрастанию
// priority, и применяет их по очереди к Context до первого ExitSignal.
type Engine struct {
	rules  []Rule
	logger *utils.Logger
}

// NewEngine собирает Engine из набора правил, сортируя их по priority.
// Порядок внутри одного priority не определён - приоритеты должны быть
// уникальны среди встроенных правил (см. таблицу в).
func NewEngine(logger *utils.Logger, rules ...Rule) *Engine {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })
	return &Engine{rules: sorted, logger: logger}
}

// Evaluate обходит правила в порядке priority. Уже терминальный трекер
// немедленно даёт Skip. Ошибка оценки правила логируется и трактуется как
// Skip для этого правила - она не останавливает обход остальных.
func (e *Engine) Evaluate(ctx Context) RuleResult {
	if ctx.Tracker == nil || models.IsTerminal(ctx.Tracker.Status) {
		return skip()
	}

	for _, r := range e.rules {
		result, err := e.safeEvaluate(r, ctx)
		if err != nil {
			if e.logger != nil {
				e.logger.Warn("rule evaluation failed, treated as skip",
					utils.String("rule", r.Name()), utils.Err(err))
			}
			continue
		}
		if result.Outcome == ExitSignal {
			return result
		}
	}
	return noAction()
}

func (e *Engine) safeEvaluate(r Rule, ctx Context) (result RuleResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = skip()
			if e.logger != nil {
				e.logger.Error("rule panicked during evaluation",
					utils.String("rule", r.Name()), utils.Any("recover", rec))
			}
		}
	}()
	return r.Evaluate(ctx)
}
