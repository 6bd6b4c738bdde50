// Package risk реализует RuleEngine - упорядоченный по priority набор
// правил выхода, применяемых к одной позиции за цикл RiskManager. Первое правило, вернувшее Exit, останавливает обход;
// Skip и NoAction одинаково продвигают обход дальше.
package risk

import (
	"time"

	"github.com/shubhamtaywade82/riskcore/internal/config"
	"github.com/shubhamtaywade82/riskcore/internal/models"
)

// Outcome - один из трёх возможных исходов оценки правила.
type Outcome int

const (
	// Skip - правило неприменимо (выключено конфигом или не участвует в
	// данном состоянии); обход продолжается.
	Skip Outcome = iota
	// NoAction - правило применимо, но условие выхода не выполнено.
	NoAction
	// ExitSignal - правило требует закрытия позиции.
	ExitSignal
)

// RuleResult - результат оценки одного правила.
type RuleResult struct {
	Outcome  Outcome
	Reason   string
	Metadata map[string]interface{}
}

func skip() RuleResult     { return RuleResult{Outcome: Skip} }
func noAction() RuleResult { return RuleResult{Outcome: NoAction} }

func exit(reason string, metadata map[string]interface{}) RuleResult {
	return RuleResult{Outcome: ExitSignal, Reason: reason, Metadata: metadata}
}

// TradingSession - предикат принудительного завершения сессии (например,
// по времени закрытия биржи). Правило SessionEnd имеет наивысший приоритет
// именно потому, что сессия может потребовать закрытия независимо от
// текущего PnL.
type TradingSession func(now time.Time) bool

// UnderlyingSignal - срез сигналов тренда/структуры/волатильности базового
// актива, на который смотрит правило UnderlyingExit.
type UnderlyingSignal struct {
	TrendScore      float64
	StructureBroken bool
	ATRRatio        float64 // текущий ATR / референсный ATR; >1 значит расширение
}

// UnderlyingMonitor поставляет сигналы по базовому активу - внешняя
// зависимость, за пределами этого пакета.
type UnderlyingMonitor interface {
	Signal(underlyingID string) (UnderlyingSignal, bool)
}

// Context - всё, что нужно правилу для оценки одной позиции: производный
// снимок, авторитетный трекер, смёрженный риск-конфиг, текущее время и
// предикат сессии. UnderlyingAware включает правило UnderlyingExit (флаг
// enable_underlying_aware_exits).
type Context struct {
	Position        *models.PositionData
	Tracker         *models.Tracker
	Config          config.RiskConfig
	Now             time.Time
	Session         TradingSession
	Underlying      UnderlyingMonitor
	UnderlyingAware bool
}

// Rule - одно правило выхода с фиксированным приоритетом (меньше - раньше).
type Rule interface {
	Priority() int
	Name() string
	Evaluate(ctx Context) (RuleResult, error)
}
