package models

// RegimeName - классификация внутридневной фазы сессии.
type RegimeName string

const (
	RegimePreMarket         RegimeName = "pre_market"
	RegimeOpenExpansion     RegimeName = "open_expansion"
	RegimeTrendContinuation RegimeName = "trend_continuation"
	RegimeChopDecay         RegimeName = "chop_decay"
	RegimeCloseGamma        RegimeName = "close_gamma"
	RegimePostMarket        RegimeName = "post_market"
)

// RegimeWindow - конфигурация одного именованного режима: временное окно
// (HH:MM, в зоне биржи) и переопределения параметров риска, которые он
// накладывает поверх базового RiskConfig.
type RegimeWindow struct {
	Name           RegimeName
	Start          string // "HH:MM", может пересекать полночь (23:00 -> 02:00)
	End            string
	SLMultiplier   float64
	TPMultiplier   float64
	AllowEntries   bool
	AllowTrailing  bool
	AllowRunners   bool
	MinADX         float64
	MaxTPRupees    float64
}
