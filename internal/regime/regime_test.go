package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shubhamtaywade82/riskcore/internal/config"
	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

func istTime(hh, mm int) time.Time {
	loc := utils.ExchangeLocation()
	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, loc)
}

func testRegimes() map[string]models.RegimeWindow {
	return map[string]models.RegimeWindow{
		string(models.RegimeOpenExpansion): {
			Name: models.RegimeOpenExpansion, Start: "09:15", End: "09:45",
			AllowEntries: true, AllowTrailing: true,
		},
		string(models.RegimeChopDecay): {
			Name: models.RegimeChopDecay, Start: "13:00", End: "14:15",
			AllowEntries: true, AllowTrailing: true, AllowRunners: false,
		},
		string(models.RegimePostMarket): {
			Name: models.RegimePostMarket, Start: "15:30", End: "09:00",
			AllowEntries: false,
		},
	}
}

func TestResolve_MatchesWindow(t *testing.T) {
	regimes := testRegimes()
	w := Resolve(regimes, istTime(9, 20))
	assert.Equal(t, models.RegimeOpenExpansion, w.Name)
}

func TestResolve_OvernightWindow(t *testing.T) {
	regimes := testRegimes()
	w := Resolve(regimes, istTime(23, 0))
	assert.Equal(t, models.RegimePostMarket, w.Name)
}

func TestResolve_FallsBackWhenUncovered(t *testing.T) {
	regimes := map[string]models.RegimeWindow{}
	w := Resolve(regimes, istTime(10, 0))
	assert.Equal(t, fallback.Name, w.Name)
}

func TestEntriesAllowed_BlockedByHardCutoff(t *testing.T) {
	cfg := &config.Config{Regimes: testRegimes()}
	cfg.Risk.HardEntryCutoffHHMM = "13:30"
	assert.False(t, EntriesAllowed(cfg, istTime(14, 0)))
}

func TestEntriesAllowed_BlockedByRegime(t *testing.T) {
	cfg := &config.Config{Regimes: testRegimes()}
	cfg.Risk.HardEntryCutoffHHMM = "15:00"
	assert.False(t, EntriesAllowed(cfg, istTime(23, 0)))
}

func TestEntriesAllowed_AllowedWhenBothPass(t *testing.T) {
	cfg := &config.Config{Regimes: testRegimes()}
	cfg.Risk.HardEntryCutoffHHMM = "15:00"
	assert.True(t, EntriesAllowed(cfg, istTime(13, 10)))
}
