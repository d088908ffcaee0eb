package tape

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rmonteiro-dev/tapeflow/pkg/models"
)

// Detector pattern names.
const (
	PatternAbsorption      = "absorption-at-level"
	PatternHiddenLiquidity = "hidden-liquidity"
	PatternAggressiveFlow  = "aggressive-flow"
	PatternVolumeBreakout  = "volume-breakout"
)

// Historical success rates observed for each pattern, carried on emitted
// matches so downstream sizing can weight them.
var historicalSuccess = map[string]float64{
	PatternAbsorption:      0.78,
	PatternHiddenLiquidity: 0.71,
	PatternAggressiveFlow:  0.66,
	PatternVolumeBreakout:  0.62,
}

// runDetectors evaluates every pattern detector against the current state.
// Detectors are independent and may co-fire in the same cycle. Caller holds
// the engine mutex.
func (e *Engine) runDetectors(now time.Time) []models.PatternMatch {
	var matches []models.PatternMatch

	if m, ok := e.detectAbsorption(now); ok {
		matches = append(matches, m)
	}
	if m, ok := e.detectHiddenLiquidity(now); ok {
		matches = append(matches, m)
	}
	if m, ok := e.detectAggressiveFlow(now); ok {
		matches = append(matches, m)
	}
	if m, ok := e.detectVolumeBreakout(now); ok {
		matches = append(matches, m)
	}

	return matches
}

func newMatch(name string, confidence float64, timeframe time.Duration, now time.Time, params map[string]interface{}) models.PatternMatch {
	return models.PatternMatch{
		ID:                uuid.NewString(),
		Name:              name,
		Confidence:        confidence,
		Probability:       confidence / 100,
		HistoricalSuccess: historicalSuccess[name],
		Timeframe:         timeframe,
		Parameters:        params,
		DetectedAt:        now,
	}
}

// detectAbsorption fires on the strongest absorbed level among the top three
// by volume.
func (e *Engine) detectAbsorption(now time.Time) (models.PatternMatch, bool) {
	for _, level := range e.levels.topByVolume(3) {
		if !level.Absorption || level.TotalVolume <= e.cfg.AbsorptionMinVolume {
			continue
		}
		confidence := math.Min(90, level.TotalVolume/1000*100)
		buyShare := 0.0
		if level.TotalVolume > 0 {
			buyShare = level.BuyVolume / level.TotalVolume
		}
		return newMatch(PatternAbsorption, confidence, e.cfg.LevelRetention, now, map[string]interface{}{
			"price":    level.Price,
			"volume":   level.TotalVolume,
			"buyShare": buyShare,
			"touches":  level.Touches,
		}), true
	}
	return models.PatternMatch{}, false
}

// detectHiddenLiquidity fires on the largest recent cluster that keeps
// trading without tipping into absorption, suggesting an iceberg.
func (e *Engine) detectHiddenLiquidity(now time.Time) (models.PatternMatch, bool) {
	cluster, ok := e.clusters.largestNonAbsorbed(now, e.cfg.HiddenWindow)
	if !ok || cluster.Volume <= e.cfg.HiddenMinVolume {
		return models.PatternMatch{}, false
	}
	confidence := math.Min(85, cluster.Volume/1000*100)
	return newMatch(PatternHiddenLiquidity, confidence, e.cfg.HiddenWindow, now, map[string]interface{}{
		"price":  cluster.Price,
		"volume": cluster.Volume,
	}), true
}

// detectAggressiveFlow fires when net aggressor pressure clears the
// threshold in either direction.
func (e *Engine) detectAggressiveFlow(now time.Time) (models.PatternMatch, bool) {
	aggression := e.state.AggressionLevel
	if math.Abs(aggression) <= e.cfg.AggressiveFlowMin {
		return models.PatternMatch{}, false
	}
	direction := "buy"
	if aggression < 0 {
		direction = "sell"
	}
	confidence := math.Min(95, math.Abs(aggression)*100)
	return newMatch(PatternAggressiveFlow, confidence, 0, now, map[string]interface{}{
		"aggression": aggression,
		"direction":  direction,
	}), true
}

// detectVolumeBreakout compares the current fast tick-volume average against
// the preceding slow average.
func (e *Engine) detectVolumeBreakout(now time.Time) (models.PatternMatch, bool) {
	needed := e.cfg.BreakoutFastTicks + e.cfg.BreakoutSlowTicks
	if len(e.recentTicks) < needed {
		return models.PatternMatch{}, false
	}

	ticks := e.recentTicks[len(e.recentTicks)-needed:]
	slow := 0.0
	for _, tick := range ticks[:e.cfg.BreakoutSlowTicks] {
		slow += tick.Volume
	}
	slow /= float64(e.cfg.BreakoutSlowTicks)

	fast := 0.0
	for _, tick := range ticks[e.cfg.BreakoutSlowTicks:] {
		fast += tick.Volume
	}
	fast /= float64(e.cfg.BreakoutFastTicks)

	if slow == 0 || fast <= slow*e.cfg.BreakoutRatio {
		return models.PatternMatch{}, false
	}

	ratio := fast / slow
	confidence := math.Min(90, ratio*30)
	return newMatch(PatternVolumeBreakout, confidence, 0, now, map[string]interface{}{
		"fastAverage": fast,
		"slowAverage": slow,
		"ratio":       ratio,
	}), true
}
