// Package tape implements the tape analysis engine: a rolling-window pattern
// detector over market ticks and printed trades. The engine owns the
// price-level store and the volume cluster tracker; everything else sees them
// only through read-only queries and emitted events.
package tape

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rmonteiro-dev/tapeflow/internal/config"
	"github.com/rmonteiro-dev/tapeflow/internal/events"
	"github.com/rmonteiro-dev/tapeflow/pkg/metrics"
	"github.com/rmonteiro-dev/tapeflow/pkg/models"
)

// Engine consumes market ticks and tape entries and maintains the derived
// microstructure state. All mutation is serialized behind a single mutex;
// read accessors take the read lock and return copies.
type Engine struct {
	mu     sync.RWMutex
	cfg    config.TapeConfig
	logger *zap.Logger
	events *events.Notifier

	recentTicks []models.MarketTick
	tapeEntries []models.TapeEntry
	levels      *levelStore
	clusters    *clusterTracker
	state       models.MarketState
}

// NewEngine creates a tape analysis engine with the given parameters.
func NewEngine(cfg config.TapeConfig, logger *zap.Logger, notifier *events.Notifier) *Engine {
	return &Engine{
		cfg:         cfg,
		logger:      logger,
		events:      notifier,
		recentTicks: make([]models.MarketTick, 0, cfg.RecentTicks),
		tapeEntries: make([]models.TapeEntry, 0, cfg.TapeBufferSize),
		levels:      newLevelStore(cfg.TickSize, cfg.LevelRetention),
		clusters: newClusterTracker(cfg.ClusterDistance, cfg.ClusterWindow,
			cfg.MaxClusters, cfg.AbsorptionShare, cfg.ClusterAbsorptionVolume),
		state: models.MarketState{Trend: models.TrendNeutral},
	}
}

// ProcessTick ingests one market tick. It never returns an error to the feed:
// malformed ticks are dropped with a warning and a processing panic is
// confined to this call so the next tick starts from consistent state.
func (e *Engine) ProcessTick(tick models.MarketTick) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tick processing panic",
				zap.Any("panic", r),
				zap.String("symbol", tick.Symbol),
				zap.Float64("price", tick.Price))
		}
	}()

	if !tick.Valid() {
		metrics.TicksDropped.WithLabelValues(tick.Symbol).Inc()
		e.logger.Warn("dropping malformed tick",
			zap.String("symbol", tick.Symbol),
			zap.Float64("price", tick.Price),
			zap.Float64("volume", tick.Volume))
		return
	}

	now := tick.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	matches := func() []models.PatternMatch {
		e.mu.Lock()
		defer e.mu.Unlock()

		e.appendTick(tick)

		contribution := tick.Volume * e.cfg.LevelVolumeFraction
		level := e.levels.add(tick.Price, contribution, tick.PriceChange, e.cfg.LevelBuySplit, now)
		e.refreshLevelAbsorption(level)
		e.levels.evict(now)

		e.clusters.add(tick.Price, tick.Volume, tick.PriceChange, e.cfg.ClusterBuySplit, now)

		e.state.Trend = e.computeTrend()

		return e.runDetectors(now)
	}()

	metrics.TicksProcessed.WithLabelValues(tick.Symbol).Inc()

	for _, match := range matches {
		metrics.PatternsDetected.WithLabelValues(match.Name).Inc()
		e.events.Publish(events.TypePatternDetected, match)
		e.logger.Debug("pattern detected",
			zap.String("pattern", match.Name),
			zap.Float64("confidence", match.Confidence))
	}
}

// ProcessTapeEntry ingests one printed trade, classifying it in place and
// updating the aggression, liquidity and absorption state.
func (e *Engine) ProcessTapeEntry(entry models.TapeEntry) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tape entry processing panic",
				zap.Any("panic", r),
				zap.Float64("price", entry.Price))
		}
	}()

	if math.IsNaN(entry.Price) || math.IsInf(entry.Price, 0) ||
		math.IsNaN(entry.Volume) || math.IsInf(entry.Volume, 0) || entry.Volume < 0 {
		e.logger.Warn("dropping malformed tape entry",
			zap.Float64("price", entry.Price),
			zap.Float64("volume", entry.Volume))
		return
	}

	now := entry.Timestamp
	if now.IsZero() {
		now = time.Now()
		entry.Timestamp = now
	}

	var (
		falseOrders bool
		sample      int
	)
	func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		e.classify(&entry)
		e.appendEntry(entry)

		e.state.AggressionLevel = e.computeAggression()
		e.state.LiquidityLevel = e.computeLiquidity()

		e.checkLevelAbsorption(&entry)
		falseOrders, sample = e.detectFalseOrders(entry)
	}()

	metrics.TapeEntriesProcessed.Inc()
	metrics.AggressionLevel.Set(e.State().AggressionLevel)

	if falseOrders {
		e.events.Publish(events.TypeFalseOrders, map[string]interface{}{
			"price":      entry.Price,
			"sampleSize": sample,
			"timestamp":  now,
		})
		e.logger.Debug("false-order signature on tape",
			zap.Float64("price", entry.Price),
			zap.Int("sampleSize", sample))
	}
}

func (e *Engine) appendTick(tick models.MarketTick) {
	e.recentTicks = append(e.recentTicks, tick)
	if len(e.recentTicks) > e.cfg.RecentTicks {
		e.recentTicks = e.recentTicks[len(e.recentTicks)-e.cfg.RecentTicks:]
	}
}

func (e *Engine) appendEntry(entry models.TapeEntry) {
	e.tapeEntries = append(e.tapeEntries, entry)
	if len(e.tapeEntries) > e.cfg.TapeBufferSize {
		e.tapeEntries = e.tapeEntries[len(e.tapeEntries)-e.cfg.TapeBufferSize:]
	}
}

// classify derives IsLarge, IsDominant and the aggressor side. The entry is
// mutated exactly once, here, before it enters the buffer.
func (e *Engine) classify(entry *models.TapeEntry) {
	entry.IsLarge = entry.Volume >= e.cfg.LargeVolume
	entry.IsDominant = entry.Volume >= e.cfg.DominantVolume

	if entry.Aggressor == "" {
		entry.Aggressor = models.AggressorUnknown
	}

	lookback := e.cfg.AggressorLookback
	if len(e.tapeEntries) < lookback {
		return
	}
	sum := 0.0
	for _, prev := range e.tapeEntries[len(e.tapeEntries)-lookback:] {
		sum += prev.Price
	}
	mean := sum / float64(lookback)

	switch {
	case entry.Price > mean:
		entry.Aggressor = models.AggressorBuyer
	case entry.Price < mean:
		entry.Aggressor = models.AggressorSeller
	}
	// equal to the mean leaves the side unchanged
}

// computeTrend classifies market structure over the trailing trend window.
func (e *Engine) computeTrend() models.Trend {
	window := e.cfg.TrendTicks
	if len(e.recentTicks) < window {
		window = len(e.recentTicks)
	}
	if window == 0 {
		return models.TrendNeutral
	}

	ups, downs := 0, 0
	for _, tick := range e.recentTicks[len(e.recentTicks)-window:] {
		switch {
		case tick.PriceChange > 0:
			ups++
		case tick.PriceChange < 0:
			downs++
		}
	}

	switch {
	case ups > 0 && float64(ups) >= float64(downs)*e.cfg.TrendRatio:
		return models.TrendBullish
	case downs > 0 && float64(downs) >= float64(ups)*e.cfg.TrendRatio:
		return models.TrendBearish
	default:
		return models.TrendNeutral
	}
}

// computeAggression returns the normalized net directional pressure over the
// aggression window, in [-1, 1].
func (e *Engine) computeAggression() float64 {
	window := e.windowEntries(e.cfg.AggressionWindow)
	var buy, sell float64
	for _, entry := range window {
		switch entry.Aggressor {
		case models.AggressorBuyer:
			buy += entry.Volume
		case models.AggressorSeller:
			sell += entry.Volume
		}
	}
	total := buy + sell
	if total == 0 {
		return 0
	}
	return (buy - sell) / total
}

// computeLiquidity returns the fraction of recent entries flagged large.
func (e *Engine) computeLiquidity() float64 {
	window := e.windowEntries(e.cfg.AggressionWindow)
	if len(window) == 0 {
		return 0
	}
	large := 0
	for _, entry := range window {
		if entry.IsLarge {
			large++
		}
	}
	return float64(large) / float64(len(window))
}

func (e *Engine) windowEntries(n int) []models.TapeEntry {
	if len(e.tapeEntries) <= n {
		return e.tapeEntries
	}
	return e.tapeEntries[len(e.tapeEntries)-n:]
}

// refreshLevelAbsorption flags a level once its volume is one-sided past the
// absorption threshold. The flag is sticky until the level is evicted.
func (e *Engine) refreshLevelAbsorption(level *models.PriceLevel) bool {
	if level == nil || level.TotalVolume <= e.cfg.LevelAbsorptionVolume {
		return false
	}
	buyShare := level.BuyVolume / level.TotalVolume
	if buyShare >= e.cfg.AbsorptionShare || (1-buyShare) >= e.cfg.AbsorptionShare {
		level.Absorption = true
		return true
	}
	return false
}

// checkLevelAbsorption flags both the entry and its price level when the
// level shows one-sided volume past the absorption threshold.
func (e *Engine) checkLevelAbsorption(entry *models.TapeEntry) {
	level := e.levels.get(entry.Price)
	if !e.refreshLevelAbsorption(level) {
		return
	}
	entry.Absorption = true
	if n := len(e.tapeEntries); n > 0 {
		e.tapeEntries[n-1].Absorption = true
	}
}

// detectFalseOrders looks for erratic volume among recent prints at this
// price: a volume standard deviation above half the mean suggests orders
// being flashed and pulled.
func (e *Engine) detectFalseOrders(entry models.TapeEntry) (bool, int) {
	var volumes []float64
	for _, prev := range e.windowEntries(e.cfg.FalseOrderLookback) {
		if math.Abs(prev.Price-entry.Price) <= e.cfg.TickSize {
			volumes = append(volumes, prev.Volume)
		}
	}
	if len(volumes) <= e.cfg.FalseOrderMinCount {
		return false, len(volumes)
	}

	mean := 0.0
	for _, v := range volumes {
		mean += v
	}
	mean /= float64(len(volumes))
	if mean == 0 {
		return false, len(volumes)
	}

	variance := 0.0
	for _, v := range volumes {
		diff := v - mean
		variance += diff * diff
	}
	stddev := math.Sqrt(variance / float64(len(volumes)))

	return stddev > mean*e.cfg.FalseOrderStdRatio, len(volumes)
}

// State returns the current rolling trend/aggression/liquidity state.
func (e *Engine) State() models.MarketState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// TopLevels returns copies of the n most traded price levels.
func (e *Engine) TopLevels(n int) []models.PriceLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.levels.topByVolume(n)
}

// VolumeProfile returns copies of the clusters touched inside the window.
func (e *Engine) VolumeProfile(window time.Duration) []models.VolumeCluster {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clusters.recent(time.Now(), window)
}

// RecentEntries returns copies of the n most recent classified tape entries.
func (e *Engine) RecentEntries(n int) []models.TapeEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	window := e.windowEntries(n)
	out := make([]models.TapeEntry, len(window))
	copy(out, window)
	return out
}

// RecentTicks returns copies of the n most recent ticks.
func (e *Engine) RecentTicks(n int) []models.MarketTick {
	e.mu.RLock()
	defer e.mu.RUnlock()
	start := len(e.recentTicks) - n
	if start < 0 {
		start = 0
	}
	out := make([]models.MarketTick, len(e.recentTicks)-start)
	copy(out, e.recentTicks[start:])
	return out
}
