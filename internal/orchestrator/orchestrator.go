// Package orchestrator glues the collaborators together: it fans feed data
// into both engines, turns pattern events and ML predictions into trade
// decisions, and is the only component that calls the prediction service.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rmonteiro-dev/tapeflow/internal/config"
	"github.com/rmonteiro-dev/tapeflow/internal/events"
	"github.com/rmonteiro-dev/tapeflow/internal/mlclient"
	"github.com/rmonteiro-dev/tapeflow/internal/position"
	"github.com/rmonteiro-dev/tapeflow/internal/tape"
	"github.com/rmonteiro-dev/tapeflow/pkg/models"
)

// Predictor is the narrow boundary to the ML service. Nil-able; without a
// predictor the orchestrator trades on pattern direction alone.
type Predictor interface {
	Predict(ctx context.Context, req mlclient.Request) (*mlclient.Prediction, error)
}

// Orchestrator routes feed data and converts signals into trade decisions.
type Orchestrator struct {
	cfg       config.OrchestratorConfig
	logger    *zap.Logger
	tape      *tape.Engine
	manager   *position.Manager
	predictor Predictor
	notifier  *events.Notifier
	symbol    string

	// lastTrade and lastPrice are shared between the feed goroutine and the
	// event-loop goroutine.
	mu        sync.Mutex
	lastTrade time.Time
	lastPrice float64
}

// New creates an orchestrator. predictor may be nil.
func New(cfg config.OrchestratorConfig, symbol string, logger *zap.Logger,
	tapeEngine *tape.Engine, manager *position.Manager,
	predictor Predictor, notifier *events.Notifier) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		tape:      tapeEngine,
		manager:   manager,
		predictor: predictor,
		notifier:  notifier,
		symbol:    symbol,
	}
}

// ProcessTick forwards the tick to the tape engine and revalues open
// positions. Implements the feed sink.
func (o *Orchestrator) ProcessTick(tick models.MarketTick) {
	o.tape.ProcessTick(tick)

	o.mu.Lock()
	o.lastPrice = tick.Price
	o.mu.Unlock()

	err := o.manager.UpdatePosition(tick.Symbol, tick)
	if err != nil && !errors.Is(err, position.ErrManagerInactive) &&
		!errors.Is(err, position.ErrInvalidTickData) {
		o.logger.Warn("position update failed", zap.Error(err))
	}
}

// ProcessTapeEntry forwards the entry to the tape engine. Implements the
// feed sink.
func (o *Orchestrator) ProcessTapeEntry(entry models.TapeEntry) {
	o.tape.ProcessTapeEntry(entry)
}

// Run consumes pattern events until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	id, ch := o.notifier.Subscribe(events.TypePatternDetected)
	defer o.notifier.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			match, isMatch := evt.Payload.(models.PatternMatch)
			if !isMatch {
				continue
			}
			o.handlePattern(ctx, match)
		}
	}
}

// handlePattern gates a pattern event into at most one trade decision.
func (o *Orchestrator) handlePattern(ctx context.Context, match models.PatternMatch) {
	if match.Confidence < o.cfg.MinConfidence {
		return
	}

	o.mu.Lock()
	price := o.lastPrice
	sinceLastTrade := time.Since(o.lastTrade)
	o.mu.Unlock()

	if sinceLastTrade < o.cfg.TradeCooldown {
		return
	}
	if price <= 0 {
		return
	}

	side, ok := o.decideSide(ctx, match, price)
	if !ok {
		return
	}

	decision := position.Decision{
		Symbol: o.symbol,
		Side:   side,
		Size:   o.cfg.PositionSize,
		Price:  price,
		Reason: match.Name,
	}

	pos, err := o.manager.OpenPosition(decision)
	if err != nil {
		if errors.Is(err, position.ErrMaxPositionsReached) {
			o.logger.Debug("trade skipped, position cap reached",
				zap.String("pattern", match.Name))
			return
		}
		o.logger.Warn("trade decision rejected",
			zap.String("pattern", match.Name),
			zap.Error(err))
		return
	}

	o.mu.Lock()
	o.lastTrade = time.Now()
	o.mu.Unlock()

	o.logger.Info("trade opened from pattern",
		zap.String("pattern", match.Name),
		zap.String("positionId", pos.ID),
		zap.String("side", string(pos.Side)),
		zap.Float64("confidence", match.Confidence))
}

// decideSide resolves trade direction, preferring the ML prediction when
// available and confident enough, falling back to tape state.
func (o *Orchestrator) decideSide(ctx context.Context, match models.PatternMatch, price float64) (models.PositionSide, bool) {
	if o.predictor != nil {
		req := mlclient.Request{
			MarketSnapshot: mlclient.MarketSnapshot{
				Symbol: o.symbol,
				Price:  price,
				State:  o.tape.State(),
			},
			RecentTapeEntries: o.tape.RecentEntries(20),
			OrderFlowSummary: mlclient.OrderFlowSummary{
				TopLevels:     o.tape.TopLevels(5),
				VolumeProfile: o.tape.VolumeProfile(5 * time.Minute),
			},
		}
		pred, err := o.predictor.Predict(ctx, req)
		if err != nil {
			o.logger.Warn("prediction unavailable, falling back to tape state", zap.Error(err))
		} else {
			// Prediction confidence is a probability; the gate is on the
			// same 0-100 scale as pattern confidence.
			switch pred.Signal {
			case "buy":
				return models.SideLong, pred.Confidence*100 >= o.cfg.MinConfidence
			case "sell":
				return models.SideShort, pred.Confidence*100 >= o.cfg.MinConfidence
			default:
				return "", false
			}
		}
	}

	state := o.tape.State()
	if dir, hasDir := match.Parameters["direction"].(string); hasDir {
		if dir == "buy" {
			return models.SideLong, true
		}
		return models.SideShort, true
	}
	switch state.Trend {
	case models.TrendBullish:
		return models.SideLong, true
	case models.TrendBearish:
		return models.SideShort, true
	default:
		return "", false
	}
}
