// Package telemetry subscribes to engine lifecycle events, logs them and
// optionally persists portfolio snapshots to Redis. Delivery is best-effort;
// a failed write never reaches back into the engines.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rmonteiro-dev/tapeflow/internal/config"
	"github.com/rmonteiro-dev/tapeflow/internal/events"
	"github.com/rmonteiro-dev/tapeflow/pkg/models"
)

const (
	snapshotKeyPrefix = "tapeflow:snapshot:"
	snapshotIndexKey  = "tapeflow:snapshots"
)

// snapshotRecord is the persisted shape of a snapshot. Money fields are
// stored as fixed-precision strings.
type snapshotRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	TotalValue  string    `json:"totalValue"`
	RealizedPnL string    `json:"realizedPnL"`
	MaxDrawdown string    `json:"maxDrawdown"`
	Positions   int       `json:"positions"`
}

// Sink logs lifecycle events and persists snapshots.
type Sink struct {
	logger    *zap.Logger
	notifier  *events.Notifier
	redis     *redis.Client
	retention time.Duration
}

// NewSink creates a telemetry sink. The Redis client is optional; without it
// snapshots are only logged.
func NewSink(cfg config.RedisConfig, retention time.Duration, logger *zap.Logger, notifier *events.Notifier) *Sink {
	s := &Sink{
		logger:    logger,
		notifier:  notifier,
		retention: retention,
	}
	if cfg.Enabled {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}
	return s
}

// Run consumes events until the context is cancelled.
func (s *Sink) Run(ctx context.Context) {
	id, ch := s.notifier.Subscribe(
		events.TypePositionOpened,
		events.TypePositionClosed,
		events.TypePositionUpdated,
		events.TypeSnapshotCreated,
		events.TypeEmergencyClose,
	)
	defer s.notifier.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			s.handle(ctx, evt)
		}
	}
}

func (s *Sink) handle(ctx context.Context, evt events.Event) {
	switch evt.Type {
	case events.TypeSnapshotCreated:
		snapshot, ok := evt.Payload.(models.PortfolioSnapshot)
		if !ok {
			return
		}
		s.logger.Info("portfolio snapshot",
			zap.Time("at", snapshot.Timestamp),
			zap.Float64("value", snapshot.TotalValue),
			zap.Float64("maxDrawdown", snapshot.RiskMetrics.MaxDrawdown),
			zap.Int("openPositions", len(snapshot.Positions)))
		if s.redis != nil {
			if err := s.persistSnapshot(ctx, snapshot); err != nil {
				s.logger.Warn("snapshot persistence failed", zap.Error(err))
			}
		}
	case events.TypePositionOpened, events.TypePositionClosed, events.TypePositionUpdated:
		pos, ok := evt.Payload.(models.Position)
		if !ok {
			return
		}
		s.logger.Info(string(evt.Type),
			zap.String("id", pos.ID),
			zap.String("symbol", pos.Symbol),
			zap.String("side", string(pos.Side)),
			zap.Float64("pnl", pos.PnL),
			zap.Float64("unrealizedPnL", pos.UnrealizedPnL))
	case events.TypeEmergencyClose:
		s.logger.Warn("emergency close all", zap.Any("details", evt.Payload))
	}
}

// persistSnapshot writes the snapshot record and trims expired index
// entries. Writes are best-effort; a lost snapshot is recreated on the next
// timer tick.
func (s *Sink) persistSnapshot(ctx context.Context, snapshot models.PortfolioSnapshot) error {
	record := snapshotRecord{
		Timestamp:   snapshot.Timestamp,
		TotalValue:  decimal.NewFromFloat(snapshot.TotalValue).StringFixed(2),
		RealizedPnL: decimal.NewFromFloat(snapshot.Metrics.RealizedPnL).StringFixed(2),
		MaxDrawdown: decimal.NewFromFloat(snapshot.RiskMetrics.MaxDrawdown).StringFixed(4),
		Positions:   len(snapshot.Positions),
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal snapshot record: %w", err)
	}

	key := fmt.Sprintf("%s%d", snapshotKeyPrefix, snapshot.Timestamp.UnixNano())
	pipe := s.redis.Pipeline()
	pipe.Set(ctx, key, payload, s.retention)
	pipe.ZAdd(ctx, snapshotIndexKey, redis.Z{
		Score:  float64(snapshot.Timestamp.Unix()),
		Member: key,
	})
	cutoff := snapshot.Timestamp.Add(-s.retention)
	pipe.ZRemRangeByScore(ctx, snapshotIndexKey, "0", fmt.Sprintf("%d", cutoff.Unix()))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write snapshot to redis: %w", err)
	}
	return nil
}

// Close releases the Redis connection if one was opened.
func (s *Sink) Close() error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Close()
}
