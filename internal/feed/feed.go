// Package feed delivers market ticks and tape entries to the tape engine.
// The websocket client owns reconnection and backoff; the engine never sees
// the transport.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rmonteiro-dev/tapeflow/internal/config"
	"github.com/rmonteiro-dev/tapeflow/pkg/models"
)

// Sink is the push interface the feed delivers into. The tape engine
// satisfies it directly.
type Sink interface {
	ProcessTick(tick models.MarketTick)
	ProcessTapeEntry(entry models.TapeEntry)
}

// frame is the wire envelope for feed messages.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	frameTick = "tick"
	frameTape = "tape"
)

// WSFeed is a websocket ingestion client with auto-reconnect and exponential
// backoff. Frames are decoded and pushed to the sink in arrival order.
type WSFeed struct {
	cfg    config.FeedConfig
	logger *zap.Logger
	sink   Sink
}

// NewWSFeed creates a websocket feed delivering into sink.
func NewWSFeed(cfg config.FeedConfig, logger *zap.Logger, sink Sink) *WSFeed {
	return &WSFeed{cfg: cfg, logger: logger, sink: sink}
}

// Run connects and consumes frames until the context is cancelled. Dial and
// read failures trigger a reconnect with exponential backoff, reset after a
// successful connection.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := f.cfg.ReconnectInterval

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
		if err != nil {
			f.logger.Warn("feed dial failed",
				zap.String("url", f.cfg.URL),
				zap.Duration("retryIn", backoff),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > f.cfg.MaxBackoff {
				backoff = f.cfg.MaxBackoff
			}
			continue
		}

		f.logger.Info("feed connected", zap.String("url", f.cfg.URL))
		backoff = f.cfg.ReconnectInterval

		if err := conn.WriteJSON(map[string]string{"subscribe": f.cfg.Symbol}); err != nil {
			f.logger.Warn("feed subscribe failed", zap.Error(err))
			conn.Close()
			continue
		}

		f.readLoop(ctx, conn)
		conn.Close()
	}
}

func (f *WSFeed) readLoop(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var fr frame
		if err := conn.ReadJSON(&fr); err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("feed read failed, reconnecting", zap.Error(err))
			}
			return
		}
		f.dispatch(fr)
	}
}

func (f *WSFeed) dispatch(fr frame) {
	switch fr.Type {
	case frameTick:
		var tick models.MarketTick
		if err := json.Unmarshal(fr.Data, &tick); err != nil {
			f.logger.Warn("undecodable tick frame", zap.Error(err))
			return
		}
		f.sink.ProcessTick(tick)
	case frameTape:
		var entry models.TapeEntry
		if err := json.Unmarshal(fr.Data, &entry); err != nil {
			f.logger.Warn("undecodable tape frame", zap.Error(err))
			return
		}
		f.sink.ProcessTapeEntry(entry)
	default:
		f.logger.Debug("unknown frame type", zap.String("type", fr.Type))
	}
}

// ReplayFeed pushes a prerecorded sequence into the sink, preserving order.
// Used by tests and paper-trading runs.
type ReplayFeed struct {
	Ticks   []models.MarketTick
	Entries []models.TapeEntry
}

// Run delivers all ticks, then all entries.
func (r *ReplayFeed) Run(ctx context.Context, sink Sink) error {
	for _, tick := range r.Ticks {
		if err := ctx.Err(); err != nil {
			return err
		}
		sink.ProcessTick(tick)
	}
	for _, entry := range r.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		sink.ProcessTapeEntry(entry)
	}
	return nil
}
