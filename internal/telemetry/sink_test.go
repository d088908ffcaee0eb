package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rmonteiro-dev/tapeflow/internal/config"
	"github.com/rmonteiro-dev/tapeflow/internal/events"
	"github.com/rmonteiro-dev/tapeflow/pkg/models"
)

func newObservedSink(t *testing.T) (*Sink, *events.Notifier, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	notifier := events.NewNotifier()
	sink := NewSink(config.RedisConfig{Enabled: false}, time.Hour, zap.New(core), notifier)
	return sink, notifier, logs
}

func TestSinkLogsSnapshot(t *testing.T) {
	sink, _, logs := newObservedSink(t)

	sink.handle(context.Background(), events.Event{
		Type: events.TypeSnapshotCreated,
		Payload: models.PortfolioSnapshot{
			Timestamp:  time.Now(),
			TotalValue: 10250.5,
		},
	})

	entries := logs.FilterMessage("portfolio snapshot").All()
	require.Len(t, entries, 1)
	assert.InDelta(t, 10250.5, entries[0].ContextMap()["value"], 1e-9)
}

func TestSinkLogsPositionLifecycle(t *testing.T) {
	sink, _, logs := newObservedSink(t)

	sink.handle(context.Background(), events.Event{
		Type: events.TypePositionClosed,
		Payload: models.Position{
			ID:     "p1",
			Symbol: "WDOFUT",
			Side:   models.SideLong,
			PnL:    -2.1,
		},
	})

	entries := logs.FilterMessage(string(events.TypePositionClosed)).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "p1", entries[0].ContextMap()["id"])
	assert.InDelta(t, -2.1, entries[0].ContextMap()["pnl"], 1e-9)
}

func TestSinkIgnoresWrongPayloadType(t *testing.T) {
	sink, _, logs := newObservedSink(t)

	sink.handle(context.Background(), events.Event{
		Type:    events.TypeSnapshotCreated,
		Payload: "not a snapshot",
	})
	assert.Zero(t, logs.Len())
}

func TestSinkRunConsumesPublishedEvents(t *testing.T) {
	sink, notifier, logs := newObservedSink(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sink.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		notifier.Publish(events.TypePositionOpened, models.Position{ID: "p2", Symbol: "WDOFUT"})
		return logs.FilterMessage(string(events.TypePositionOpened)).Len() > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestCloseWithoutRedis(t *testing.T) {
	sink, _, _ := newObservedSink(t)
	assert.NoError(t, sink.Close())
}
