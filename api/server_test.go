package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rmonteiro-dev/tapeflow/internal/config"
	"github.com/rmonteiro-dev/tapeflow/internal/events"
	"github.com/rmonteiro-dev/tapeflow/internal/position"
	"github.com/rmonteiro-dev/tapeflow/internal/tape"
	"github.com/rmonteiro-dev/tapeflow/pkg/models"
)

func testServer(t *testing.T) (*Server, *position.Manager, *tape.Engine) {
	t.Helper()

	notifier := events.NewNotifier()
	logger := zap.NewNop()

	cfg, err := config.Load("")
	require.NoError(t, err)

	engine := tape.NewEngine(cfg.Tape, logger, notifier)
	manager := position.NewManager(cfg.Risk, logger, notifier)
	manager.Start()
	t.Cleanup(manager.Stop)

	return NewServer(logger, engine, manager), manager, engine
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _, _ := testServer(t)

	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStateEndpoint(t *testing.T) {
	s, _, engine := testServer(t)

	for i := 0; i < 10; i++ {
		engine.ProcessTick(models.MarketTick{
			Symbol:    "WDOFUT",
			Price:     100 + float64(i),
			Volume:    10,
			Timestamp: time.Now(),
		})
	}

	rec := get(t, s, "/api/v1/state")
	require.Equal(t, http.StatusOK, rec.Code)

	var state models.MarketState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, models.TrendBullish, state.Trend)
}

func TestLevelsAndProfileEndpoints(t *testing.T) {
	s, _, engine := testServer(t)

	engine.ProcessTick(models.MarketTick{
		Symbol: "WDOFUT", Price: 100, Volume: 50, Timestamp: time.Now(),
	})

	rec := get(t, s, "/api/v1/levels")
	require.Equal(t, http.StatusOK, rec.Code)
	var levels []models.PriceLevel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &levels))
	require.NotEmpty(t, levels)
	assert.InDelta(t, 100.0, levels[0].Price, 1e-9)

	rec = get(t, s, "/api/v1/profile")
	require.Equal(t, http.StatusOK, rec.Code)
	var clusters []models.VolumeCluster
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clusters))
	assert.NotEmpty(t, clusters)
}

func TestPortfolioEndpoint(t *testing.T) {
	s, manager, _ := testServer(t)

	_, err := manager.OpenPosition(position.Decision{
		Symbol: "WDOFUT", Side: models.SideLong, Size: 1, Price: 100,
	})
	require.NoError(t, err)

	rec := get(t, s, "/api/v1/portfolio")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Value   float64                 `json:"value"`
		Metrics models.PortfolioMetrics `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, manager.PortfolioValue(), body.Value, 1e-9)
}

func TestPositionsEndpoint(t *testing.T) {
	s, manager, _ := testServer(t)

	opened, err := manager.OpenPosition(position.Decision{
		Symbol: "WDOFUT", Side: models.SideShort, Size: 2, Price: 200,
	})
	require.NoError(t, err)

	rec := get(t, s, "/api/v1/positions")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Open   []models.Position `json:"open"`
		Closed []models.Position `json:"closed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Open, 1)
	assert.Equal(t, opened.ID, body.Open[0].ID)
	assert.Empty(t, body.Closed)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := testServer(t)

	rec := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tapeflow_")
}
