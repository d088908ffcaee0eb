package position

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rmonteiro-dev/tapeflow/internal/events"
	"github.com/rmonteiro-dev/tapeflow/pkg/models"
)

func TestSharpeKnownSeries(t *testing.T) {
	m := newTestManager(t)

	m.mu.Lock()
	m.returns = []float64{0.01, 0.02, -0.01, 0.03, 0.01}
	m.mu.Unlock()

	mean := (0.01 + 0.02 - 0.01 + 0.03 + 0.01) / 5
	variance := 0.0
	for _, r := range []float64{0.01, 0.02, -0.01, 0.03, 0.01} {
		variance += (r - mean) * (r - mean)
	}
	stddev := math.Sqrt(variance / 4)
	expected := mean / stddev * math.Sqrt(252)

	assert.InDelta(t, expected, m.PortfolioMetrics().SharpeRatio, 1e-9)
}

func TestSharpeDegenerateCases(t *testing.T) {
	m := newTestManager(t)

	assert.Zero(t, m.PortfolioMetrics().SharpeRatio, "no returns")

	m.mu.Lock()
	m.returns = []float64{0.01}
	m.mu.Unlock()
	assert.Zero(t, m.PortfolioMetrics().SharpeRatio, "one sample")

	m.mu.Lock()
	m.returns = []float64{0.01, 0.01, 0.01}
	m.mu.Unlock()
	assert.Zero(t, m.PortfolioMetrics().SharpeRatio, "zero variance")
}

func TestCalmarRatio(t *testing.T) {
	m := newTestManager(t)

	assert.Zero(t, m.PortfolioMetrics().CalmarRatio, "no drawdown yet")

	// Walk value 1000 -> 1200 -> 900 -> 1100: return 0.10, max drawdown 0.25.
	m.mu.Lock()
	m.realizedPnL = 200
	m.revalueLocked()
	m.realizedPnL = -100
	m.revalueLocked()
	m.realizedPnL = 100
	m.revalueLocked()
	m.mu.Unlock()

	assert.InDelta(t, 0.10/0.25, m.PortfolioMetrics().CalmarRatio, 1e-9)
}

func TestWinRateAndProfitFactor(t *testing.T) {
	m := newTestManager(t)

	m.mu.Lock()
	m.closed = []models.Position{
		{PnL: 10}, {PnL: 30}, {PnL: -8}, {PnL: -2}, {PnL: 5},
	}
	m.mu.Unlock()

	got := m.PortfolioMetrics()
	assert.Equal(t, 5, got.TotalTrades)
	assert.Equal(t, 3, got.WinningTrades)
	assert.Equal(t, 2, got.LosingTrades)
	assert.InDelta(t, 0.6, got.WinRate, 1e-9)

	// avgWin 15, avgLoss 5.
	assert.InDelta(t, 3.0, got.ProfitFactor, 1e-9)
}

func TestProfitFactorUndefinedWithoutLosses(t *testing.T) {
	m := newTestManager(t)

	m.mu.Lock()
	m.closed = []models.Position{{PnL: 10}, {PnL: 5}}
	m.mu.Unlock()

	got := m.PortfolioMetrics()
	assert.InDelta(t, 1.0, got.WinRate, 1e-9)
	assert.Zero(t, got.ProfitFactor)
}

func TestValueAtRiskNeedsSamples(t *testing.T) {
	m := newTestManager(t)

	m.mu.Lock()
	m.returns = []float64{-0.05, 0.01, 0.02, -0.01, 0.03, 0.01, -0.02, 0.02, 0.01}
	m.mu.Unlock()

	require.Less(t, len(m.returns), minVaRSamples)
	assert.Zero(t, m.RiskMetrics().ValueAtRisk)
}

func TestValueAtRiskQuantile(t *testing.T) {
	m := newTestManager(t)

	returns := make([]float64, 20)
	for i := range returns {
		returns[i] = float64(i-10) / 100 // -0.10 .. 0.09
	}
	m.mu.Lock()
	m.returns = returns
	m.mu.Unlock()

	// At 95% confidence over 20 sorted samples the loss quantile lands on
	// index 1, the -0.09 return, against the starting value of 1000.
	assert.InDelta(t, 0.09*1000, m.RiskMetrics().ValueAtRisk, 1e-9)
}

func TestExposureConcentrationAndLeverage(t *testing.T) {
	m := newTestManager(t)

	_, err := m.OpenPosition(Decision{
		Symbol: "WDOFUT", Side: models.SideLong, Size: 3, Price: 100,
		StopLossPoints: 50, TakeProfitPoints: 50,
	})
	require.NoError(t, err)

	got := m.RiskMetrics()
	assert.InDelta(t, 300.0, got.GrossExposure, 1e-9)

	value := m.PortfolioValue()
	assert.InDelta(t, 300.0/value, got.ConcentrationRisk, 1e-9)
	assert.InDelta(t, 300.0/value, got.Leverage, 1e-9)
}

func TestMetricsZeroValueManager(t *testing.T) {
	m := NewManager(testRiskConfig(), zap.NewNop(), events.NewNotifier())

	got := m.PortfolioMetrics()
	assert.Zero(t, got.TotalTrades)
	assert.Zero(t, got.TotalReturn)

	risk := m.RiskMetrics()
	assert.Zero(t, risk.MaxDrawdown)
	assert.InDelta(t, 1000.0, risk.PeakValue, 1e-9)
}
