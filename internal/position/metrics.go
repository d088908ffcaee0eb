package position

import (
	"math"
	"sort"

	"github.com/rmonteiro-dev/tapeflow/pkg/models"
)

const (
	annualizationFactor = 252
	minVaRSamples       = 10
)

// PortfolioMetrics computes the performance statistics on demand.
func (m *Manager) PortfolioMetrics() models.PortfolioMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metricsLocked()
}

// RiskMetrics computes the risk statistics on demand.
func (m *Manager) RiskMetrics() models.RiskMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.riskMetricsLocked()
}

func (m *Manager) metricsLocked() models.PortfolioMetrics {
	out := models.PortfolioMetrics{
		TotalTrades:     len(m.closed),
		RealizedPnL:     m.realizedPnL,
		TotalCommission: m.totalCommission,
		TotalSlippage:   m.totalSlippage,
	}

	for _, pos := range m.open {
		out.UnrealizedPnL += pos.UnrealizedPnL
	}

	var winSum, lossSum float64
	for _, pos := range m.closed {
		if pos.PnL > 0 {
			out.WinningTrades++
			winSum += pos.PnL
		} else {
			out.LosingTrades++
			lossSum += -pos.PnL
		}
	}
	if out.TotalTrades > 0 {
		out.WinRate = float64(out.WinningTrades) / float64(out.TotalTrades)
	}
	if out.WinningTrades > 0 && out.LosingTrades > 0 && lossSum > 0 {
		avgWin := winSum / float64(out.WinningTrades)
		avgLoss := lossSum / float64(out.LosingTrades)
		out.ProfitFactor = avgWin / avgLoss
	}

	if m.cfg.StartingValue > 0 {
		out.TotalReturn = (m.currentValue - m.cfg.StartingValue) / m.cfg.StartingValue
	}
	out.SharpeRatio = m.sharpeLocked()
	out.CalmarRatio = m.calmarLocked(out.TotalReturn)

	return out
}

func (m *Manager) riskMetricsLocked() models.RiskMetrics {
	out := models.RiskMetrics{
		CurrentDrawdown: m.currentDrawdown,
		MaxDrawdown:     m.maxDrawdown,
		PeakValue:       m.peakValue,
		ValueAtRisk:     m.valueAtRiskLocked(),
	}

	exposureBySymbol := make(map[string]float64)
	for _, pos := range m.open {
		exposure := math.Abs(pos.CurrentPrice * pos.Size)
		exposureBySymbol[pos.Symbol] += exposure
		out.GrossExposure += exposure
	}

	if m.currentValue > 0 {
		largest := 0.0
		for _, exposure := range exposureBySymbol {
			if exposure > largest {
				largest = exposure
			}
		}
		out.ConcentrationRisk = largest / m.currentValue
		out.Leverage = out.GrossExposure / m.currentValue
	}

	return out
}

// sharpeLocked annualizes the mean/stddev ratio of the periodic return
// history.
func (m *Manager) sharpeLocked() float64 {
	if len(m.returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range m.returns {
		mean += r
	}
	mean /= float64(len(m.returns))

	variance := 0.0
	for _, r := range m.returns {
		diff := r - mean
		variance += diff * diff
	}
	stddev := math.Sqrt(variance / float64(len(m.returns)-1))
	if stddev == 0 {
		return 0
	}

	return mean / stddev * math.Sqrt(annualizationFactor)
}

func (m *Manager) calmarLocked(totalReturn float64) float64 {
	if m.maxDrawdown == 0 {
		return 0
	}
	return totalReturn / m.maxDrawdown
}

// valueAtRiskLocked is the empirical loss quantile of the return history at
// the configured confidence level, scaled to the current portfolio value.
// Reported as 0 until enough samples accumulate.
func (m *Manager) valueAtRiskLocked() float64 {
	if len(m.returns) < minVaRSamples {
		return 0
	}

	sorted := make([]float64, len(m.returns))
	copy(sorted, m.returns)
	sort.Float64s(sorted)

	idx := int((1 - m.cfg.VaRConfidence) * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return math.Abs(sorted[idx]) * m.currentValue
}
