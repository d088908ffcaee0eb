// Package position implements the position and risk engine: position
// lifecycle bookkeeping driven by external trade decisions, stop-loss and
// take-profit enforcement, portfolio valuation and periodic snapshotting.
package position

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmonteiro-dev/tapeflow/internal/config"
	"github.com/rmonteiro-dev/tapeflow/internal/events"
	"github.com/rmonteiro-dev/tapeflow/pkg/metrics"
	"github.com/rmonteiro-dev/tapeflow/pkg/models"
)

// Close reasons for automatic exits.
const (
	ReasonStopLoss   = "STOP_LOSS"
	ReasonTakeProfit = "TAKE_PROFIT"
)

// Decision is an instruction from orchestration to open a position. The
// engine never originates trades itself beyond stop/take auto-closes.
type Decision struct {
	Symbol           string
	Side             models.PositionSide
	Size             float64
	Price            float64
	StopLossPoints   float64
	TakeProfitPoints float64
	Reason           string
}

func (d Decision) valid() bool {
	if d.Symbol == "" || d.Size <= 0 {
		return false
	}
	if d.Side != models.SideLong && d.Side != models.SideShort {
		return false
	}
	return !math.IsNaN(d.Price) && !math.IsInf(d.Price, 0) && d.Price > 0
}

// Manager owns the open and closed position sets and the portfolio ledger.
// Every mutation is serialized behind one mutex; accessors return copies.
type Manager struct {
	mu     sync.RWMutex
	cfg    config.RiskConfig
	logger *zap.Logger
	events *events.Notifier

	active bool
	cancel context.CancelFunc
	wg     sync.WaitGroup

	open   map[string]*models.Position
	closed []models.Position

	// Ledger. realizedPnL is gross (before fees); commissions and slippage
	// are accumulated separately so the valuation identity
	// value = start + realized + unrealized - commissions - slippage
	// holds exactly.
	realizedPnL     float64
	totalCommission float64
	totalSlippage   float64
	currentValue    float64
	peakValue       float64
	currentDrawdown float64
	maxDrawdown     float64

	lastPrice     map[string]float64
	lastNotified  map[string]float64
	returns       []float64
	lastSnapValue float64
	history       []models.PortfolioSnapshot
}

// NewManager creates a position manager. Call Start before use.
func NewManager(cfg config.RiskConfig, logger *zap.Logger, notifier *events.Notifier) *Manager {
	return &Manager{
		cfg:           cfg,
		logger:        logger,
		events:        notifier,
		open:          make(map[string]*models.Position),
		lastPrice:     make(map[string]float64),
		lastNotified:  make(map[string]float64),
		currentValue:  cfg.StartingValue,
		peakValue:     cfg.StartingValue,
		lastSnapValue: cfg.StartingValue,
	}
}

// Start activates the manager and launches the snapshot timer. Calling Start
// on an active manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return
	}
	m.active = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.snapshotLoop(ctx)

	m.logger.Info("position manager started",
		zap.Int("maxPositions", m.cfg.MaxPositions),
		zap.Float64("startingValue", m.cfg.StartingValue))
}

// Stop deactivates the manager and drains the snapshot goroutine. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.logger.Info("position manager stopped")
}

// OpenPosition opens a new position from a trade decision. Validation is
// fail-fast: nothing changes unless the open fully commits.
func (m *Manager) OpenPosition(decision Decision) (models.Position, error) {
	if !decision.valid() {
		return models.Position{}, ErrInvalidDecision
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return models.Position{}, ErrManagerInactive
	}
	if len(m.open) >= m.cfg.MaxPositions {
		return models.Position{}, ErrMaxPositionsReached
	}

	stopPoints := decision.StopLossPoints
	if stopPoints <= 0 {
		stopPoints = m.cfg.StopLossPoints
	}
	takePoints := decision.TakeProfitPoints
	if takePoints <= 0 {
		takePoints = m.cfg.TakeProfitPoints
	}

	now := time.Now()
	dir := 1.0
	if decision.Side == models.SideShort {
		dir = -1
	}

	pos := &models.Position{
		ID:           uuid.NewString(),
		Symbol:       decision.Symbol,
		Side:         decision.Side,
		Size:         decision.Size,
		EntryPrice:   decision.Price,
		CurrentPrice: decision.Price,
		StopLoss:     decision.Price - stopPoints*dir,
		TakeProfit:   decision.Price + takePoints*dir,
		EntryTime:    now,
	}

	m.open[pos.ID] = pos
	m.totalCommission += m.cfg.CommissionPerUnit * pos.Size
	m.lastPrice[pos.Symbol] = decision.Price
	m.revalueLocked()

	metrics.PositionsOpened.Inc()
	m.events.Publish(events.TypePositionOpened, *pos)
	m.logger.Info("position opened",
		zap.String("id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("size", pos.Size),
		zap.Float64("entry", pos.EntryPrice),
		zap.String("reason", decision.Reason))

	return *pos, nil
}

// ClosePosition finalizes an open position at the given exit price.
func (m *Manager) ClosePosition(id string, exitPrice float64, reason string) (models.Position, error) {
	if math.IsNaN(exitPrice) || math.IsInf(exitPrice, 0) || exitPrice <= 0 {
		return models.Position{}, ErrInvalidTickData
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return models.Position{}, ErrManagerInactive
	}
	return m.closeLocked(id, exitPrice, reason)
}

// closeLocked commits the close. Caller holds the write lock.
func (m *Manager) closeLocked(id string, exitPrice float64, reason string) (models.Position, error) {
	pos, ok := m.open[id]
	if !ok {
		return models.Position{}, ErrPositionNotFound
	}

	now := time.Now()
	gross := (exitPrice - pos.EntryPrice) * pos.Direction() * pos.Size
	exitCommission := m.cfg.CommissionPerUnit * pos.Size

	last, haveLast := m.lastPrice[pos.Symbol]
	slippage := 0.0
	if haveLast {
		slippage = math.Abs(exitPrice-last) * pos.Size * m.cfg.SlippageFactor
	}

	entryCommission := m.cfg.CommissionPerUnit * pos.Size

	pos.ExitPrice = exitPrice
	pos.ExitTime = now
	pos.CurrentPrice = exitPrice
	pos.CloseReason = reason
	pos.Duration = now.Sub(pos.EntryTime)
	pos.UnrealizedPnL = 0
	pos.PnL = gross - entryCommission - exitCommission - slippage

	delete(m.open, id)
	delete(m.lastNotified, id)
	m.closed = append(m.closed, *pos)

	m.realizedPnL += gross
	m.totalCommission += exitCommission
	m.totalSlippage += slippage
	m.revalueLocked()

	metrics.PositionsClosed.WithLabelValues(reason).Inc()
	m.events.Publish(events.TypePositionClosed, *pos)
	m.logger.Info("position closed",
		zap.String("id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.Float64("exit", exitPrice),
		zap.Float64("pnl", pos.PnL),
		zap.String("reason", reason))

	return *pos, nil
}

// UpdatePosition revalues every open position for the symbol against the
// tick, enforcing stop-loss before take-profit. Positions whose unrealized
// P&L moved past the update threshold emit a position-updated event.
func (m *Manager) UpdatePosition(symbol string, tick models.MarketTick) error {
	if !tick.Valid() || tick.Symbol != symbol {
		return ErrInvalidTickData
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return ErrManagerInactive
	}

	m.lastPrice[symbol] = tick.Price
	now := time.Now()

	var toClose []struct {
		id     string
		reason string
	}
	var toNotify []models.Position

	for id, pos := range m.open {
		if pos.Symbol != symbol {
			continue
		}

		pos.CurrentPrice = tick.Price
		pos.UnrealizedPnL = (tick.Price - pos.EntryPrice) * pos.Direction() * pos.Size
		pos.Duration = now.Sub(pos.EntryTime)

		if m.stopLossHit(pos, tick.Price) {
			toClose = append(toClose, struct {
				id     string
				reason string
			}{id, ReasonStopLoss})
			continue
		}
		if m.takeProfitHit(pos, tick.Price) {
			toClose = append(toClose, struct {
				id     string
				reason string
			}{id, ReasonTakeProfit})
			continue
		}

		if math.Abs(pos.UnrealizedPnL-m.lastNotified[id]) > m.cfg.UpdateThreshold {
			m.lastNotified[id] = pos.UnrealizedPnL
			toNotify = append(toNotify, *pos)
		}
	}

	for _, c := range toClose {
		if _, err := m.closeLocked(c.id, tick.Price, c.reason); err != nil {
			// A close racing an earlier auto-close is logged, not fatal.
			m.logger.Warn("auto close failed",
				zap.String("id", c.id),
				zap.String("reason", c.reason),
				zap.Error(err))
		}
	}

	m.revalueLocked()

	for _, pos := range toNotify {
		m.events.Publish(events.TypePositionUpdated, pos)
	}

	return nil
}

func (m *Manager) stopLossHit(pos *models.Position, price float64) bool {
	if pos.Side == models.SideLong {
		return price <= pos.StopLoss
	}
	return price >= pos.StopLoss
}

func (m *Manager) takeProfitHit(pos *models.Position, price float64) bool {
	if pos.Side == models.SideLong {
		return price >= pos.TakeProfit
	}
	return price <= pos.TakeProfit
}

// EmergencyCloseAll closes every open position at its last known price.
// Individual failures are logged and do not abort the loop.
func (m *Manager) EmergencyCloseAll(reason string) []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}

	closed := make([]models.Position, 0, len(ids))
	for _, id := range ids {
		pos, ok := m.open[id]
		if !ok {
			continue
		}
		price, havePrice := m.lastPrice[pos.Symbol]
		if !havePrice || price <= 0 {
			price = pos.CurrentPrice
		}
		if price <= 0 {
			m.logger.Error("emergency close skipped, no usable price",
				zap.String("id", id),
				zap.String("symbol", pos.Symbol))
			continue
		}
		done, err := m.closeLocked(id, price, reason)
		if err != nil {
			m.logger.Error("emergency close failed",
				zap.String("id", id),
				zap.Error(err))
			continue
		}
		closed = append(closed, done)
	}

	m.events.Publish(events.TypeEmergencyClose, map[string]interface{}{
		"reason": reason,
		"closed": len(closed),
	})
	m.logger.Warn("emergency close all",
		zap.String("reason", reason),
		zap.Int("closed", len(closed)))

	return closed
}

// revalueLocked recomputes the portfolio ledger and the drawdown tracking.
// Caller holds the write lock.
func (m *Manager) revalueLocked() {
	unrealized := 0.0
	for _, pos := range m.open {
		unrealized += pos.UnrealizedPnL
	}

	m.currentValue = m.cfg.StartingValue + m.realizedPnL + unrealized -
		m.totalCommission - m.totalSlippage

	if m.currentValue > m.peakValue {
		m.peakValue = m.currentValue
		m.currentDrawdown = 0
	} else if m.peakValue > 0 {
		m.currentDrawdown = (m.peakValue - m.currentValue) / m.peakValue
		if m.currentDrawdown > m.maxDrawdown {
			m.maxDrawdown = m.currentDrawdown
		}
	}

	metrics.PortfolioValue.Set(m.currentValue)
	metrics.PortfolioDrawdown.Set(m.currentDrawdown)
	metrics.OpenPositions.Set(float64(len(m.open)))
}

// snapshotLoop takes periodic snapshots until Stop cancels the context.
func (m *Manager) snapshotLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.TakeSnapshot()
		}
	}
}

// TakeSnapshot records an immutable portfolio snapshot, appends the period
// return to the bounded return history and prunes snapshots past retention.
func (m *Manager) TakeSnapshot() models.PortfolioSnapshot {
	m.mu.Lock()

	now := time.Now()
	snapshot := models.PortfolioSnapshot{
		Timestamp:   now,
		TotalValue:  m.currentValue,
		Positions:   m.openPositionsLocked(),
		Metrics:     m.metricsLocked(),
		RiskMetrics: m.riskMetricsLocked(),
	}

	if m.lastSnapValue > 0 {
		m.returns = append(m.returns, (m.currentValue-m.lastSnapValue)/m.lastSnapValue)
		if len(m.returns) > m.cfg.ReturnHistorySize {
			m.returns = m.returns[len(m.returns)-m.cfg.ReturnHistorySize:]
		}
	}
	m.lastSnapValue = m.currentValue

	m.history = append(m.history, snapshot)
	cutoff := now.Add(-m.cfg.SnapshotRetention)
	pruned := 0
	for pruned < len(m.history) && m.history[pruned].Timestamp.Before(cutoff) {
		pruned++
	}
	if pruned > 0 {
		m.history = m.history[pruned:]
	}

	m.mu.Unlock()

	metrics.SnapshotsCreated.Inc()
	m.events.Publish(events.TypeSnapshotCreated, snapshot)

	return snapshot
}

// openPositionsLocked returns copies of the open positions.
func (m *Manager) openPositionsLocked() []models.Position {
	out := make([]models.Position, 0, len(m.open))
	for _, pos := range m.open {
		out = append(out, *pos)
	}
	return out
}

// OpenPositions returns copies of the currently open positions.
func (m *Manager) OpenPositions() []models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openPositionsLocked()
}

// ClosedPositions returns copies of the closed positions.
func (m *Manager) ClosedPositions() []models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Position, len(m.closed))
	copy(out, m.closed)
	return out
}

// PortfolioValue returns the current portfolio value.
func (m *Manager) PortfolioValue() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentValue
}

// History returns copies of the retained snapshots.
func (m *Manager) History() []models.PortfolioSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.PortfolioSnapshot, len(m.history))
	copy(out, m.history)
	return out
}
