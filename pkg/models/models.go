// Package models contains the shared domain types exchanged between the tape
// analysis engine, the position engine and their collaborators.
package models

import (
	"math"
	"time"
)

// AggressorSide identifies which side initiated a printed trade.
type AggressorSide string

const (
	AggressorBuyer   AggressorSide = "buyer"
	AggressorSeller  AggressorSide = "seller"
	AggressorUnknown AggressorSide = "unknown"
)

// PositionSide is the direction of an open position.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Trend classifies the short-horizon market structure.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// MarketTick is a single price update from the ingestion feed. Ticks arrive
// in timestamp order per symbol; the engines never reorder them.
type MarketTick struct {
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	PriceChange float64   `json:"priceChange"`
	Volume      float64   `json:"volume"`
	Timestamp   time.Time `json:"timestamp"`
}

// Valid reports whether the tick carries usable numeric data.
func (t MarketTick) Valid() bool {
	if t.Symbol == "" {
		return false
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0 {
		return false
	}
	if math.IsNaN(t.Volume) || math.IsInf(t.Volume, 0) || t.Volume < 0 {
		return false
	}
	return !math.IsNaN(t.PriceChange) && !math.IsInf(t.PriceChange, 0)
}

// TapeEntry is one printed trade on the tape. The feed supplies price, volume
// and timestamp; IsLarge, IsDominant, Aggressor and Absorption are derived by
// the tape engine exactly once during classification.
type TapeEntry struct {
	Price      float64       `json:"price"`
	Volume     float64       `json:"volume"`
	Side       string        `json:"side,omitempty"`
	IsLarge    bool          `json:"isLarge"`
	IsDominant bool          `json:"isDominant"`
	Aggressor  AggressorSide `json:"aggressor"`
	Absorption bool          `json:"absorption"`
	Timestamp  time.Time     `json:"timestamp"`
}

// PriceLevel aggregates traded volume at a single tick-size bucket.
// Invariant: BuyVolume + SellVolume == TotalVolume within floating tolerance.
type PriceLevel struct {
	Price        float64   `json:"price"`
	TotalVolume  float64   `json:"totalVolume"`
	BuyVolume    float64   `json:"buyVolume"`
	SellVolume   float64   `json:"sellVolume"`
	Touches      int       `json:"touches"`
	Rejections   int       `json:"rejections"`
	Absorption   bool      `json:"absorption"`
	LastActivity time.Time `json:"lastActivity"`
}

// VolumeCluster groups price-proximate ticks inside a bounded time window.
type VolumeCluster struct {
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	BuyVolume  float64   `json:"buyVolume"`
	SellVolume float64   `json:"sellVolume"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	Absorption bool      `json:"absorption"`
}

// PatternMatch is a point-in-time signal emitted by a pattern detector.
// It is never mutated after emission.
type PatternMatch struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	Confidence        float64                `json:"confidence"`
	Probability       float64                `json:"probability"`
	HistoricalSuccess float64                `json:"historicalSuccess"`
	Timeframe         time.Duration          `json:"timeframe"`
	Parameters        map[string]interface{} `json:"parameters"`
	DetectedAt        time.Time              `json:"detectedAt"`
}

// Position is a single open or closed futures position. Owned exclusively by
// the position engine; callers only ever see copies.
type Position struct {
	ID            string        `json:"id"`
	Symbol        string        `json:"symbol"`
	Side          PositionSide  `json:"side"`
	Size          float64       `json:"size"`
	EntryPrice    float64       `json:"entryPrice"`
	CurrentPrice  float64       `json:"currentPrice"`
	PnL           float64       `json:"pnl"`
	UnrealizedPnL float64       `json:"unrealizedPnL"`
	StopLoss      float64       `json:"stopLoss"`
	TakeProfit    float64       `json:"takeProfit"`
	EntryTime     time.Time     `json:"entryTime"`
	ExitTime      time.Time     `json:"exitTime,omitempty"`
	ExitPrice     float64       `json:"exitPrice,omitempty"`
	CloseReason   string        `json:"closeReason,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Direction returns +1 for long positions and -1 for short positions.
func (p Position) Direction() float64 {
	if p.Side == SideShort {
		return -1
	}
	return 1
}

// PortfolioMetrics are the on-demand performance statistics of the portfolio.
type PortfolioMetrics struct {
	TotalTrades     int     `json:"totalTrades"`
	WinningTrades   int     `json:"winningTrades"`
	LosingTrades    int     `json:"losingTrades"`
	WinRate         float64 `json:"winRate"`
	ProfitFactor    float64 `json:"profitFactor"`
	SharpeRatio     float64 `json:"sharpeRatio"`
	CalmarRatio     float64 `json:"calmarRatio"`
	TotalReturn     float64 `json:"totalReturn"`
	RealizedPnL     float64 `json:"realizedPnL"`
	UnrealizedPnL   float64 `json:"unrealizedPnL"`
	TotalCommission float64 `json:"totalCommission"`
	TotalSlippage   float64 `json:"totalSlippage"`
}

// RiskMetrics are the on-demand risk statistics of the portfolio.
type RiskMetrics struct {
	CurrentDrawdown   float64 `json:"currentDrawdown"`
	MaxDrawdown       float64 `json:"maxDrawdown"`
	PeakValue         float64 `json:"peakValue"`
	ValueAtRisk       float64 `json:"valueAtRisk"`
	ConcentrationRisk float64 `json:"concentrationRisk"`
	Leverage          float64 `json:"leverage"`
	GrossExposure     float64 `json:"grossExposure"`
}

// PortfolioSnapshot is an immutable point-in-time view of the portfolio,
// appended to a bounded history and never mutated after creation.
type PortfolioSnapshot struct {
	Timestamp   time.Time        `json:"timestamp"`
	TotalValue  float64          `json:"totalValue"`
	Positions   []Position       `json:"positions"`
	Metrics     PortfolioMetrics `json:"metrics"`
	RiskMetrics RiskMetrics      `json:"riskMetrics"`
}

// MarketState is the rolling tape-engine state exposed to orchestration.
type MarketState struct {
	Trend           Trend   `json:"trend"`
	AggressionLevel float64 `json:"aggressionLevel"`
	LiquidityLevel  float64 `json:"liquidityLevel"`
}
