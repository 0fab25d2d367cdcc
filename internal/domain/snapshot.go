package domain

import "time"

// PerformanceSnapshot is a point-in-time portfolio summary. Snapshots form an
// append-only, size-capped time series.
type PerformanceSnapshot struct {
	TakenAt         time.Time
	TotalInitial    float64
	TotalCurrent    float64
	TotalReturn     float64 // fractional
	WeightedAPY     float64 // value-weighted portfolio APY
	BenchmarkDelta  float64 // weighted APY minus benchmark APY
	GasCostRatio    float64 // cumulative gas / gross returns
	Diversification float64 // 1 - HHI over protocol value shares
	VolatilityScore float64 // value-weighted |24h change|, 0-100
	BestPerformer   string  // position id
	WorstPerformer  string  // position id
	ActivePositions int

	// Distribution of current value by protocol and by network, fractional
	// shares summing to ~1.
	ProtocolShares map[string]float64
	NetworkShares  map[string]float64
}

// AlertLevel grades a performance alert.
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// PerformanceAlert is an advisory raised by the performance tracker. Alerts
// never trigger position actions themselves.
type PerformanceAlert struct {
	Level     AlertLevel
	Kind      string // "underperformance", "outperformance", "gas_cost", "concentration"
	Message   string
	CreatedAt time.Time
}

// AllocationAnalysis summarizes portfolio concentration for operators.
type AllocationAnalysis struct {
	Balanced          bool   // no single protocol above 25% of value
	ConcentrationRisk string // "low", "medium", "high"
	RiskFactors       []string
	Recommendations   []string
}
