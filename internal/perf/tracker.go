// Package perf tracks portfolio-level performance. The tracker is strictly
// advisory: it snapshots, compares against a benchmark, and raises alerts,
// but never initiates a position action.
package perf

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/chainflowlabs/sentinel/internal/domain"
	"github.com/chainflowlabs/sentinel/internal/notify"
)

// Config holds the tracker thresholds.
type Config struct {
	// BenchmarkAPY is the passive baseline the portfolio is measured
	// against.
	BenchmarkAPY float64
	// UnderperformanceThreshold is how far below the benchmark the
	// weighted APY must fall before the underperformance alert fires.
	UnderperformanceThreshold float64
	// OutperformanceThreshold is how far above the benchmark the weighted
	// APY must rise before the outperformance alert fires.
	OutperformanceThreshold float64
	// GasAlertRatio raises an alert when cumulative gas exceeds this share
	// of gross returns.
	GasAlertRatio float64
	// DiversificationFloor raises an alert when the diversification index
	// drops below it.
	DiversificationFloor float64
	// Retention caps the in-memory snapshot history.
	Retention int
}

func Defaults() Config {
	return Config{
		BenchmarkAPY:              0.05,
		UnderperformanceThreshold: 0.01,
		OutperformanceThreshold:   0.02,
		GasAlertRatio:             0.05,
		DiversificationFloor:      0.3,
		Retention:                 288,
	}
}

// PositionSource is the slice of the ledger the tracker reads.
type PositionSource interface {
	Active() []domain.Position
}

// Tracker computes periodic performance snapshots over the active
// portfolio.
type Tracker struct {
	cfg      Config
	book     PositionSource
	provider domain.MarketDataProvider
	store    domain.SnapshotStore // optional
	notifier *notify.Notifier     // optional
	logger   *slog.Logger

	mu         sync.RWMutex
	history    []domain.PerformanceSnapshot
	lastPrices map[string]float64
}

func New(cfg Config, book PositionSource, provider domain.MarketDataProvider, store domain.SnapshotStore, notifier *notify.Notifier, logger *slog.Logger) *Tracker {
	if cfg.Retention <= 0 {
		cfg.Retention = Defaults().Retention
	}
	return &Tracker{
		cfg:        cfg,
		book:       book,
		provider:   provider,
		store:      store,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "perf")),
		lastPrices: make(map[string]float64),
	}
}

// TakeSnapshot prices the active portfolio and appends a snapshot to the
// retained history. Positions whose price lookup fails are skipped with a
// warning rather than failing the whole snapshot.
func (t *Tracker) TakeSnapshot(ctx context.Context) (domain.PerformanceSnapshot, error) {
	positions := t.book.Active()
	prices := make(map[string]float64)
	for _, p := range positions {
		if _, ok := prices[p.Asset]; ok {
			continue
		}
		price, err := t.provider.GetPrice(ctx, p.Asset)
		if err != nil {
			t.logger.Warn("snapshot price lookup failed",
				slog.String("asset", p.Asset),
				slog.String("error", err.Error()),
			)
			continue
		}
		prices[p.Asset] = price
	}

	snap := t.compute(positions, prices, time.Now().UTC())

	t.mu.Lock()
	t.history = append(t.history, snap)
	if len(t.history) > t.cfg.Retention {
		t.history = t.history[len(t.history)-t.cfg.Retention:]
	}
	for asset, price := range prices {
		t.lastPrices[asset] = price
	}
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.Insert(ctx, snap); err != nil {
			t.logger.Warn("snapshot persist failed", slog.String("error", err.Error()))
		}
	}

	for _, alert := range t.evaluateAlerts(snap) {
		t.raise(alert)
	}

	return snap, nil
}

// compute derives all snapshot figures from one consistent set of prices.
func (t *Tracker) compute(positions []domain.Position, prices map[string]float64, now time.Time) domain.PerformanceSnapshot {
	snap := domain.PerformanceSnapshot{
		TakenAt:        now,
		ProtocolShares: make(map[string]float64),
		NetworkShares:  make(map[string]float64),
	}

	t.mu.RLock()
	lastPrices := make(map[string]float64, len(t.lastPrices))
	for k, v := range t.lastPrices {
		lastPrices[k] = v
	}
	t.mu.RUnlock()

	var (
		gasTotal    float64
		grossTotal  float64
		apyWeighted float64
		volWeighted float64
		bestReturn  = math.Inf(-1)
		worstReturn = math.Inf(1)
	)

	for _, p := range positions {
		price, ok := prices[p.Asset]
		if !ok {
			continue
		}
		value := p.ValueUSD(price)
		entry := p.EntryAmount * p.EntryPrice

		snap.ActivePositions++
		snap.TotalInitial += entry
		snap.TotalCurrent += value
		snap.ProtocolShares[p.Protocol] += value
		snap.NetworkShares[p.Network] += value
		gasTotal += p.GasSpent
		grossTotal += p.GrossYield()
		apyWeighted += p.EntryAPY * value

		if last, ok := lastPrices[p.Asset]; ok && last > 0 {
			volWeighted += math.Abs(price-last) / last * value
		}

		r := p.TotalReturn(price)
		if r > bestReturn {
			bestReturn = r
			snap.BestPerformer = p.ID
		}
		if r < worstReturn {
			worstReturn = r
			snap.WorstPerformer = p.ID
		}
	}

	if snap.TotalCurrent > 0 {
		snap.WeightedAPY = apyWeighted / snap.TotalCurrent
		snap.VolatilityScore = math.Min(volWeighted/snap.TotalCurrent*100, 100)
		for k := range snap.ProtocolShares {
			snap.ProtocolShares[k] /= snap.TotalCurrent
		}
		for k := range snap.NetworkShares {
			snap.NetworkShares[k] /= snap.TotalCurrent
		}
	}
	if snap.TotalInitial > 0 {
		snap.TotalReturn = (snap.TotalCurrent + grossTotal - gasTotal - snap.TotalInitial) / snap.TotalInitial
	}
	if grossTotal > 0 {
		snap.GasCostRatio = gasTotal / grossTotal
	}
	snap.BenchmarkDelta = snap.WeightedAPY - t.cfg.BenchmarkAPY
	snap.Diversification = Diversification(snap.ProtocolShares)

	return snap
}

// Diversification returns 1 minus the Herfindahl index over fractional
// protocol shares: 0 for a single-protocol book, approaching 1 as value
// spreads evenly across many protocols.
func Diversification(shares map[string]float64) float64 {
	if len(shares) == 0 {
		return 0
	}
	hhi := 0.0
	for _, s := range shares {
		hhi += s * s
	}
	return 1 - hhi
}

// evaluateAlerts derives advisory alerts from one snapshot.
func (t *Tracker) evaluateAlerts(snap domain.PerformanceSnapshot) []domain.PerformanceAlert {
	if snap.ActivePositions == 0 {
		return nil
	}
	var alerts []domain.PerformanceAlert
	now := snap.TakenAt

	if snap.BenchmarkDelta < -t.cfg.UnderperformanceThreshold {
		alerts = append(alerts, domain.PerformanceAlert{
			Level:     domain.AlertLevelWarning,
			Kind:      "underperformance",
			Message:   fmt.Sprintf("portfolio APY %.2f%% trails benchmark by %.2f%%", snap.WeightedAPY*100, -snap.BenchmarkDelta*100),
			CreatedAt: now,
		})
	} else if snap.BenchmarkDelta > t.cfg.OutperformanceThreshold {
		alerts = append(alerts, domain.PerformanceAlert{
			Level:     domain.AlertLevelInfo,
			Kind:      "outperformance",
			Message:   fmt.Sprintf("portfolio APY %.2f%% beats benchmark by %.2f%%", snap.WeightedAPY*100, snap.BenchmarkDelta*100),
			CreatedAt: now,
		})
	}
	if snap.GasCostRatio > t.cfg.GasAlertRatio {
		alerts = append(alerts, domain.PerformanceAlert{
			Level:     domain.AlertLevelWarning,
			Kind:      "gas_cost",
			Message:   fmt.Sprintf("gas costs are %.1f%% of gross returns", snap.GasCostRatio*100),
			CreatedAt: now,
		})
	}
	if snap.Diversification < t.cfg.DiversificationFloor && snap.ActivePositions > 1 {
		alerts = append(alerts, domain.PerformanceAlert{
			Level:     domain.AlertLevelWarning,
			Kind:      "concentration",
			Message:   fmt.Sprintf("diversification index %.2f below floor %.2f", snap.Diversification, t.cfg.DiversificationFloor),
			CreatedAt: now,
		})
	}
	return alerts
}

func (t *Tracker) raise(alert domain.PerformanceAlert) {
	t.logger.Info("performance alert",
		slog.String("kind", alert.Kind),
		slog.String("level", string(alert.Level)),
		slog.String("message", alert.Message),
	)
	if t.notifier == nil {
		return
	}
	severity := domain.SeverityInfo
	if alert.Level == domain.AlertLevelWarning {
		severity = domain.SeverityWarning
	} else if alert.Level == domain.AlertLevelCritical {
		severity = domain.SeverityCritical
	}
	t.notifier.Enqueue(domain.Event{
		Severity: severity,
		Kind:     alert.Kind,
		Message:  alert.Message,
	})
}

// History returns a copy of the retained snapshots, oldest first.
func (t *Tracker) History() []domain.PerformanceSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.PerformanceSnapshot(nil), t.history...)
}

// Latest returns the most recent snapshot, if any.
func (t *Tracker) Latest() (domain.PerformanceSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.history) == 0 {
		return domain.PerformanceSnapshot{}, false
	}
	return t.history[len(t.history)-1], true
}

// AnalyzeAllocation grades the latest snapshot's concentration for
// operators. It is purely descriptive.
func (t *Tracker) AnalyzeAllocation() domain.AllocationAnalysis {
	snap, ok := t.Latest()
	if !ok || snap.ActivePositions == 0 {
		return domain.AllocationAnalysis{
			Balanced:          true,
			ConcentrationRisk: "low",
		}
	}

	analysis := domain.AllocationAnalysis{Balanced: true, ConcentrationRisk: "low"}

	type share struct {
		protocol string
		frac     float64
	}
	shares := make([]share, 0, len(snap.ProtocolShares))
	for proto, frac := range snap.ProtocolShares {
		shares = append(shares, share{proto, frac})
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].frac > shares[j].frac })

	for _, s := range shares {
		if s.frac > 0.25 {
			analysis.Balanced = false
			analysis.RiskFactors = append(analysis.RiskFactors,
				fmt.Sprintf("protocol %s holds %.1f%% of portfolio value", s.protocol, s.frac*100))
			analysis.Recommendations = append(analysis.Recommendations,
				fmt.Sprintf("reduce exposure to %s below 25%%", s.protocol))
		}
	}
	switch {
	case len(shares) > 0 && shares[0].frac > 0.5:
		analysis.ConcentrationRisk = "high"
	case !analysis.Balanced:
		analysis.ConcentrationRisk = "medium"
	}
	if snap.Diversification < t.cfg.DiversificationFloor && snap.ActivePositions > 1 {
		analysis.RiskFactors = append(analysis.RiskFactors,
			fmt.Sprintf("diversification index %.2f is low", snap.Diversification))
		analysis.Recommendations = append(analysis.Recommendations,
			"spread value across additional protocols or networks")
	}
	return analysis
}
