package perf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/chainflowlabs/sentinel/internal/domain"
	"github.com/chainflowlabs/sentinel/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	prices map[string]float64
}

func (f *fakeProvider) GetYield(_ context.Context, protocol, asset string) (domain.YieldInfo, error) {
	return domain.YieldInfo{}, &domain.ProviderError{Protocol: protocol, Asset: asset, Err: errors.New("no data")}
}

func (f *fakeProvider) GetPrice(_ context.Context, asset string) (float64, error) {
	p, ok := f.prices[asset]
	if !ok {
		return 0, &domain.ProviderError{Asset: asset, Err: errors.New("no price")}
	}
	return p, nil
}

type fakeBook struct {
	positions []domain.Position
}

func (f *fakeBook) Active() []domain.Position {
	return append([]domain.Position(nil), f.positions...)
}

type captureSender struct {
	events chan domain.Event
}

func (c *captureSender) Name() string { return "capture" }

func (c *captureSender) Send(_ context.Context, ev domain.Event) error {
	c.events <- ev
	return nil
}

func position(id, protocol, asset string, amount, price, apy float64) domain.Position {
	return domain.Position{
		ID:            id,
		Wallet:        "0xwallet",
		Protocol:      protocol,
		Asset:         asset,
		Network:       "ethereum",
		EntryAmount:   amount,
		CurrentAmount: amount,
		EntryPrice:    price,
		EntryAPY:      apy,
		OpenedAt:      time.Now().UTC(),
		Status:        domain.PositionStatusActive,
	}
}

func TestDiversification(t *testing.T) {
	tests := []struct {
		name   string
		shares map[string]float64
		want   float64
	}{
		{"empty book", nil, 0},
		{"single protocol", map[string]float64{"aave": 1}, 0},
		{"even split of two", map[string]float64{"aave": 0.5, "lido": 0.5}, 0.5},
		{"even split of four", map[string]float64{"a": 0.25, "b": 0.25, "c": 0.25, "d": 0.25}, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diversification(tt.shares)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Diversification = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTakeSnapshot(t *testing.T) {
	book := &fakeBook{positions: []domain.Position{
		position("p1", "aave", "USDC", 600, 1.0, 0.08),
		position("p2", "lido", "ETH", 0.2, 2_000, 0.04),
	}}
	provider := &fakeProvider{prices: map[string]float64{"USDC": 1.0, "ETH": 2_000}}
	tr := New(Defaults(), book, provider, nil, nil, testLogger())

	snap, err := tr.TakeSnapshot(context.Background())
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	if snap.ActivePositions != 2 {
		t.Errorf("active positions = %d, want 2", snap.ActivePositions)
	}
	if snap.TotalCurrent != 1_000 {
		t.Errorf("total current = %v, want 1000", snap.TotalCurrent)
	}
	if math.Abs(snap.ProtocolShares["aave"]-0.6) > 1e-9 {
		t.Errorf("aave share = %v, want 0.6", snap.ProtocolShares["aave"])
	}
	// Value-weighted: 0.08*600 + 0.04*400 over 1000.
	if math.Abs(snap.WeightedAPY-0.064) > 1e-9 {
		t.Errorf("weighted APY = %v, want 0.064", snap.WeightedAPY)
	}
	if math.Abs(snap.Diversification-(1-0.36-0.16)) > 1e-9 {
		t.Errorf("diversification = %v, want 0.48", snap.Diversification)
	}
	if snap.BestPerformer == "" || snap.WorstPerformer == "" {
		t.Error("performer ids not set")
	}

	latest, ok := tr.Latest()
	if !ok || latest.ActivePositions != 2 {
		t.Errorf("Latest = (%+v, %t)", latest, ok)
	}
}

func TestSnapshotSkipsUnpricedPositions(t *testing.T) {
	book := &fakeBook{positions: []domain.Position{
		position("p1", "aave", "USDC", 600, 1.0, 0.08),
		position("p2", "lido", "ETH", 0.2, 2_000, 0.04),
	}}
	provider := &fakeProvider{prices: map[string]float64{"USDC": 1.0}}
	tr := New(Defaults(), book, provider, nil, nil, testLogger())

	snap, err := tr.TakeSnapshot(context.Background())
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	if snap.ActivePositions != 1 {
		t.Errorf("active positions = %d, want 1 (unpriced skipped)", snap.ActivePositions)
	}
	if snap.TotalCurrent != 600 {
		t.Errorf("total current = %v, want 600", snap.TotalCurrent)
	}
}

func TestHistoryRetention(t *testing.T) {
	cfg := Defaults()
	cfg.Retention = 3
	book := &fakeBook{positions: []domain.Position{position("p1", "aave", "USDC", 600, 1.0, 0.08)}}
	provider := &fakeProvider{prices: map[string]float64{"USDC": 1.0}}
	tr := New(cfg, book, provider, nil, nil, testLogger())

	for i := 0; i < 5; i++ {
		if _, err := tr.TakeSnapshot(context.Background()); err != nil {
			t.Fatalf("TakeSnapshot %d: %v", i, err)
		}
	}
	if got := len(tr.History()); got != 3 {
		t.Errorf("history length = %d, want 3", got)
	}
}

func TestAlerts(t *testing.T) {
	// Single aave/USDC position trailing the 5% benchmark, with gas above
	// the alert ratio.
	pos := position("p1", "aave", "USDC", 600, 1.0, 0.03)
	pos.Harvested = 10
	pos.GasSpent = 2 // 20% of gross
	book := &fakeBook{positions: []domain.Position{pos}}
	provider := &fakeProvider{prices: map[string]float64{"USDC": 1.0}}

	sender := &captureSender{events: make(chan domain.Event, 8)}
	notifier := notify.NewNotifier([]notify.Sender{sender}, domain.SeverityInfo, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		notifier.Run(ctx)
		close(done)
	}()

	tr := New(Defaults(), book, provider, nil, notifier, testLogger())
	if _, err := tr.TakeSnapshot(context.Background()); err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}

	kinds := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(kinds) < 2 {
		select {
		case ev := <-sender.events:
			kinds[ev.Kind] = true
		case <-timeout:
			t.Fatalf("alerts delivered so far: %v", kinds)
		}
	}
	if !kinds["underperformance"] || !kinds["gas_cost"] {
		t.Errorf("alert kinds = %v, want underperformance and gas_cost", kinds)
	}

	cancel()
	<-done
}

func TestBenchmarkAlertThresholds(t *testing.T) {
	tr := New(Defaults(), &fakeBook{}, &fakeProvider{}, nil, nil, testLogger())
	now := time.Now().UTC()

	// A shortfall inside the threshold stays quiet.
	near := domain.PerformanceSnapshot{
		ActivePositions: 1,
		WeightedAPY:     0.045,
		BenchmarkDelta:  -0.005,
		TakenAt:         now,
	}
	for _, a := range tr.evaluateAlerts(near) {
		if a.Kind == "underperformance" {
			t.Error("underperformance alert fired within the threshold")
		}
	}

	// Past the threshold it fires.
	far := domain.PerformanceSnapshot{
		ActivePositions: 1,
		WeightedAPY:     0.02,
		BenchmarkDelta:  -0.03,
		TakenAt:         now,
	}
	fired := false
	for _, a := range tr.evaluateAlerts(far) {
		if a.Kind == "underperformance" {
			fired = true
		}
	}
	if !fired {
		t.Error("no underperformance alert for a 3% shortfall")
	}

	// Outperformance has its own threshold.
	ahead := domain.PerformanceSnapshot{
		ActivePositions: 1,
		WeightedAPY:     0.09,
		BenchmarkDelta:  0.04,
		TakenAt:         now,
	}
	fired = false
	for _, a := range tr.evaluateAlerts(ahead) {
		if a.Kind == "outperformance" {
			fired = true
		}
	}
	if !fired {
		t.Error("no outperformance alert for a 4% lead")
	}
}

func TestAnalyzeAllocation(t *testing.T) {
	book := &fakeBook{positions: []domain.Position{
		position("p1", "aave", "USDC", 700, 1.0, 0.08),
		position("p2", "lido", "ETH", 0.15, 2_000, 0.04),
	}}
	provider := &fakeProvider{prices: map[string]float64{"USDC": 1.0, "ETH": 2_000}}
	tr := New(Defaults(), book, provider, nil, nil, testLogger())

	// Before any snapshot the analysis is benign.
	if a := tr.AnalyzeAllocation(); !a.Balanced || a.ConcentrationRisk != "low" {
		t.Errorf("empty analysis = %+v, want balanced/low", a)
	}

	if _, err := tr.TakeSnapshot(context.Background()); err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	a := tr.AnalyzeAllocation()
	if a.Balanced {
		t.Error("70% in one protocol reported as balanced")
	}
	if a.ConcentrationRisk != "high" {
		t.Errorf("concentration risk = %s, want high", a.ConcentrationRisk)
	}
	if len(a.Recommendations) == 0 {
		t.Error("no recommendations for a concentrated book")
	}
}
