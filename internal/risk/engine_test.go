package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/chainflowlabs/sentinel/internal/domain"
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

type exitCall struct {
	id     string
	reason domain.ExitReason
}

type fakeBook struct {
	mu       sync.Mutex
	active   []domain.Position
	unstakes []exitCall
	opens    []domain.Opportunity
	opened   chan struct{}
}

func newFakeBook(active ...domain.Position) *fakeBook {
	return &fakeBook{active: active, opened: make(chan struct{}, 8)}
}

func (b *fakeBook) Active() []domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Position(nil), b.active...)
}

func (b *fakeBook) Open(_ context.Context, opp domain.Opportunity, _ string, _ float64) domain.OpResult {
	b.mu.Lock()
	b.opens = append(b.opens, opp)
	b.mu.Unlock()
	b.opened <- struct{}{}
	return domain.OpResult{Success: true, PositionID: "reopened"}
}

func (b *fakeBook) Unstake(_ context.Context, positionID string, _ float64, reason domain.ExitReason) domain.OpResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unstakes = append(b.unstakes, exitCall{id: positionID, reason: reason})
	return domain.OpResult{Success: true, PositionID: positionID}
}

func (b *fakeBook) unstakeCalls() []exitCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]exitCall(nil), b.unstakes...)
}

func activePosition(protocol, asset string, opened time.Time) domain.Position {
	return domain.Position{
		ID:            "pos-1",
		Wallet:        "0xwallet",
		Protocol:      protocol,
		Asset:         asset,
		Network:       "ethereum",
		EntryAmount:   500,
		CurrentAmount: 500,
		EntryPrice:    1.0,
		EntryAPY:      0.05,
		EntryRisk:     0.2,
		OpenedAt:      opened,
		Status:        domain.PositionStatusActive,
	}
}

func TestAssessWith(t *testing.T) {
	tests := []struct {
		name      string
		static    float64
		deviation float64
		daysHeld  float64
		sizeUSD   float64
		want      float64
	}{
		{"small fresh position", 0.2, 0, 10, 5_000, 0.2 + 10.0/365*0.2 + 0.05},
		{"deviation uncapped", 0.2, -0.5, 0, 5_000, 0.2 + 0.5 + 0.05},
		{"deviation above one saturates", 0.1, 1.5, 0, 5_000, 1},
		{"time capped at one year", 0.2, 0, 1_000, 5_000, 0.2 + 0.2 + 0.05},
		{"large position surcharge", 0.2, 0, 0, 20_000, 0.2 + 0.1},
		{"clamped at one", 0.65, 0.9, 400, 20_000, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssessWith(tt.static, tt.deviation, tt.daysHeld, tt.sizeUSD)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("AssessWith = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateUnstakeUnknownReason(t *testing.T) {
	e := New(Defaults(), newFakeBook(), &fakeProvider{}, testLogger())
	ok, err := e.ValidateUnstake(context.Background(), domain.Position{}, domain.ExitReason("surprise"))
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if ok {
		t.Error("unknown exit reason approved")
	}
}

func TestValidateUnstakeReverifies(t *testing.T) {
	now := time.Now().UTC()
	provider := &fakeProvider{prices: map[string]float64{"USDC": 1.0}}
	e := New(Defaults(), newFakeBook(), provider, testLogger())

	// Healthy aave/USDC position: risk exit not warranted.
	pos := activePosition("aave", "USDC", now)
	ok, err := e.ValidateUnstake(context.Background(), pos, domain.ExitReasonRisk)
	if err != nil || ok {
		t.Errorf("risk gate = (%t, %v), want rejection of a healthy position", ok, err)
	}

	// A 10% price drop puts the total return under the drawdown floor.
	provider.prices["USDC"] = 0.9
	ok, err = e.ValidateUnstake(context.Background(), pos, domain.ExitReasonPerformance)
	if err != nil || !ok {
		t.Errorf("performance gate = (%t, %v), want approval at -10%% return", ok, err)
	}

	// Held twice the horizon.
	old := activePosition("aave", "USDC", now.AddDate(0, 0, -180))
	ok, err = e.ValidateUnstake(context.Background(), old, domain.ExitReasonTimeLimit)
	if err != nil || !ok {
		t.Errorf("time gate = (%t, %v), want approval after 180 days", ok, err)
	}

	// Reallocation only approved when a qualifying target is cached.
	ok, err = e.ValidateUnstake(context.Background(), pos, domain.ExitReasonReallocation)
	if err != nil || ok {
		t.Errorf("realloc gate = (%t, %v), want rejection without targets", ok, err)
	}
	e.SetOpportunities([]domain.Opportunity{
		{Protocol: "lido", Asset: "ETH", APY: 0.09, RiskScore: 0.25, Score: 9},
	})
	ok, err = e.ValidateUnstake(context.Background(), pos, domain.ExitReasonReallocation)
	if err != nil || !ok {
		t.Errorf("realloc gate = (%t, %v), want approval with a qualifying target", ok, err)
	}
}

func TestSweepFiresOneTriggerPerPosition(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name  string
		pos   domain.Position
		price float64
		want  domain.ExitReason
	}{
		{
			// A 50% collapse breaches the emergency loss floor. The score
			// alone would also arm the ordinary risk exit, but emergency
			// outranks it.
			name:  "emergency",
			pos:   activePosition("aave", "USDC", now),
			price: 0.5,
			want:  domain.ExitReasonEmergency,
		},
		{
			// Static 0.65 plus the small-size component lands exactly on the
			// ordinary exit band.
			name:  "risk exit",
			pos:   activePosition("mystery", "XYZ", now),
			price: 1.0,
			want:  domain.ExitReasonRisk,
		},
		{
			// Low static risk keeps the score down, but the drop pushes total
			// return past the drawdown floor.
			name:  "drawdown",
			pos:   activePosition("aave", "USDC", now),
			price: 0.9,
			want:  domain.ExitReasonPerformance,
		},
		{
			name:  "time limit",
			pos:   activePosition("aave", "USDC", now.AddDate(0, 0, -100)),
			price: 1.0,
			want:  domain.ExitReasonTimeLimit,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := newFakeBook(tt.pos)
			provider := &fakeProvider{prices: map[string]float64{tt.pos.Asset: tt.price}}
			e := New(Defaults(), book, provider, testLogger())

			e.RunTriggerSweep(context.Background())

			calls := book.unstakeCalls()
			if len(calls) != 1 {
				t.Fatalf("unstake calls = %d, want 1", len(calls))
			}
			if calls[0].reason != tt.want {
				t.Errorf("exit reason = %s, want %s", calls[0].reason, tt.want)
			}
		})
	}
}

func TestSweepEmergencyKeyedToTotalReturn(t *testing.T) {
	now := time.Now().UTC()
	collapsed := activePosition("aave", "USDC", now)
	collapsed.ID = "pos-collapsed"
	collapsed.Asset = "DAI"
	healthy1 := activePosition("aave", "USDC", now)
	healthy1.ID = "pos-healthy-1"
	healthy2 := activePosition("lido", "ETH", now)
	healthy2.ID = "pos-healthy-2"

	book := newFakeBook(collapsed, healthy1, healthy2)
	provider := &fakeProvider{prices: map[string]float64{
		"DAI":  0.5, // -50% total return, past the emergency loss floor
		"USDC": 1.0,
		"ETH":  1.0,
	}}
	e := New(Defaults(), book, provider, testLogger())

	e.RunTriggerSweep(context.Background())

	calls := book.unstakeCalls()
	if len(calls) != 1 {
		t.Fatalf("unstake calls = %+v, want exactly one", calls)
	}
	if calls[0].id != "pos-collapsed" {
		t.Errorf("exited position = %s, want pos-collapsed", calls[0].id)
	}
	if calls[0].reason != domain.ExitReasonEmergency {
		t.Errorf("exit reason = %s, want %s", calls[0].reason, domain.ExitReasonEmergency)
	}
}

func TestSweepHealthyPositionUntouched(t *testing.T) {
	book := newFakeBook(activePosition("aave", "USDC", time.Now().UTC()))
	provider := &fakeProvider{prices: map[string]float64{"USDC": 1.0}}
	e := New(Defaults(), book, provider, testLogger())

	e.RunTriggerSweep(context.Background())

	if calls := book.unstakeCalls(); len(calls) != 0 {
		t.Errorf("healthy position exited: %+v", calls)
	}
}

func TestSweepReallocates(t *testing.T) {
	cfg := Defaults()
	cfg.ReallocDelay = time.Millisecond
	book := newFakeBook(activePosition("aave", "USDC", time.Now().UTC()))
	provider := &fakeProvider{prices: map[string]float64{"USDC": 1.0}}
	e := New(cfg, book, provider, testLogger())
	e.SetOpportunities([]domain.Opportunity{
		// Same pool: never a reallocation target.
		{Protocol: "aave", Asset: "USDC", APY: 0.20, RiskScore: 0.15, Score: 20},
		// Too risky.
		{Protocol: "gmx", Asset: "AVAX", APY: 0.25, RiskScore: 0.6, Score: 15},
		// Qualifies.
		{Protocol: "compound", Asset: "USDC", APY: 0.09, RiskScore: 0.2, Score: 9},
	})

	e.RunTriggerSweep(context.Background())

	calls := book.unstakeCalls()
	if len(calls) != 1 || calls[0].reason != domain.ExitReasonReallocation {
		t.Fatalf("unstake calls = %+v, want one reallocation", calls)
	}

	select {
	case <-book.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("re-entry never happened")
	}
	book.mu.Lock()
	defer book.mu.Unlock()
	if len(book.opens) != 1 || book.opens[0].Protocol != "compound" {
		t.Errorf("re-entry target = %+v, want compound/USDC", book.opens)
	}
}

func TestSweepSkipsPositionWithoutPrice(t *testing.T) {
	book := newFakeBook(activePosition("aave", "USDC", time.Now().UTC()))
	provider := &fakeProvider{prices: map[string]float64{}}
	e := New(Defaults(), book, provider, testLogger())

	e.RunTriggerSweep(context.Background())

	if calls := book.unstakeCalls(); len(calls) != 0 {
		t.Errorf("position exited despite missing price data: %+v", calls)
	}
}
