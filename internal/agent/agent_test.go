package agent

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

func yieldConfig() Config {
	return Config{
		ID:             "yield-1",
		Type:           domain.AgentTypeYield,
		Wallet:         "0xwallet",
		RiskTolerance:  0.5,
		MaxPositionUSD: 1_000,
	}
}

func TestNewAgentValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing id", func(c *Config) { c.ID = "" }},
		{"unknown type", func(c *Config) { c.Type = "oracle" }},
		{"tolerance above one", func(c *Config) { c.RiskTolerance = 1.5 }},
		{"non-positive size", func(c *Config) { c.MaxPositionUSD = 0 }},
		{"negative profit floor", func(c *Config) { c.MinProfitUSD = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := yieldConfig()
			tt.mutate(&cfg)
			if _, err := NewAgent(cfg); err == nil {
				t.Error("NewAgent accepted an invalid config")
			}
		})
	}

	if _, err := NewAgent(yieldConfig()); err != nil {
		t.Errorf("NewAgent rejected a valid config: %v", err)
	}
}

func TestDecideStampsIdentity(t *testing.T) {
	a, err := NewAgent(yieldConfig())
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	d := a.Decide(DecisionContext{})
	if d.ID == "" {
		t.Error("decision id not stamped")
	}
	if d.AgentID != "yield-1" || d.AgentType != domain.AgentTypeYield {
		t.Errorf("identity = %s/%s", d.AgentID, d.AgentType)
	}
	if d.CreatedAt.IsZero() {
		t.Error("created-at not stamped")
	}
}

func TestDecideYield(t *testing.T) {
	opps := []domain.Opportunity{
		{Protocol: "aave", Asset: "USDC", APY: 0.10, RiskScore: 0.2, Score: 12},
		{Protocol: "gmx", Asset: "AVAX", APY: 0.30, RiskScore: 0.6, Score: 35}, // above tolerance
		{Protocol: "compound", Asset: "DAI", APY: 0.04, RiskScore: 0.15, Score: 5},
	}

	d := decideYield(yieldConfig(), DecisionContext{Opportunities: opps})
	if d.Action != domain.ActionStake {
		t.Fatalf("action = %s, want stake", d.Action)
	}
	if d.Protocol != "aave" {
		t.Errorf("target = %s, want aave (best within tolerance)", d.Protocol)
	}
	// 0.4 + 0.10*2 - 0.2*0.5
	if math.Abs(d.Confidence-0.5) > 1e-9 {
		t.Errorf("confidence = %v, want 0.5", d.Confidence)
	}
	if d.Amount != 1_000 {
		t.Errorf("amount = %v, want the configured cap", d.Amount)
	}

	// An existing position in the target pool turns stake into increase.
	d = decideYield(yieldConfig(), DecisionContext{
		Opportunities: opps,
		Positions: []domain.Position{
			{ID: "pos-1", Protocol: "aave", Asset: "USDC", Status: domain.PositionStatusActive},
		},
	})
	if d.Action != domain.ActionIncrease || d.PositionID != "pos-1" {
		t.Errorf("decision = %s/%s, want increase on pos-1", d.Action, d.PositionID)
	}

	// Nothing inside tolerance.
	d = decideYield(yieldConfig(), DecisionContext{Opportunities: []domain.Opportunity{
		{Protocol: "gmx", Asset: "AVAX", APY: 0.30, RiskScore: 0.6, Score: 35},
	}})
	if d.Action != domain.ActionNone {
		t.Errorf("action = %s, want none when all targets are too risky", d.Action)
	}
}

func TestDecideYieldProfitFloor(t *testing.T) {
	opps := []domain.Opportunity{
		{Protocol: "aave", Asset: "USDC", APY: 0.06, RiskScore: 0.2, Score: 7},
	}

	// $1000 at 6% is $60/yr, short of a $100 floor.
	cfg := yieldConfig()
	cfg.MinProfitUSD = 100
	d := decideYield(cfg, DecisionContext{Opportunities: opps})
	if d.Action != domain.ActionNone {
		t.Errorf("action = %s, want none below the profit floor", d.Action)
	}

	cfg.MinProfitUSD = 50
	d = decideYield(cfg, DecisionContext{Opportunities: opps})
	if d.Action != domain.ActionStake {
		t.Errorf("action = %s, want stake above the profit floor", d.Action)
	}
}

func TestDecideArbitrage(t *testing.T) {
	cfg := yieldConfig()
	cfg.ID = "arb-1"
	cfg.Type = domain.AgentTypeArbitrage

	// Spread of 0.5% is below the 1% floor.
	d := decideArbitrage(cfg, DecisionContext{Opportunities: []domain.Opportunity{
		{Protocol: "aave", Asset: "USDC", APY: 0.040, RiskScore: 0.2},
		{Protocol: "compound", Asset: "USDC", APY: 0.045, RiskScore: 0.2},
	}})
	if d.Action != domain.ActionNone {
		t.Errorf("action = %s, want none on a thin spread", d.Action)
	}

	wide := []domain.Opportunity{
		{Protocol: "aave", Asset: "USDC", APY: 0.03, RiskScore: 0.2},
		{Protocol: "compound", Asset: "USDC", APY: 0.07, RiskScore: 0.2},
	}
	d = decideArbitrage(cfg, DecisionContext{Opportunities: wide})
	if d.Action != domain.ActionStake || d.Protocol != "compound" {
		t.Errorf("decision = %s on %s, want stake on compound", d.Action, d.Protocol)
	}
	// 0.5 + 0.04*10
	if math.Abs(d.Confidence-0.9) > 1e-9 {
		t.Errorf("confidence = %v, want 0.9", d.Confidence)
	}

	// A position parked on the low side of the spread migrates.
	d = decideArbitrage(cfg, DecisionContext{
		Opportunities: wide,
		Positions: []domain.Position{
			{ID: "pos-1", Protocol: "aave", Asset: "USDC", Status: domain.PositionStatusActive},
		},
	})
	if d.Action != domain.ActionMigrate || d.PositionID != "pos-1" {
		t.Errorf("decision = %s/%s, want migrate of pos-1", d.Action, d.PositionID)
	}

	// A 4% spread on $1000 is worth $40/yr; a $50 floor discards it.
	cfg.MinProfitUSD = 50
	d = decideArbitrage(cfg, DecisionContext{Opportunities: wide})
	if d.Action != domain.ActionNone {
		t.Errorf("action = %s, want none below the profit floor", d.Action)
	}
}

func TestDecidePortfolio(t *testing.T) {
	cfg := yieldConfig()
	cfg.ID = "port-1"
	cfg.Type = domain.AgentTypePortfolio

	// No snapshot: nothing to say.
	if d := decidePortfolio(cfg, DecisionContext{}); d.Action != domain.ActionNone {
		t.Errorf("action without snapshot = %s, want none", d.Action)
	}

	balanced := &domain.PerformanceSnapshot{
		TakenAt:         time.Now().UTC(),
		ActivePositions: 4,
		ProtocolShares:  map[string]float64{"a": 0.25, "b": 0.25, "c": 0.25, "d": 0.25},
		Diversification: 0.75,
	}
	if d := decidePortfolio(cfg, DecisionContext{Snapshot: balanced}); d.Action != domain.ActionNone {
		t.Errorf("action on a balanced book = %s, want none", d.Action)
	}

	skewed := &domain.PerformanceSnapshot{
		TakenAt:         time.Now().UTC(),
		ActivePositions: 2,
		ProtocolShares:  map[string]float64{"aave": 0.75, "lido": 0.25},
		Diversification: 0.375,
	}
	d := decidePortfolio(cfg, DecisionContext{Snapshot: skewed})
	if d.Action != domain.ActionRebalance || d.Protocol != "aave" {
		t.Errorf("decision = %s on %s, want rebalance of aave", d.Action, d.Protocol)
	}
	// 0.5 + (0.75-0.25)*2 clamps to 1.
	if d.Confidence != 1 {
		t.Errorf("confidence = %v, want 1", d.Confidence)
	}
}

func TestDecideRisk(t *testing.T) {
	cfg := yieldConfig()
	cfg.ID = "risk-1"
	cfg.Type = domain.AgentTypeRisk
	cfg.RiskTolerance = 0.6

	positions := []domain.Position{
		{ID: "safe", Protocol: "aave", Asset: "USDC", Status: domain.PositionStatusActive},
		{ID: "hot", Protocol: "gmx", Asset: "AVAX", Status: domain.PositionStatusActive},
		{ID: "hotter", Protocol: "mystery", Asset: "XYZ", Status: domain.PositionStatusActive},
	}
	risks := map[string]float64{"safe": 0.2, "hot": 0.7, "hotter": 0.85}

	d := decideRisk(cfg, DecisionContext{Positions: positions, PositionRisks: risks})
	if d.Action != domain.ActionUnstake || d.PositionID != "hotter" {
		t.Errorf("decision = %s/%s, want unstake of the riskiest position", d.Action, d.PositionID)
	}
	// 0.5 + (0.85-0.6)*2
	if math.Abs(d.Confidence-1.0) > 1e-9 {
		t.Errorf("confidence = %v, want 1", d.Confidence)
	}

	d = decideRisk(cfg, DecisionContext{Positions: positions, PositionRisks: map[string]float64{"safe": 0.2}})
	if d.Action != domain.ActionNone {
		t.Errorf("action = %s, want none when scored positions are within tolerance", d.Action)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a, err := NewAgent(yieldConfig())
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}

	if err := r.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(a); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate Register = %v, want ErrAlreadyExists", err)
	}

	got, err := r.Get("yield-1")
	if err != nil || got != a {
		t.Errorf("Get = (%v, %v)", got, err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}

	if got := len(r.List()); got != 1 {
		t.Errorf("List length = %d, want 1", got)
	}

	if err := r.Remove("yield-1"); err != nil {
		t.Errorf("Remove: %v", err)
	}
	if err := r.Remove("yield-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second Remove = %v, want ErrNotFound", err)
	}
}

func TestRegistryDisableAll(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"yield-1", "yield-2"} {
		cfg := yieldConfig()
		cfg.ID = id
		a, err := NewAgent(cfg)
		if err != nil {
			t.Fatalf("NewAgent %s: %v", id, err)
		}
		if !a.Enabled() {
			t.Errorf("agent %s not enabled at birth", id)
		}
		if err := r.Register(a); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}

	if got := r.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
	if got := r.DisableAll(); got != 2 {
		t.Errorf("DisableAll = %d, want 2", got)
	}
	if got := r.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after disable = %d, want 0", got)
	}
	for _, a := range r.List() {
		if a.Enabled() {
			t.Errorf("agent %s still enabled", a.Config().ID)
		}
	}
	// Second pass finds nothing left to disable.
	if got := r.DisableAll(); got != 0 {
		t.Errorf("second DisableAll = %d, want 0", got)
	}
}
