// Package agent hosts the decision layer: agents wrap per-type decision
// functions behind explicit parameters, and the orchestrator fans market
// state out to every registered agent each cycle.
package agent

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// confidenceFloor discards decisions too weak to record as actionable.
const confidenceFloor = 0.5

// Config carries the explicit parameters of one agent. Agents hold no
// global state; two agents of the same type with different parameters are
// fully independent.
type Config struct {
	ID             string
	Type           domain.AgentType
	Wallet         string
	RiskTolerance  float64 // [0,1], ceiling on acceptable position risk
	MaxPositionUSD float64
	// MinProfitUSD is the smallest annualized USD return an entry decision
	// is worth acting on. Yield and arbitrage agents return no decision
	// below it; portfolio and risk agents ignore it since their decisions
	// are defensive, not profit-seeking.
	MinProfitUSD float64
	// AutoExecute allows the orchestrator to dispatch this agent's
	// decisions when confidence clears the execution gate.
	AutoExecute bool
}

func (c Config) validate() error {
	if c.ID == "" {
		return &domain.ValidationError{Field: "id", Reason: "agent id is required"}
	}
	switch c.Type {
	case domain.AgentTypeYield, domain.AgentTypeArbitrage, domain.AgentTypePortfolio, domain.AgentTypeRisk:
	default:
		return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown agent type %q", c.Type)}
	}
	if c.RiskTolerance < 0 || c.RiskTolerance > 1 {
		return &domain.ValidationError{Field: "risk_tolerance", Reason: "must be within [0,1]"}
	}
	if c.MaxPositionUSD <= 0 {
		return &domain.ValidationError{Field: "max_position_usd", Reason: "must be positive"}
	}
	if c.MinProfitUSD < 0 {
		return &domain.ValidationError{Field: "min_profit_usd", Reason: "must not be negative"}
	}
	return nil
}

// DecisionContext is everything a decision function may look at during one
// cycle. It is assembled once by the orchestrator and shared read-only by
// all agents.
type DecisionContext struct {
	Features      domain.MarketFeatures
	Opportunities []domain.Opportunity
	Positions     []domain.Position
	// PositionRisks maps position id to its current risk score.
	PositionRisks map[string]float64
	Snapshot      *domain.PerformanceSnapshot
}

// Agent binds a config to the decision function for its type. An agent
// starts enabled and keeps running counters of the decisions it produced
// and the executions dispatched on its behalf.
type Agent struct {
	cfg    Config
	decide func(Config, DecisionContext) domain.Decision

	enabled    atomic.Bool
	decisions  atomic.Int64
	executions atomic.Int64
}

// NewAgent builds an agent after validating its config.
func NewAgent(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	var fn func(Config, DecisionContext) domain.Decision
	switch cfg.Type {
	case domain.AgentTypeYield:
		fn = decideYield
	case domain.AgentTypeArbitrage:
		fn = decideArbitrage
	case domain.AgentTypePortfolio:
		fn = decidePortfolio
	case domain.AgentTypeRisk:
		fn = decideRisk
	}
	a := &Agent{cfg: cfg, decide: fn}
	a.enabled.Store(true)
	return a, nil
}

func (a *Agent) Config() Config { return a.cfg }

// Enabled reports whether the orchestrator may run this agent.
func (a *Agent) Enabled() bool { return a.enabled.Load() }

// SetEnabled switches the agent in or out of the decision cycle.
func (a *Agent) SetEnabled(on bool) { a.enabled.Store(on) }

// Stats is an agent's running activity counters.
type Stats struct {
	Decisions  int64
	Executions int64
}

// Stats returns the agent's running counters.
func (a *Agent) Stats() Stats {
	return Stats{
		Decisions:  a.decisions.Load(),
		Executions: a.executions.Load(),
	}
}

func (a *Agent) noteDecision()  { a.decisions.Add(1) }
func (a *Agent) noteExecution() { a.executions.Add(1) }

// Decide runs the agent's decision function and stamps identity fields.
func (a *Agent) Decide(dc DecisionContext) domain.Decision {
	d := a.decide(a.cfg, dc)
	d.ID = uuid.New().String()
	d.AgentID = a.cfg.ID
	d.AgentType = a.cfg.Type
	d.Features = dc.Features
	d.CreatedAt = time.Now().UTC()
	return d
}

// Registry holds the live agents. All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Register adds an agent. Registering an id twice fails.
func (r *Registry) Register(a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.cfg.ID]; ok {
		return fmt.Errorf("register agent %s: %w", a.cfg.ID, domain.ErrAlreadyExists)
	}
	r.agents[a.cfg.ID] = a
	return nil
}

// Get returns the agent with the given id.
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

// Remove deletes the agent with the given id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	delete(r.agents, id)
	return nil
}

// List returns all registered agents in unspecified order.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// DisableAll switches every registered agent out of the decision cycle and
// returns how many were enabled before the call.
func (r *Registry) DisableAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.agents {
		if a.Enabled() {
			n++
		}
		a.SetEnabled(false)
	}
	return n
}

// ActiveCount returns the number of enabled agents.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.agents {
		if a.Enabled() {
			n++
		}
	}
	return n
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// decideYield chases the best-scored opportunity within the agent's risk
// tolerance. It stakes fresh capital, or tops up an existing position in
// the same pool.
func decideYield(cfg Config, dc DecisionContext) domain.Decision {
	var best *domain.Opportunity
	for i := range dc.Opportunities {
		opp := &dc.Opportunities[i]
		if opp.RiskScore > cfg.RiskTolerance {
			continue
		}
		if best == nil || opp.Score > best.Score {
			best = opp
		}
	}
	if best == nil {
		return domain.Decision{Action: domain.ActionNone, Justification: "no opportunity within risk tolerance"}
	}
	if expected := best.APY * cfg.MaxPositionUSD; expected < cfg.MinProfitUSD {
		return domain.Decision{
			Action: domain.ActionNone,
			Justification: fmt.Sprintf("expected return $%.2f/yr below the $%.2f minimum",
				expected, cfg.MinProfitUSD),
		}
	}

	action := domain.ActionStake
	positionID := ""
	for _, p := range dc.Positions {
		if p.Protocol == best.Protocol && p.Asset == best.Asset {
			action = domain.ActionIncrease
			positionID = p.ID
			break
		}
	}

	confidence := clamp01(0.4 + best.APY*2 - best.RiskScore*0.5)
	return domain.Decision{
		Action:     action,
		Confidence: confidence,
		Justification: fmt.Sprintf("%s/%s offers %.2f%% APY at risk %.2f (score %.2f)",
			best.Protocol, best.Asset, best.APY*100, best.RiskScore, best.Score),
		PositionID: positionID,
		Protocol:   best.Protocol,
		Asset:      best.Asset,
		Amount:     cfg.MaxPositionUSD,
	}
}

// decideArbitrage looks for an APY spread across protocols on the same
// asset. When a position sits on the low side of a wide spread it migrates;
// otherwise it enters the high side.
func decideArbitrage(cfg Config, dc DecisionContext) domain.Decision {
	type extremes struct {
		low, high domain.Opportunity
		seen      bool
	}
	byAsset := make(map[string]*extremes)
	for _, opp := range dc.Opportunities {
		if opp.RiskScore > cfg.RiskTolerance {
			continue
		}
		e, ok := byAsset[opp.Asset]
		if !ok {
			byAsset[opp.Asset] = &extremes{low: opp, high: opp, seen: true}
			continue
		}
		if opp.APY < e.low.APY {
			e.low = opp
		}
		if opp.APY > e.high.APY {
			e.high = opp
		}
	}

	var bestSpread float64
	var target *extremes
	for _, e := range byAsset {
		spread := e.high.APY - e.low.APY
		if spread > bestSpread {
			bestSpread = spread
			target = e
		}
	}
	if target == nil || bestSpread < 0.01 {
		return domain.Decision{Action: domain.ActionNone, Justification: "no exploitable yield spread"}
	}
	if expected := bestSpread * cfg.MaxPositionUSD; expected < cfg.MinProfitUSD {
		return domain.Decision{
			Action: domain.ActionNone,
			Justification: fmt.Sprintf("spread worth $%.2f/yr, below the $%.2f minimum",
				expected, cfg.MinProfitUSD),
		}
	}

	action := domain.ActionStake
	positionID := ""
	for _, p := range dc.Positions {
		if p.Asset == target.high.Asset && p.Protocol == target.low.Protocol {
			action = domain.ActionMigrate
			positionID = p.ID
			break
		}
	}

	return domain.Decision{
		Action:     action,
		Confidence: clamp01(0.5 + bestSpread*10),
		Justification: fmt.Sprintf("%s yields %.2f%% on %s vs %.2f%% on %s",
			target.high.Asset, target.high.APY*100, target.high.Protocol,
			target.low.APY*100, target.low.Protocol),
		PositionID: positionID,
		Protocol:   target.high.Protocol,
		Asset:      target.high.Asset,
		Amount:     cfg.MaxPositionUSD,
	}
}

// decidePortfolio watches the latest performance snapshot for concentration
// and recommends a rebalance. Rebalance decisions are advisory and are
// never auto-dispatched.
func decidePortfolio(cfg Config, dc DecisionContext) domain.Decision {
	if dc.Snapshot == nil || dc.Snapshot.ActivePositions < 2 {
		return domain.Decision{Action: domain.ActionNone, Justification: "not enough positions to rebalance"}
	}
	snap := dc.Snapshot

	maxShare := 0.0
	maxProto := ""
	for proto, share := range snap.ProtocolShares {
		if share > maxShare {
			maxShare = share
			maxProto = proto
		}
	}

	if maxShare <= 0.25 && snap.Diversification >= 0.3 {
		return domain.Decision{Action: domain.ActionNone, Justification: "allocation within bounds"}
	}

	return domain.Decision{
		Action:     domain.ActionRebalance,
		Confidence: clamp01(0.5 + (maxShare-0.25)*2),
		Justification: fmt.Sprintf("protocol %s holds %.1f%% of value, diversification %.2f",
			maxProto, maxShare*100, snap.Diversification),
		Protocol: maxProto,
	}
}

// decideRisk exits the riskiest position above the agent's tolerance.
func decideRisk(cfg Config, dc DecisionContext) domain.Decision {
	var worst *domain.Position
	worstScore := 0.0
	for i := range dc.Positions {
		p := &dc.Positions[i]
		score, ok := dc.PositionRisks[p.ID]
		if !ok {
			continue
		}
		if score > cfg.RiskTolerance && score > worstScore {
			worst = p
			worstScore = score
		}
	}
	if worst == nil {
		return domain.Decision{Action: domain.ActionNone, Justification: "all positions within risk tolerance"}
	}
	return domain.Decision{
		Action:     domain.ActionUnstake,
		Confidence: clamp01(0.5 + (worstScore-cfg.RiskTolerance)*2),
		Justification: fmt.Sprintf("position %s risk %.2f exceeds tolerance %.2f",
			worst.ID, worstScore, cfg.RiskTolerance),
		PositionID: worst.ID,
		Protocol:   worst.Protocol,
		Asset:      worst.Asset,
	}
}
