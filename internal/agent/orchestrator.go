package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainflowlabs/sentinel/internal/domain"
	"github.com/chainflowlabs/sentinel/internal/notify"
)

const (
	// executeGate is the confidence an auto-execute agent's decision must
	// clear before the orchestrator dispatches it.
	executeGate = 0.7
	// historyLimit bounds the in-memory decision and execution buffers.
	historyLimit = 500
)

// Book is the slice of the ledger the orchestrator dispatches against.
type Book interface {
	Active() []domain.Position
	Open(ctx context.Context, opp domain.Opportunity, wallet string, amount float64) domain.OpResult
	Compound(ctx context.Context, positionID string) domain.OpResult
	Harvest(ctx context.Context, positionID string, reinvest bool) domain.OpResult
	Unstake(ctx context.Context, positionID string, amount float64, reason domain.ExitReason) domain.OpResult
}

// RiskAssessor scores a position's current risk.
type RiskAssessor interface {
	AssessPosition(ctx context.Context, pos domain.Position) (float64, error)
}

// SnapshotSource exposes the latest performance snapshot.
type SnapshotSource interface {
	Latest() (domain.PerformanceSnapshot, bool)
}

// Orchestrator fans market state out to every registered agent once per
// cycle, records their decisions in a bounded history, and dispatches
// qualifying decisions to the ledger.
type Orchestrator struct {
	registry *Registry
	book     Book
	provider domain.MarketDataProvider
	assessor RiskAssessor
	tracker  SnapshotSource        // optional
	store    domain.ExecutionStore // optional
	notifier *notify.Notifier      // optional
	logger   *slog.Logger

	mu         sync.RWMutex
	decisions  []domain.Decision
	executions []domain.ExecutionRecord
}

func NewOrchestrator(
	registry *Registry,
	book Book,
	provider domain.MarketDataProvider,
	assessor RiskAssessor,
	tracker SnapshotSource,
	store domain.ExecutionStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		book:     book,
		provider: provider,
		assessor: assessor,
		tracker:  tracker,
		store:    store,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "orchestrator")),
	}
}

// RunCycle assembles one shared decision context and runs every enabled
// agent against it. Disabled agents are skipped entirely. Decisions below
// the confidence floor are discarded; a decision strictly above the
// execution gate from an auto-execute agent is dispatched immediately.
func (o *Orchestrator) RunCycle(ctx context.Context, features domain.MarketFeatures, opps []domain.Opportunity) []domain.Decision {
	positions := o.book.Active()
	risks := make(map[string]float64, len(positions))
	for _, p := range positions {
		score, err := o.assessor.AssessPosition(ctx, p)
		if err != nil {
			o.logger.Warn("risk assessment failed, position excluded from cycle",
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		risks[p.ID] = score
	}

	dc := DecisionContext{
		Features:      features,
		Opportunities: opps,
		Positions:     positions,
		PositionRisks: risks,
	}
	if o.tracker != nil {
		if snap, ok := o.tracker.Latest(); ok {
			dc.Snapshot = &snap
		}
	}

	var made []domain.Decision
	for _, a := range o.registry.List() {
		if ctx.Err() != nil {
			break
		}
		if !a.Enabled() {
			continue
		}
		d := a.Decide(dc)
		if d.Action == domain.ActionNone || d.Confidence < confidenceFloor {
			continue
		}
		a.noteDecision()
		o.record(d)
		made = append(made, d)

		o.logger.Info("decision",
			slog.String("agent", d.AgentID),
			slog.String("type", string(d.AgentType)),
			slog.String("action", string(d.Action)),
			slog.Float64("confidence", d.Confidence),
			slog.String("justification", d.Justification),
		)

		if a.Config().AutoExecute && d.Confidence > executeGate {
			o.dispatch(ctx, a, d, opps)
		}
	}
	return made
}

// dispatch maps a decision onto ledger operations and appends the outcome to
// the execution log. Rebalance decisions are advisory and never dispatched.
func (o *Orchestrator) dispatch(ctx context.Context, a *Agent, d domain.Decision, opps []domain.Opportunity) {
	cfg := a.Config()
	var res domain.OpResult
	switch d.Action {
	case domain.ActionStake, domain.ActionIncrease:
		res = o.openFor(ctx, cfg, d, opps)
	case domain.ActionMigrate:
		res = o.book.Unstake(ctx, d.PositionID, 0, domain.ExitReasonReallocation)
		if res.Success {
			res = o.openFor(ctx, cfg, d, opps)
		}
	case domain.ActionUnstake:
		res = o.book.Unstake(ctx, d.PositionID, 0, domain.ExitReasonRisk)
	case domain.ActionCompound:
		res = o.book.Compound(ctx, d.PositionID)
	case domain.ActionHarvest:
		res = o.book.Harvest(ctx, d.PositionID, false)
	default:
		return
	}
	a.noteExecution()

	rec := domain.ExecutionRecord{
		ID:         uuid.New().String(),
		DecisionID: d.ID,
		AgentID:    d.AgentID,
		Action:     d.Action,
		TxHash:     res.TxHash,
		Status:     domain.ExecutionStatusConfirmed,
		GasUsed:    res.GasUsed,
		Error:      res.Error,
		CreatedAt:  time.Now().UTC(),
	}
	if !res.Success {
		rec.Status = domain.ExecutionStatusFailed
	}
	o.recordExecution(ctx, rec)

	if !res.Success {
		o.logger.Warn("dispatch failed",
			slog.String("agent", d.AgentID),
			slog.String("action", string(d.Action)),
			slog.String("error", res.Error),
		)
	}
}

// openFor resolves the decision's target pool against the cycle's scanned
// opportunities and opens a position sized by the decision's USD amount. A
// target no longer present in the scan is a validation failure, not a blind
// entry.
func (o *Orchestrator) openFor(ctx context.Context, cfg Config, d domain.Decision, opps []domain.Opportunity) domain.OpResult {
	var opp *domain.Opportunity
	for i := range opps {
		if opps[i].Protocol == d.Protocol && opps[i].Asset == d.Asset {
			opp = &opps[i]
			break
		}
	}
	if opp == nil {
		return domain.Fail("", &domain.ValidationError{
			Field:  "opportunity",
			Reason: fmt.Sprintf("%s/%s no longer in the scanned opportunity set", d.Protocol, d.Asset),
		})
	}
	price, err := o.provider.GetPrice(ctx, d.Asset)
	if err != nil {
		return domain.Fail("", err)
	}
	if price <= 0 {
		return domain.Fail("", &domain.ValidationError{Field: "price", Reason: fmt.Sprintf("no price for asset %s", d.Asset)})
	}
	return o.book.Open(ctx, *opp, cfg.Wallet, d.Amount/price)
}

func (o *Orchestrator) record(d domain.Decision) {
	o.mu.Lock()
	o.decisions = append(o.decisions, d)
	if len(o.decisions) > historyLimit {
		o.decisions = o.decisions[len(o.decisions)-historyLimit:]
	}
	o.mu.Unlock()
}

func (o *Orchestrator) recordExecution(ctx context.Context, rec domain.ExecutionRecord) {
	o.mu.Lock()
	o.executions = append(o.executions, rec)
	if len(o.executions) > historyLimit {
		o.executions = o.executions[len(o.executions)-historyLimit:]
	}
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.Insert(ctx, rec); err != nil {
			o.logger.Warn("execution record persist failed",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Decisions returns a copy of the recent decision history, oldest first.
func (o *Orchestrator) Decisions() []domain.Decision {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]domain.Decision(nil), o.decisions...)
}

// Executions returns a copy of the recent execution log, oldest first.
func (o *Orchestrator) Executions() []domain.ExecutionRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]domain.ExecutionRecord(nil), o.executions...)
}

// EmergencyStopAll disables every agent so no further cycle can act, then
// unwinds every active position with the emergency reason. It is best
// effort: failures are collected and reported, not retried, and one failing
// position does not stop the sweep.
func (o *Orchestrator) EmergencyStopAll(ctx context.Context) (closed int, failed []string) {
	disabled := o.registry.DisableAll()
	positions := o.book.Active()
	o.logger.Warn("emergency stop requested",
		slog.Int("agents_disabled", disabled),
		slog.Int("positions", len(positions)),
	)

	for _, p := range positions {
		res := o.book.Unstake(ctx, p.ID, 0, domain.ExitReasonEmergency)
		if res.Success {
			closed++
			continue
		}
		failed = append(failed, p.ID)
		o.logger.Error("emergency unstake failed",
			slog.String("position_id", p.ID),
			slog.String("error", res.Error),
		)
	}

	if o.notifier != nil {
		o.notifier.Enqueue(domain.Event{
			Severity: domain.SeverityCritical,
			Kind:     "emergency_stop",
			Message:  fmt.Sprintf("emergency stop: closed %d of %d positions", closed, len(positions)),
			Payload:  map[string]any{"failed": len(failed)},
		})
	}
	return closed, failed
}
