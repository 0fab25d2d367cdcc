// Package ledger is the authoritative record of all positions and their
// lifecycle state. It is the only component that mutates a position: open,
// compound, harvest, and unstake all pass through here, serialized per
// position, with no partial state commits on execution failure.
package ledger

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

// secondsPerYear anchors APY accrual estimates.
const secondsPerYear = 365 * 24 * 3600.0

// Config holds the ledger's validation thresholds.
type Config struct {
	// MinPositionSize is the smallest acceptable stake in USD.
	MinPositionSize float64
	// MinEntryAPY is the yield floor for opening a position.
	MinEntryAPY float64
	// MaxEntryRisk is the risk ceiling for opening a position.
	MaxEntryRisk float64
	// MaxAllocation caps the fraction of the portfolio (active value plus
	// wallet balance) a single protocol may hold after an open.
	MaxAllocation float64
	// GasBuffer is the extra wallet balance fraction required beyond the
	// stake amount.
	GasBuffer float64
	// CompoundThreshold is the minimum accrued reward in USD worth
	// compounding; below it Compound is a no-op.
	CompoundThreshold float64
}

// UnstakeValidator gates non-manual, non-emergency unstake reasons. The risk
// engine implements it; it is injected after construction to break the
// dependency cycle between ledger and risk packages.
type UnstakeValidator interface {
	ValidateUnstake(ctx context.Context, pos domain.Position, reason domain.ExitReason) (bool, error)
}

// Ledger owns all position records. All exported methods are safe for
// concurrent use; operations on the same position id are serialized by a
// per-position lock held across the adapter call.
type Ledger struct {
	cfg      Config
	adapter  domain.ExecutionAdapter
	provider domain.MarketDataProvider
	balances domain.BalanceProvider
	store    domain.PositionStore // optional durable mirror
	audit    domain.AuditStore    // optional
	notifier *notify.Notifier     // optional
	logger   *slog.Logger

	mu        sync.RWMutex
	positions map[string]*domain.Position

	opLocks   sync.Map // position id -> *sync.Mutex
	validator UnstakeValidator
}

// New creates a Ledger. store, audit, and notifier may be nil; the ledger
// then runs purely in memory.
func New(
	cfg Config,
	adapter domain.ExecutionAdapter,
	provider domain.MarketDataProvider,
	balances domain.BalanceProvider,
	store domain.PositionStore,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Ledger {
	return &Ledger{
		cfg:       cfg,
		adapter:   adapter,
		provider:  provider,
		balances:  balances,
		store:     store,
		audit:     audit,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "ledger")),
		positions: make(map[string]*domain.Position),
	}
}

// SetUnstakeValidator installs the gate consulted for risk, performance,
// reallocation, and time-limit unstakes. Without a validator those reasons
// are rejected (fail closed).
func (l *Ledger) SetUnstakeValidator(v UnstakeValidator) {
	l.validator = v
}

// Restore loads the active positions persisted for the given wallet back
// into memory. It is meant to be called once at startup, before any
// lifecycle operation, and is a no-op without a store.
func (l *Ledger) Restore(ctx context.Context, wallet string) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	persisted, err := l.store.ListActive(ctx, wallet)
	if err != nil {
		return 0, fmt.Errorf("ledger: restore: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range persisted {
		p := persisted[i]
		l.positions[p.ID] = &p
	}
	l.logger.InfoContext(ctx, "restored positions", slog.Int("count", len(persisted)))
	return len(persisted), nil
}

// opLock returns the mutex serializing lifecycle operations for one position.
func (l *Ledger) opLock(id string) *sync.Mutex {
	mu, _ := l.opLocks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Get returns a copy of the position with the given id.
func (l *Ledger) Get(id string) (domain.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return *p, nil
}

// Active returns copies of all active positions. Callers must not cache the
// result across cycles.
func (l *Ledger) Active() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if p.Status == domain.PositionStatusActive {
			out = append(out, *p)
		}
	}
	return out
}

// All returns copies of every position the ledger knows, open or closed.
func (l *Ledger) All() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// activeValueUSD sums the entry-valued USD size of active positions, plus
// the value currently staked in the given protocol. Entry valuations keep
// the concentration check local and side-effect-free.
func (l *Ledger) activeValueUSD(protocol string) (total, inProtocol float64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.positions {
		if p.Status != domain.PositionStatusActive {
			continue
		}
		v := p.CurrentAmount * p.EntryPrice
		total += v
		if p.Protocol == protocol {
			inProtocol += v
		}
	}
	return total, inProtocol
}

// Open validates the opportunity and amount, stakes via the execution
// adapter, and on a confirmed receipt records a new active position. All
// validation failures are local: the adapter is never contacted.
func (l *Ledger) Open(ctx context.Context, opp domain.Opportunity, wallet string, amount float64) domain.OpResult {
	price, err := l.provider.GetPrice(ctx, opp.Asset)
	if err != nil {
		return l.fail("", "stake", err)
	}

	valueUSD := amount * price
	if valueUSD < l.cfg.MinPositionSize {
		return l.fail("", "stake", &domain.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("position value %.2f below minimum %.2f", valueUSD, l.cfg.MinPositionSize),
		})
	}
	if opp.APY < l.cfg.MinEntryAPY {
		return l.fail("", "stake", &domain.ValidationError{
			Field:  "apy",
			Reason: fmt.Sprintf("apy %.4f below floor %.4f", opp.APY, l.cfg.MinEntryAPY),
		})
	}
	if opp.RiskScore > l.cfg.MaxEntryRisk {
		return l.fail("", "stake", &domain.ValidationError{
			Field:  "risk",
			Reason: fmt.Sprintf("risk %.3f above ceiling %.3f", opp.RiskScore, l.cfg.MaxEntryRisk),
		})
	}

	balance, err := l.balances.Balance(ctx, wallet)
	if err != nil {
		return l.fail("", "stake", err)
	}
	if balance < valueUSD*(1+l.cfg.GasBuffer) {
		return l.fail("", "stake", &domain.ValidationError{
			Field:  "balance",
			Reason: fmt.Sprintf("wallet balance %.2f below required %.2f", balance, valueUSD*(1+l.cfg.GasBuffer)),
		})
	}

	total, inProtocol := l.activeValueUSD(opp.Protocol)
	portfolio := total + balance
	if portfolio <= 0 || (inProtocol+valueUSD)/portfolio > l.cfg.MaxAllocation {
		return l.fail("", "stake", &domain.ValidationError{
			Field:  "concentration",
			Reason: fmt.Sprintf("protocol %s would exceed max allocation %.2f", opp.Protocol, l.cfg.MaxAllocation),
		})
	}

	// Proposed position: exists only until the stake confirms.
	now := time.Now().UTC()
	pos := domain.Position{
		ID:             uuid.New().String(),
		Wallet:         wallet,
		Protocol:       opp.Protocol,
		Asset:          opp.Asset,
		Network:        opp.Network,
		EntryAmount:    amount,
		EntryPrice:     price,
		EntryAPY:       opp.APY,
		EntryRisk:      opp.RiskScore,
		OpenedAt:       now,
		CurrentAmount:  amount,
		LastCompoundAt: now,
		Status:         domain.PositionStatusProposed,
	}

	receipt, err := l.adapter.Stake(ctx, opp.Protocol, opp.Asset, amount, wallet)
	if err != nil {
		return l.fail("", "stake", &domain.ExecutionError{Op: "stake", Err: err})
	}

	pos.Status = domain.PositionStatusActive
	pos.GasSpent = receipt.GasUsed

	l.mu.Lock()
	l.positions[pos.ID] = &pos
	l.mu.Unlock()

	l.persistCreate(ctx, pos)
	l.auditLog(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"protocol":    pos.Protocol,
		"asset":       pos.Asset,
		"amount":      amount,
		"apy":         opp.APY,
		"tx":          receipt.TxHash,
	})
	l.notify(domain.SeverityInfo, "stake", fmt.Sprintf("opened %s/%s position for %.4f", pos.Protocol, pos.Asset, amount), map[string]any{
		"position_id": pos.ID,
		"tx":          receipt.TxHash,
	})

	l.logger.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.String("protocol", pos.Protocol),
		slog.String("asset", pos.Asset),
		slog.Float64("amount", amount),
	)

	return domain.OpResult{
		Success:    true,
		PositionID: pos.ID,
		TxHash:     receipt.TxHash,
		GasUsed:    receipt.GasUsed,
	}
}

// Compound claims accrued rewards and restakes them into the same position.
// It is a no-op when the estimated accrued reward is below the configured
// threshold, which also makes it idempotent within one reward epoch.
func (l *Ledger) Compound(ctx context.Context, positionID string) domain.OpResult {
	mu := l.opLock(positionID)
	mu.Lock()
	defer mu.Unlock()

	pos, err := l.Get(positionID)
	if err != nil {
		return l.fail(positionID, "compound", err)
	}
	if pos.Status == domain.PositionStatusClosed {
		return l.fail(positionID, "compound", domain.ErrPositionClosed)
	}

	info, err := l.provider.GetYield(ctx, pos.Protocol, pos.Asset)
	if err != nil {
		return l.fail(positionID, "compound", err)
	}
	price, err := l.provider.GetPrice(ctx, pos.Asset)
	if err != nil {
		return l.fail(positionID, "compound", err)
	}

	now := time.Now().UTC()
	elapsed := now.Sub(pos.LastCompoundAt).Seconds()
	accrued := pos.CurrentAmount * info.APY * (elapsed / secondsPerYear)
	if accrued*price < l.cfg.CompoundThreshold {
		return domain.OpResult{Success: true, Skipped: true, PositionID: positionID}
	}

	claimed, claimReceipt, err := l.adapter.ClaimRewards(ctx, pos.Protocol, pos)
	if err != nil {
		return l.fail(positionID, "compound", &domain.ExecutionError{Op: "claim", Err: err})
	}
	stakeReceipt, err := l.adapter.Stake(ctx, pos.Protocol, pos.Asset, claimed, pos.Wallet)
	if err != nil {
		// Rewards were claimed but not restaked; the position record stays
		// untouched so the caller can retry without double-counting.
		return l.fail(positionID, "compound", &domain.ExecutionError{Op: "restake", Err: err})
	}

	gas := claimReceipt.GasUsed + stakeReceipt.GasUsed
	l.commit(positionID, func(p *domain.Position) {
		p.CurrentAmount += claimed
		p.Compounded += claimed * price
		p.CompoundCount++
		p.LastCompoundAt = now
		p.GasSpent += gas
	})

	l.auditLog(ctx, "position_compounded", map[string]any{
		"position_id": positionID,
		"claimed":     claimed,
		"gas":         gas,
	})
	l.notify(domain.SeverityInfo, "compound", fmt.Sprintf("compounded %.6f into position", claimed), map[string]any{
		"position_id": positionID,
		"tx":          stakeReceipt.TxHash,
	})

	return domain.OpResult{
		Success:    true,
		PositionID: positionID,
		TxHash:     stakeReceipt.TxHash,
		GasUsed:    gas,
	}
}

// Harvest claims accrued rewards. With reinvest the rewards are restaked
// into the same position (same effect as a compound but tracked in the
// harvest statistics); without it the rewards leave the position.
func (l *Ledger) Harvest(ctx context.Context, positionID string, reinvest bool) domain.OpResult {
	mu := l.opLock(positionID)
	mu.Lock()
	defer mu.Unlock()

	pos, err := l.Get(positionID)
	if err != nil {
		return l.fail(positionID, "harvest", err)
	}
	if pos.Status == domain.PositionStatusClosed {
		return l.fail(positionID, "harvest", domain.ErrPositionClosed)
	}

	price, err := l.provider.GetPrice(ctx, pos.Asset)
	if err != nil {
		return l.fail(positionID, "harvest", err)
	}

	claimed, claimReceipt, err := l.adapter.ClaimRewards(ctx, pos.Protocol, pos)
	if err != nil {
		return l.fail(positionID, "harvest", &domain.ExecutionError{Op: "claim", Err: err})
	}

	gas := claimReceipt.GasUsed
	var txHash = claimReceipt.TxHash
	if reinvest {
		stakeReceipt, err := l.adapter.Stake(ctx, pos.Protocol, pos.Asset, claimed, pos.Wallet)
		if err != nil {
			return l.fail(positionID, "harvest", &domain.ExecutionError{Op: "restake", Err: err})
		}
		gas += stakeReceipt.GasUsed
		txHash = stakeReceipt.TxHash
	}

	now := time.Now().UTC()
	l.commit(positionID, func(p *domain.Position) {
		if reinvest {
			p.CurrentAmount += claimed
		}
		p.Harvested += claimed * price
		p.HarvestCount++
		p.LastHarvestAt = now
		p.GasSpent += gas
	})

	l.auditLog(ctx, "position_harvested", map[string]any{
		"position_id": positionID,
		"claimed":     claimed,
		"reinvest":    reinvest,
	})
	l.notify(domain.SeverityInfo, "harvest", fmt.Sprintf("harvested %.6f (reinvest=%t)", claimed, reinvest), map[string]any{
		"position_id": positionID,
		"tx":          txHash,
	})

	return domain.OpResult{
		Success:    true,
		PositionID: positionID,
		TxHash:     txHash,
		GasUsed:    gas,
	}
}

// Unstake withdraws principal from a position. amount zero (omitted) or
// equal to the current amount closes the position; a smaller amount performs
// a partial reduction; a negative amount is rejected. Manual and emergency
// unstakes always proceed; every other reason is gated by the installed
// UnstakeValidator and rejected when no validator is present.
func (l *Ledger) Unstake(ctx context.Context, positionID string, amount float64, reason domain.ExitReason) domain.OpResult {
	mu := l.opLock(positionID)
	mu.Lock()
	defer mu.Unlock()

	if amount < 0 {
		return l.fail(positionID, "unstake", &domain.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("unstake amount must not be negative, got %.6f", amount),
		})
	}

	pos, err := l.Get(positionID)
	if err != nil {
		return l.fail(positionID, "unstake", err)
	}
	if pos.Status == domain.PositionStatusClosed {
		return l.fail(positionID, "unstake", domain.ErrPositionClosed)
	}

	if reason != domain.ExitReasonManual && reason != domain.ExitReasonEmergency {
		allowed := false
		if l.validator != nil {
			ok, verr := l.validator.ValidateUnstake(ctx, pos, reason)
			allowed = verr == nil && ok
		}
		if !allowed {
			return l.fail(positionID, "unstake", &domain.ValidationError{
				Field:  "reason",
				Reason: fmt.Sprintf("unstake gate rejected reason %q", reason),
			})
		}
	}

	full := amount == 0 || amount == pos.CurrentAmount
	if amount > pos.CurrentAmount {
		return l.fail(positionID, "unstake", &domain.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("unstake amount %.6f exceeds current amount %.6f", amount, pos.CurrentAmount),
		})
	}
	withdrawAmt := amount
	if full {
		withdrawAmt = pos.CurrentAmount
	}

	receipt, err := l.adapter.Withdraw(ctx, pos.Protocol, pos.Asset, withdrawAmt, pos.Wallet)
	if err != nil {
		return l.fail(positionID, "unstake", &domain.ExecutionError{Op: "withdraw", Err: err})
	}

	now := time.Now().UTC()
	l.commit(positionID, func(p *domain.Position) {
		p.GasSpent += receipt.GasUsed
		if full {
			p.CurrentAmount = 0
			p.Status = domain.PositionStatusClosed
			p.ClosedAt = &now
			p.ExitReason = reason
			p.NetYield = p.GrossYield() - p.GasSpent
		} else {
			p.CurrentAmount -= withdrawAmt
			p.PartialUnstakes++
		}
	})

	l.auditLog(ctx, "position_unstaked", map[string]any{
		"position_id": positionID,
		"amount":      withdrawAmt,
		"full":        full,
		"reason":      string(reason),
	})

	severity := domain.SeverityInfo
	if reason == domain.ExitReasonEmergency || reason == domain.ExitReasonRisk {
		severity = domain.SeverityWarning
	}
	l.notify(severity, "unstake", fmt.Sprintf("unstaked %.6f (%s, full=%t)", withdrawAmt, reason, full), map[string]any{
		"position_id": positionID,
		"tx":          receipt.TxHash,
	})

	l.logger.Info("position unstaked",
		slog.String("position_id", positionID),
		slog.Float64("amount", withdrawAmt),
		slog.Bool("full", full),
		slog.String("reason", string(reason)),
	)

	return domain.OpResult{
		Success:    true,
		PositionID: positionID,
		TxHash:     receipt.TxHash,
		GasUsed:    receipt.GasUsed,
	}
}

// commit applies fn to the live position under the write lock and mirrors
// the result to the durable store.
func (l *Ledger) commit(positionID string, fn func(*domain.Position)) {
	l.mu.Lock()
	p, ok := l.positions[positionID]
	if ok {
		fn(p)
	}
	var snapshot domain.Position
	if ok {
		snapshot = *p
	}
	l.mu.Unlock()

	if ok && l.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.store.Update(ctx, snapshot); err != nil {
			l.logger.Warn("position store update failed",
				slog.String("position_id", positionID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (l *Ledger) persistCreate(ctx context.Context, pos domain.Position) {
	if l.store == nil {
		return
	}
	if err := l.store.Create(ctx, pos); err != nil {
		l.logger.Warn("position store create failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Ledger) auditLog(ctx context.Context, event string, detail map[string]any) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.logger.Warn("audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Ledger) notify(severity domain.Severity, kind, message string, payload map[string]any) {
	if l.notifier == nil {
		return
	}
	l.notifier.Enqueue(domain.Event{
		Severity: severity,
		Kind:     kind,
		Message:  message,
		Payload:  payload,
	})
}

// fail builds the failure result, mirrors it to the notification sink, and
// logs it. The position is guaranteed to be in its prior state.
func (l *Ledger) fail(positionID, op string, err error) domain.OpResult {
	res := domain.Fail(positionID, err)
	l.notify(domain.SeverityWarning, "failure", fmt.Sprintf("%s failed: %v", op, err), map[string]any{
		"position_id": positionID,
		"kind":        string(res.ErrorKind),
	})
	l.logger.Warn("lifecycle operation failed",
		slog.String("op", op),
		slog.String("position_id", positionID),
		slog.String("kind", string(res.ErrorKind)),
		slog.String("error", err.Error()),
	)
	return res
}
