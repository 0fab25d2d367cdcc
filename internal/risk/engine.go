// Package risk scores active positions and drives the exit triggers. It is
// the gatekeeper for every non-manual unstake: the ledger calls back into
// ValidateUnstake before releasing principal, and unknown reasons are
// rejected.
package risk

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/chainflowlabs/sentinel/internal/domain"
	"github.com/chainflowlabs/sentinel/internal/scanner"
)

// Config holds the trigger thresholds.
type Config struct {
	// EmergencyThreshold is the loss fraction at which a position is
	// force-closed: total return below -EmergencyThreshold fires the
	// emergency exit ahead of every other trigger.
	EmergencyThreshold float64
	// ExitThreshold arms the ordinary risk exit.
	ExitThreshold float64
	// MaxDrawdown is the total-return floor below which the performance
	// exit fires (negative fraction, e.g. -0.05).
	MaxDrawdown float64
	// MaxHoldDays is the time-limit exit horizon.
	MaxHoldDays float64
	// ReallocAPYGain is the minimum APY improvement over the position's
	// entry APY before a reallocation is considered.
	ReallocAPYGain float64
	// ReallocRiskSlack is how much riskier than the entry the target may be.
	ReallocRiskSlack float64
	// ReallocDelay is the pause between the unstake and the re-entry of a
	// reallocation, covering withdrawal settlement.
	ReallocDelay time.Duration
}

// Defaults returns the stock trigger thresholds.
func Defaults() Config {
	return Config{
		EmergencyThreshold: 0.15,
		ExitThreshold:      0.6,
		MaxDrawdown:        -0.05,
		MaxHoldDays:        90,
		ReallocAPYGain:     0.02,
		ReallocRiskSlack:   0.1,
		ReallocDelay:       30 * time.Second,
	}
}

// PositionBook is the slice of the ledger the engine needs.
type PositionBook interface {
	Active() []domain.Position
	Open(ctx context.Context, opp domain.Opportunity, wallet string, amount float64) domain.OpResult
	Unstake(ctx context.Context, positionID string, amount float64, reason domain.ExitReason) domain.OpResult
}

// Engine scores positions and runs the periodic trigger sweep.
type Engine struct {
	cfg      Config
	book     PositionBook
	provider domain.MarketDataProvider
	logger   *slog.Logger

	mu   sync.RWMutex
	opps []domain.Opportunity // latest scan results
}

func New(cfg Config, book PositionBook, provider domain.MarketDataProvider, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		book:     book,
		provider: provider,
		logger:   logger.With(slog.String("component", "risk")),
	}
}

// SetOpportunities replaces the cached scan results consulted by the
// reallocation trigger.
func (e *Engine) SetOpportunities(opps []domain.Opportunity) {
	e.mu.Lock()
	e.opps = append([]domain.Opportunity(nil), opps...)
	e.mu.Unlock()
}

func (e *Engine) opportunities() []domain.Opportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opps
}

// AssessWith computes a position risk score from its components. The score
// is clamped to [0, 1].
//
// priceDeviation is the signed fractional move of the asset price since
// entry; only its magnitude matters and it is not capped on its own, so a
// large enough move saturates the score. Time held contributes linearly up
// to 0.2 at one year. Positions above 10k USD carry a larger liquidity
// component since they are harder to exit cleanly.
func AssessWith(staticRisk, priceDeviation, daysHeld, sizeUSD float64) float64 {
	score := staticRisk
	score += math.Abs(priceDeviation)
	score += math.Min(daysHeld/365*0.2, 0.2)
	if sizeUSD > 10_000 {
		score += 0.1
	} else {
		score += 0.05
	}
	return math.Min(score, 1)
}

// AssessPosition fetches the current price and scores the position.
func (e *Engine) AssessPosition(ctx context.Context, pos domain.Position) (float64, error) {
	price, err := e.provider.GetPrice(ctx, pos.Asset)
	if err != nil {
		return 0, err
	}
	return e.assessAt(pos, price, time.Now().UTC()), nil
}

func (e *Engine) assessAt(pos domain.Position, price float64, now time.Time) float64 {
	static := scanner.StaticRisk(pos.Protocol, pos.Asset)
	deviation := 0.0
	if pos.EntryPrice > 0 {
		deviation = (price - pos.EntryPrice) / pos.EntryPrice
	}
	return AssessWith(static, deviation, pos.DaysHeld(now), pos.ValueUSD(price))
}

// betterOpportunity returns the best cached opportunity that clears the
// reallocation gate for pos, or false when none does.
func (e *Engine) betterOpportunity(pos domain.Position) (domain.Opportunity, bool) {
	var best domain.Opportunity
	found := false
	for _, opp := range e.opportunities() {
		if opp.Protocol == pos.Protocol && opp.Asset == pos.Asset {
			continue
		}
		if opp.APY < pos.EntryAPY+e.cfg.ReallocAPYGain {
			continue
		}
		if opp.RiskScore > pos.EntryRisk+e.cfg.ReallocRiskSlack {
			continue
		}
		if !found || opp.Score > best.Score {
			best = opp
			found = true
		}
	}
	return best, found
}

// ValidateUnstake is the ledger's gate for trigger-driven exits. Each known
// reason is re-verified against live data at call time; unknown reasons are
// rejected.
func (e *Engine) ValidateUnstake(ctx context.Context, pos domain.Position, reason domain.ExitReason) (bool, error) {
	switch reason {
	case domain.ExitReasonRisk:
		score, err := e.AssessPosition(ctx, pos)
		if err != nil {
			return false, err
		}
		return score >= e.cfg.ExitThreshold, nil
	case domain.ExitReasonPerformance:
		price, err := e.provider.GetPrice(ctx, pos.Asset)
		if err != nil {
			return false, err
		}
		return pos.TotalReturn(price) < e.cfg.MaxDrawdown, nil
	case domain.ExitReasonReallocation:
		_, ok := e.betterOpportunity(pos)
		return ok, nil
	case domain.ExitReasonTimeLimit:
		return pos.DaysHeld(time.Now().UTC()) > e.cfg.MaxHoldDays, nil
	default:
		return false, nil
	}
}

// RunTriggerSweep evaluates every active position against the exit triggers
// and fires at most one trigger per position, in priority order: emergency,
// risk, performance, time limit, reallocation.
func (e *Engine) RunTriggerSweep(ctx context.Context) {
	for _, pos := range e.book.Active() {
		if ctx.Err() != nil {
			return
		}
		e.sweepOne(ctx, pos)
	}
}

func (e *Engine) sweepOne(ctx context.Context, pos domain.Position) {
	price, err := e.provider.GetPrice(ctx, pos.Asset)
	if err != nil {
		e.logger.Warn("trigger sweep skipping position",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	now := time.Now().UTC()
	score := e.assessAt(pos, price, now)

	switch {
	case pos.TotalReturn(price) < -e.cfg.EmergencyThreshold:
		e.exit(ctx, pos, domain.ExitReasonEmergency, score)
	case score >= e.cfg.ExitThreshold:
		e.exit(ctx, pos, domain.ExitReasonRisk, score)
	case pos.TotalReturn(price) < e.cfg.MaxDrawdown:
		e.exit(ctx, pos, domain.ExitReasonPerformance, score)
	case pos.DaysHeld(now) > e.cfg.MaxHoldDays:
		e.exit(ctx, pos, domain.ExitReasonTimeLimit, score)
	default:
		if opp, ok := e.betterOpportunity(pos); ok {
			e.reallocate(ctx, pos, opp)
		}
	}
}

func (e *Engine) exit(ctx context.Context, pos domain.Position, reason domain.ExitReason, score float64) {
	e.logger.Info("exit trigger fired",
		slog.String("position_id", pos.ID),
		slog.String("reason", string(reason)),
		slog.Float64("score", score),
	)
	res := e.book.Unstake(ctx, pos.ID, 0, reason)
	if !res.Success {
		e.logger.Warn("trigger exit failed",
			slog.String("position_id", pos.ID),
			slog.String("reason", string(reason)),
			slog.String("error", res.Error),
		)
	}
}

// reallocate closes the position and, after the settlement delay, re-enters
// the target opportunity with the same capital. The two legs are not atomic;
// a re-entry failure leaves the capital in the wallet and is reported, not
// retried.
func (e *Engine) reallocate(ctx context.Context, pos domain.Position, opp domain.Opportunity) {
	e.logger.Info("reallocation trigger fired",
		slog.String("position_id", pos.ID),
		slog.String("from", pos.Protocol),
		slog.String("to", opp.Protocol),
		slog.Float64("entry_apy", pos.EntryAPY),
		slog.Float64("target_apy", opp.APY),
	)

	amount := pos.CurrentAmount
	res := e.book.Unstake(ctx, pos.ID, 0, domain.ExitReasonReallocation)
	if !res.Success {
		e.logger.Warn("reallocation unstake failed",
			slog.String("position_id", pos.ID),
			slog.String("error", res.Error),
		)
		return
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.ReallocDelay):
		}
		reopen := e.book.Open(ctx, opp, pos.Wallet, amount)
		if !reopen.Success {
			e.logger.Error("reallocation re-entry failed, capital parked in wallet",
				slog.String("wallet", pos.Wallet),
				slog.String("protocol", opp.Protocol),
				slog.Float64("amount", amount),
				slog.String("error", reopen.Error),
			)
			return
		}
		e.logger.Info("reallocation complete",
			slog.String("old_position", pos.ID),
			slog.String("new_position", reopen.PositionID),
		)
	}()
}
