// Package domain defines the core types shared across the sentinel engine:
// positions and their lifecycle, opportunities, agent decisions, performance
// snapshots, and the boundary interfaces to external collaborators.
package domain

import "time"

// PositionStatus tracks where a position is in its lifecycle.
type PositionStatus string

const (
	// PositionStatusProposed exists only while an opportunity is being
	// validated and staked. It is never persisted.
	PositionStatusProposed PositionStatus = "proposed"
	PositionStatusActive   PositionStatus = "active"
	PositionStatusClosed   PositionStatus = "closed"
)

// ExitReason records why a position was closed or reduced.
type ExitReason string

const (
	ExitReasonManual       ExitReason = "manual"
	ExitReasonEmergency    ExitReason = "emergency"
	ExitReasonRisk         ExitReason = "risk"
	ExitReasonReallocation ExitReason = "reallocation"
	ExitReasonPerformance  ExitReason = "performance"
	ExitReasonTimeLimit    ExitReason = "time_limit"
)

// Position is the unit the engine manages: one deposit into one
// protocol/asset pair on behalf of one wallet.
type Position struct {
	ID     string
	Wallet string

	// Static entry facts.
	Protocol    string
	Asset       string
	Network     string
	EntryAmount float64
	EntryPrice  float64
	EntryAPY    float64
	EntryRisk   float64
	OpenedAt    time.Time

	// Mutable lifecycle state. Only the ledger writes these.
	CurrentAmount   float64
	Compounded      float64
	Harvested       float64
	LastCompoundAt  time.Time
	LastHarvestAt   time.Time
	CompoundCount   int
	HarvestCount    int
	PartialUnstakes int
	GasSpent        float64
	Status          PositionStatus

	// Terminal facts, set exactly once on close.
	ClosedAt   *time.Time
	ExitReason ExitReason
	NetYield   float64
}

// validTransitions encodes the lifecycle state machine. Self-transitions
// (compound on Active, partial reduce back to Active) are implicit.
var validTransitions = map[PositionStatus][]PositionStatus{
	PositionStatusProposed: {PositionStatusActive},
	PositionStatusActive:   {PositionStatusActive, PositionStatusClosed},
	PositionStatusClosed:   {},
}

// CanTransition reports whether moving from the position's current status to
// the target status is allowed by the state machine.
func (p Position) CanTransition(to PositionStatus) bool {
	for _, s := range validTransitions[p.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// DaysHeld returns the number of days this position has been open relative
// to now (or to its close time if already closed).
func (p Position) DaysHeld(now time.Time) float64 {
	end := now
	if p.ClosedAt != nil {
		end = *p.ClosedAt
	}
	return end.Sub(p.OpenedAt).Hours() / 24
}

// GrossYield returns the yield realized so far: everything the position has
// compounded or harvested. Accrued-but-unclaimed rewards are not included.
func (p Position) GrossYield() float64 {
	return p.Compounded + p.Harvested
}

// ValueUSD returns the position's current principal value at the given asset
// price.
func (p Position) ValueUSD(price float64) float64 {
	return p.CurrentAmount * price
}

// TotalReturn returns the fractional return of the position at the given
// asset price: realized yield plus price movement, net of gas, relative to
// the entry amount in USD terms.
func (p Position) TotalReturn(price float64) float64 {
	entryValue := p.EntryAmount * p.EntryPrice
	if entryValue == 0 {
		return 0
	}
	currentValue := p.CurrentAmount * price
	principalShare := p.CurrentAmount / p.EntryAmount
	return (currentValue + p.GrossYield() - p.GasSpent - entryValue*principalShare) / entryValue
}
