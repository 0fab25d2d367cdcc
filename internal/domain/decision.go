package domain

import "time"

// AgentType selects which decision function an agent runs.
type AgentType string

const (
	AgentTypeYield     AgentType = "yield"
	AgentTypeArbitrage AgentType = "arbitrage"
	AgentTypePortfolio AgentType = "portfolio"
	AgentTypeRisk      AgentType = "risk"
)

// Action is the operation a decision recommends.
type Action string

const (
	ActionStake     Action = "stake"
	ActionIncrease  Action = "increase"
	ActionMigrate   Action = "migrate"
	ActionUnstake   Action = "unstake"
	ActionRebalance Action = "rebalance"
	ActionCompound  Action = "compound"
	ActionHarvest   Action = "harvest"
	ActionNone      Action = "no-op"
)

// MarketFeatures is the snapshot of market state a decision function saw.
// Field names follow the feature vector the scoring models consume.
type MarketFeatures struct {
	Asset        string
	Price        float64
	Volume24h    float64
	Volatility   float64
	LiquidityUSD float64
	GasPrice     float64
	BestAPY      float64
	BestProtocol string
}

// Decision is an ephemeral record produced by a decision function. Decisions
// are kept in a bounded recent-history buffer for observability and are
// never replayed.
type Decision struct {
	ID            string
	AgentID       string
	AgentType     AgentType
	Action        Action
	Confidence    float64 // [0,1]
	Justification string
	PositionID    string // set when the action targets an existing position
	Protocol      string
	Asset         string
	Amount        float64
	Features      MarketFeatures
	CreatedAt     time.Time
}

// ExecutionStatus tracks the state of a dispatched decision.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusConfirmed ExecutionStatus = "confirmed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ExecutionRecord is the append-only result of dispatching a Decision to the
// Execution Adapter.
type ExecutionRecord struct {
	ID         string
	DecisionID string
	AgentID    string
	Action     Action
	TxHash     string
	Status     ExecutionStatus
	GasUsed    float64
	Profit     float64 // realized profit if computable, else 0
	Error      string
	CreatedAt  time.Time
}
