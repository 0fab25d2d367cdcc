package domain

import (
	"context"
	"time"
)

// YieldInfo is the current yield and liquidity for one (protocol, asset) pair.
type YieldInfo struct {
	APY       float64
	Liquidity float64
}

// MarketDataProvider supplies current yield, liquidity, and price data. On
// failure implementations must return a *ProviderError, never a
// wrong-but-valid number.
type MarketDataProvider interface {
	GetYield(ctx context.Context, protocol, asset string) (YieldInfo, error)
	GetPrice(ctx context.Context, asset string) (float64, error)
}

// ReceiptStatus is the final state of an on-chain operation.
type ReceiptStatus string

const (
	ReceiptStatusPending   ReceiptStatus = "pending"
	ReceiptStatusConfirmed ReceiptStatus = "confirmed"
	ReceiptStatusFailed    ReceiptStatus = "failed"
)

// Receipt is the result of one Execution Adapter operation.
type Receipt struct {
	TxHash  string
	Status  ReceiptStatus
	GasUsed float64 // gas cost in USD terms
}

// ExecutionAdapter performs stake, withdraw, and claim operations against one
// external protocol. Wallet-level nonce sequencing is the adapter's
// responsibility; per-position serialization is the ledger's.
type ExecutionAdapter interface {
	Stake(ctx context.Context, protocol, asset string, amount float64, wallet string) (Receipt, error)
	Withdraw(ctx context.Context, protocol, asset string, amount float64, wallet string) (Receipt, error)
	// ClaimRewards claims accrued rewards for the position and returns the
	// claimed amount alongside the receipt.
	ClaimRewards(ctx context.Context, protocol string, pos Position) (float64, Receipt, error)
}

// BalanceProvider reports a wallet's spendable balance in USD terms. Used by
// the ledger's pre-stake validation.
type BalanceProvider interface {
	Balance(ctx context.Context, wallet string) (float64, error)
}

// YieldCache caches provider yield lookups.
type YieldCache interface {
	SetYield(ctx context.Context, protocol, asset string, info YieldInfo, ts time.Time) error
	// GetYield returns ErrNotFound when the pair is not cached or the entry
	// is older than the cache's freshness window.
	GetYield(ctx context.Context, protocol, asset string) (YieldInfo, time.Time, error)
}

// PriceCache caches the latest asset prices.
type PriceCache interface {
	SetPrice(ctx context.Context, asset string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, asset string) (float64, time.Time, error)
}

// RateLimiter provides distributed rate limiting, used to throttle calls to
// upstream market data APIs.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locks, used to serialize wallet-level
// execution across engine instances.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when the
	// lock is already taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
