package domain

import "time"

// Pair identifies one (protocol, asset) combination on one network in the
// configured scan universe.
type Pair struct {
	Protocol string
	Asset    string
	Network  string
}

// Opportunity is a scored yield candidate produced by one scan cycle. It is
// immutable once produced and never outlives the cycle that produced it.
type Opportunity struct {
	Protocol  string
	Asset     string
	Network   string
	APY       float64 // fractional, 0.05 = 5%
	Liquidity float64 // available liquidity in USD
	RiskScore float64 // [0,1]
	Score     float64 // ranking score, higher is better
	ScannedAt time.Time
}
