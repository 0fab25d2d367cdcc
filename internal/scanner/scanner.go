// Package scanner polls the market data provider across the configured
// universe of (protocol, asset) pairs and produces a ranked opportunity list
// for each cycle.
package scanner

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// Scanner filters and ranks yield opportunities.
type Scanner struct {
	provider  domain.MarketDataProvider
	universe  []domain.Pair
	minYield  float64
	maxRisk   float64
	logger    *slog.Logger
}

// New creates a Scanner over the given universe. minYield is the lowest
// acceptable APY (fractional) and maxRisk the highest acceptable risk score.
func New(provider domain.MarketDataProvider, universe []domain.Pair, minYield, maxRisk float64, logger *slog.Logger) *Scanner {
	return &Scanner{
		provider: provider,
		universe: universe,
		minYield: minYield,
		maxRisk:  maxRisk,
		logger:   logger.With(slog.String("component", "scanner")),
	}
}

// Score computes the ranking score for an opportunity. The weighting is a
// compatibility-sensitive constant: APY dominates, risk is penalized, and
// liquidity earns a capped bonus.
func Score(apy, risk, liquidity float64) float64 {
	return apy*100 - risk*50 + math.Min(liquidity/1_000_000, 10)
}

// Scan queries the provider for every pair in the universe, discards pairs
// below the yield floor or above the risk ceiling, and returns the survivors
// ranked by score, best first. A provider failure for one pair skips that
// pair only; partial results are expected.
func (s *Scanner) Scan(ctx context.Context) []domain.Opportunity {
	now := time.Now().UTC()
	opps := make([]domain.Opportunity, 0, len(s.universe))

	for _, pair := range s.universe {
		if ctx.Err() != nil {
			break
		}
		info, err := s.provider.GetYield(ctx, pair.Protocol, pair.Asset)
		if err != nil {
			s.logger.Warn("yield lookup failed, skipping pair",
				slog.String("protocol", pair.Protocol),
				slog.String("asset", pair.Asset),
				slog.String("error", err.Error()),
			)
			continue
		}

		risk := StaticRisk(pair.Protocol, pair.Asset)
		if info.APY < s.minYield || risk > s.maxRisk {
			continue
		}

		opps = append(opps, domain.Opportunity{
			Protocol:  pair.Protocol,
			Asset:     pair.Asset,
			Network:   pair.Network,
			APY:       info.APY,
			Liquidity: info.Liquidity,
			RiskScore: risk,
			Score:     Score(info.APY, risk, info.Liquidity),
			ScannedAt: now,
		})
	}

	sort.Slice(opps, func(i, j int) bool {
		return opps[i].Score > opps[j].Score
	})

	s.logger.Debug("scan cycle complete",
		slog.Int("universe", len(s.universe)),
		slog.Int("opportunities", len(opps)),
	)
	return opps
}
