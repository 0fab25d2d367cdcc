package market

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// CachedProvider wraps a MarketDataProvider with read-through caches.
// Freshness is the cache's concern; a stale or missing entry surfaces as
// ErrNotFound and falls through to the upstream. Cache failures degrade to
// the upstream call, never to an error.
type CachedProvider struct {
	upstream domain.MarketDataProvider
	yields   domain.YieldCache
	prices   domain.PriceCache
	logger   *slog.Logger
}

func NewCachedProvider(upstream domain.MarketDataProvider, yields domain.YieldCache, prices domain.PriceCache, logger *slog.Logger) *CachedProvider {
	return &CachedProvider{
		upstream: upstream,
		yields:   yields,
		prices:   prices,
		logger:   logger.With(slog.String("component", "market_cache")),
	}
}

func (p *CachedProvider) GetYield(ctx context.Context, protocol, asset string) (domain.YieldInfo, error) {
	if p.yields != nil {
		info, _, err := p.yields.GetYield(ctx, protocol, asset)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("yield cache read failed", slog.String("error", err.Error()))
		}
	}

	info, err := p.upstream.GetYield(ctx, protocol, asset)
	if err != nil {
		return domain.YieldInfo{}, err
	}
	if p.yields != nil {
		if err := p.yields.SetYield(ctx, protocol, asset, info, time.Now().UTC()); err != nil {
			p.logger.Warn("yield cache write failed", slog.String("error", err.Error()))
		}
	}
	return info, nil
}

func (p *CachedProvider) GetPrice(ctx context.Context, asset string) (float64, error) {
	if p.prices != nil {
		price, _, err := p.prices.GetPrice(ctx, asset)
		if err == nil {
			return price, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("price cache read failed", slog.String("error", err.Error()))
		}
	}

	price, err := p.upstream.GetPrice(ctx, asset)
	if err != nil {
		return 0, err
	}
	if p.prices != nil {
		if err := p.prices.SetPrice(ctx, asset, price, time.Now().UTC()); err != nil {
			p.logger.Warn("price cache write failed", slog.String("error", err.Error()))
		}
	}
	return price, nil
}
