package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	yields map[string]domain.YieldInfo // key "protocol/asset"
	prices map[string]float64
	errs   map[string]error
}

func (f *fakeProvider) GetYield(_ context.Context, protocol, asset string) (domain.YieldInfo, error) {
	key := protocol + "/" + asset
	if err, ok := f.errs[key]; ok {
		return domain.YieldInfo{}, err
	}
	info, ok := f.yields[key]
	if !ok {
		return domain.YieldInfo{}, &domain.ProviderError{Protocol: protocol, Asset: asset, Err: errors.New("no data")}
	}
	return info, nil
}

func (f *fakeProvider) GetPrice(_ context.Context, asset string) (float64, error) {
	p, ok := f.prices[asset]
	if !ok {
		return 0, &domain.ProviderError{Asset: asset, Err: errors.New("no price")}
	}
	return p, nil
}

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		apy       float64
		risk      float64
		liquidity float64
		want      float64
	}{
		{"apy dominates", 0.10, 0.1, 1_000_000, 10 - 5 + 1},
		{"risk penalized", 0.05, 0.15, 2_000_000, 5 - 7.5 + 2},
		{"liquidity bonus capped", 0.20, 0.2, 50_000_000, 20 - 10 + 10},
		{"zero everything", 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.apy, tt.risk, tt.liquidity)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score(%v, %v, %v) = %v, want %v", tt.apy, tt.risk, tt.liquidity, got, tt.want)
			}
		})
	}
}

func TestStaticRisk(t *testing.T) {
	tests := []struct {
		protocol string
		asset    string
		want     float64
	}{
		{"aave", "USDC", 0.1 + 0.05},
		{"lido", "ETH", 0.12 + 0.15},
		{"unknown", "FOO", defaultProtocolRisk + defaultAssetRisk},
	}
	for _, tt := range tests {
		if got := StaticRisk(tt.protocol, tt.asset); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("StaticRisk(%q, %q) = %v, want %v", tt.protocol, tt.asset, got, tt.want)
		}
	}
}

func TestScanRanksByScore(t *testing.T) {
	provider := &fakeProvider{yields: map[string]domain.YieldInfo{
		"aave/USDC":    {APY: 0.20, Liquidity: 1_000_000},
		"compound/DAI": {APY: 0.10, Liquidity: 1_000_000},
		"lido/ETH":     {APY: 0.05, Liquidity: 1_000_000},
	}}
	universe := []domain.Pair{
		{Protocol: "lido", Asset: "ETH", Network: "ethereum"},
		{Protocol: "compound", Asset: "DAI", Network: "ethereum"},
		{Protocol: "aave", Asset: "USDC", Network: "ethereum"},
	}

	s := New(provider, universe, 0.01, 0.9, testLogger())
	opps := s.Scan(context.Background())

	if len(opps) != 3 {
		t.Fatalf("got %d opportunities, want 3", len(opps))
	}
	for i := 1; i < len(opps); i++ {
		if opps[i].Score > opps[i-1].Score {
			t.Errorf("opportunities not sorted: %v before %v", opps[i-1].Score, opps[i].Score)
		}
	}
	if opps[0].Protocol != "aave" {
		t.Errorf("best opportunity = %s, want aave", opps[0].Protocol)
	}
}

func TestScanFilters(t *testing.T) {
	provider := &fakeProvider{yields: map[string]domain.YieldInfo{
		"aave/USDC": {APY: 0.02, Liquidity: 1_000_000}, // below yield floor
		"gmx/AVAX":  {APY: 0.30, Liquidity: 1_000_000}, // risk 0.6 above ceiling
		"lido/ETH":  {APY: 0.06, Liquidity: 1_000_000},
	}}
	universe := []domain.Pair{
		{Protocol: "aave", Asset: "USDC", Network: "ethereum"},
		{Protocol: "gmx", Asset: "AVAX", Network: "arbitrum"},
		{Protocol: "lido", Asset: "ETH", Network: "ethereum"},
	}

	s := New(provider, universe, 0.03, 0.5, testLogger())
	opps := s.Scan(context.Background())

	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
	if opps[0].Protocol != "lido" {
		t.Errorf("surviving opportunity = %s, want lido", opps[0].Protocol)
	}
}

func TestScanSkipsFailedPairs(t *testing.T) {
	provider := &fakeProvider{
		yields: map[string]domain.YieldInfo{
			"aave/USDC": {APY: 0.06, Liquidity: 1_000_000},
		},
		errs: map[string]error{
			"lido/ETH": &domain.ProviderError{Protocol: "lido", Asset: "ETH", Err: errors.New("upstream 500")},
		},
	}
	universe := []domain.Pair{
		{Protocol: "lido", Asset: "ETH", Network: "ethereum"},
		{Protocol: "aave", Asset: "USDC", Network: "ethereum"},
	}

	s := New(provider, universe, 0.01, 0.9, testLogger())
	opps := s.Scan(context.Background())

	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1 (failed pair skipped)", len(opps))
	}
	if opps[0].Protocol != "aave" {
		t.Errorf("surviving opportunity = %s, want aave", opps[0].Protocol)
	}
}
