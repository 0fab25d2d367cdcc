package scanner

// Static risk lookup tables. Values live in [0, ~0.5]; protocol risk and
// asset risk are summed to form an opportunity's static risk component.
// Unknown entries fall back to a conservative default.

const (
	defaultProtocolRisk = 0.35
	defaultAssetRisk    = 0.3
)

var protocolRiskTable = map[string]float64{
	"aave":       0.1,
	"compound":   0.1,
	"lido":       0.12,
	"curve":      0.15,
	"yearn":      0.2,
	"convex":     0.2,
	"uniswap_v3": 0.25,
	"sushiswap":  0.3,
	"pancake":    0.3,
	"gmx":        0.35,
}

var assetRiskTable = map[string]float64{
	"USDC":  0.05,
	"DAI":   0.05,
	"USDT":  0.1,
	"ETH":   0.15,
	"WETH":  0.15,
	"WBTC":  0.15,
	"MATIC": 0.25,
	"LINK":  0.2,
	"UNI":   0.25,
	"AVAX":  0.25,
}

// ProtocolRisk returns the static risk for a protocol id.
func ProtocolRisk(protocol string) float64 {
	if r, ok := protocolRiskTable[protocol]; ok {
		return r
	}
	return defaultProtocolRisk
}

// AssetRisk returns the static risk for an asset id.
func AssetRisk(asset string) float64 {
	if r, ok := assetRiskTable[asset]; ok {
		return r
	}
	return defaultAssetRisk
}

// StaticRisk returns the combined protocol + asset risk for a pair.
func StaticRisk(protocol, asset string) float64 {
	return ProtocolRisk(protocol) + AssetRisk(asset)
}
