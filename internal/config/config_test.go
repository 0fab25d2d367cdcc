package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// scanDefaults returns a Defaults() config adjusted to pass validation
// without wallet credentials.
func scanDefaults() Config {
	cfg := Defaults()
	cfg.Mode = "scan"
	cfg.Scanner.Universe = []PairConfig{
		{Protocol: "aave", Asset: "USDC", Network: "ethereum"},
	}
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := scanDefaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults failed validation: %v", err)
	}
}

func TestValidateFullModeNeedsCredentials(t *testing.T) {
	cfg := scanDefaults()
	cfg.Mode = "full"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full mode validated without wallet or RPC settings")
	}
	for _, want := range []string{"wallet: address", "private_key or encrypted_key_path", "rpc_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}

	cfg.Wallet.Address = "0xabc"
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Evm.RPCURL = "https://rpc.example"
	if err := cfg.Validate(); err != nil {
		t.Errorf("full mode with credentials failed validation: %v", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := scanDefaults()
	cfg.Mode = "turbo"
	cfg.LogLevel = "loud"
	cfg.Scanner.Universe = nil
	cfg.Risk.MaxDrawdown = 0.05
	cfg.Agents = []AgentConfig{
		{ID: "a", Type: "yield", RiskTolerance: 0.5, MaxPositionUSD: 100},
		{ID: "a", Type: "oracle", RiskTolerance: 2, MaxPositionUSD: 0, MinProfitUSD: -5},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config passed validation")
	}
	for _, want := range []string{
		`unknown mode "turbo"`,
		`unknown log_level "loud"`,
		"universe must name at least one pool",
		"max_drawdown must be negative",
		`duplicate id "a"`,
		`unknown type "oracle"`,
		"risk_tolerance must be in [0,1]",
		"max_position_usd must be > 0",
		"min_profit_usd must be >= 0",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	raw := `
mode = "scan"
log_level = "debug"

[market]
base_url = "https://yields.example"
rate_window = "2s"

[[scanner.universe]]
protocol = "aave"
asset = "USDC"
network = "ethereum"

[[agents]]
id = "yield-1"
type = "yield"
risk_tolerance = 0.4
max_position_usd = 500
auto_execute = true
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "scan" || cfg.LogLevel != "debug" {
		t.Errorf("mode/log_level = %s/%s", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Market.BaseURL != "https://yields.example" {
		t.Errorf("base_url = %s", cfg.Market.BaseURL)
	}
	if cfg.Market.RateWindow.Duration != 2*time.Second {
		t.Errorf("rate_window = %s, want 2s", cfg.Market.RateWindow.Duration)
	}
	// Values absent from the file keep their defaults.
	if cfg.Postgres.Database != "sentinel" {
		t.Errorf("postgres database = %s, want default", cfg.Postgres.Database)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].ID != "yield-1" || !cfg.Agents[0].AutoExecute {
		t.Errorf("agents = %+v", cfg.Agents)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config failed validation: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("Load succeeded for a missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	raw := `
mode = "scan"

[[scanner.universe]]
protocol = "aave"
asset = "USDC"
network = "ethereum"
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SENTINEL_WALLET_ADDRESS", "0xenv")
	t.Setenv("SENTINEL_POSTGRES_PORT", "6543")
	t.Setenv("SENTINEL_SCANNER_MIN_YIELD", "0.07")
	t.Setenv("SENTINEL_ARCHIVE_ENABLED", "true")
	t.Setenv("SENTINEL_ENGINE_SCAN_INTERVAL", "90s")
	t.Setenv("SENTINEL_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Wallet.Address != "0xenv" {
		t.Errorf("wallet address = %s, want env override", cfg.Wallet.Address)
	}
	if cfg.Postgres.Port != 6543 {
		t.Errorf("postgres port = %d, want 6543", cfg.Postgres.Port)
	}
	if cfg.Scanner.MinYield != 0.07 {
		t.Errorf("min_yield = %v, want 0.07", cfg.Scanner.MinYield)
	}
	if !cfg.Archive.Enabled {
		t.Error("archive.enabled not overridden")
	}
	if cfg.Engine.ScanInterval.Duration != 90*time.Second {
		t.Errorf("scan_interval = %s, want 90s", cfg.Engine.ScanInterval.Duration)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log_level = %s, want warn", cfg.LogLevel)
	}
}

func TestRedacted(t *testing.T) {
	cfg := scanDefaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Wallet.KeyPassword = "hunter2"
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "rpass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Notify.TelegramToken = "tok"
	cfg.Wallet.Address = "0xabc"

	red := cfg.Redacted()
	for name, got := range map[string]string{
		"wallet private key": red.Wallet.PrivateKey,
		"key password":       red.Wallet.KeyPassword,
		"postgres password":  red.Postgres.Password,
		"redis password":     red.Redis.Password,
		"s3 secret":          red.S3.SecretKey,
		"telegram token":     red.Notify.TelegramToken,
	} {
		if got != "***" {
			t.Errorf("%s = %q, want redacted", name, got)
		}
	}
	// Non-secret fields and empty secrets pass through untouched.
	if red.Wallet.Address != "0xabc" {
		t.Errorf("address = %q, want passthrough", red.Wallet.Address)
	}
	if red.S3.AccessKey != "" {
		t.Errorf("empty access key = %q, want empty", red.S3.AccessKey)
	}
	// The original is never mutated.
	if cfg.Wallet.PrivateKey != "deadbeef" {
		t.Error("Redacted mutated the source config")
	}
}
