// Package config defines the top-level configuration for the sentinel
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SENTINEL_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Market   MarketConfig   `toml:"market"`
	Evm      EvmConfig      `toml:"evm"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Risk     RiskConfig     `toml:"risk"`
	Perf     PerfConfig     `toml:"perf"`
	Engine   EngineConfig   `toml:"engine"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Agents   []AgentConfig  `toml:"agents"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the signing wallet credentials.
type WalletConfig struct {
	Address          string `toml:"address"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// MarketConfig holds the yields aggregator and price feed endpoints.
type MarketConfig struct {
	BaseURL string `toml:"base_url"`
	WsURL   string `toml:"ws_url"`
	// RateLimit caps aggregator calls per window; zero disables throttling.
	RateLimit     int      `toml:"rate_limit"`
	RateWindow    duration `toml:"rate_window"`
	PriceCacheAge duration `toml:"price_cache_age"`
	YieldCacheAge duration `toml:"yield_cache_age"`
}

// EvmConfig holds the chain connection and vault registry.
type EvmConfig struct {
	RPCURL      string `toml:"rpc_url"`
	ChainID     int64  `toml:"chain_id"`
	NativeAsset string `toml:"native_asset"`
	GasLimit    uint64 `toml:"gas_limit"`
	// Vaults maps protocol name to vault contract address.
	Vaults         map[string]string `toml:"vaults"`
	ConfirmTimeout duration          `toml:"confirm_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PairConfig names one (protocol, asset, network) pool in the scan universe.
type PairConfig struct {
	Protocol string `toml:"protocol"`
	Asset    string `toml:"asset"`
	Network  string `toml:"network"`
}

// ScannerConfig holds the opportunity scanner parameters.
type ScannerConfig struct {
	Universe []PairConfig `toml:"universe"`
	MinYield float64      `toml:"min_yield"`
	MaxRisk  float64      `toml:"max_risk"`
}

// LedgerConfig holds the position ledger validation thresholds.
type LedgerConfig struct {
	MinPositionSize   float64 `toml:"min_position_size"`
	MinEntryAPY       float64 `toml:"min_entry_apy"`
	MaxEntryRisk      float64 `toml:"max_entry_risk"`
	MaxAllocation     float64 `toml:"max_allocation"`
	GasBuffer         float64 `toml:"gas_buffer"`
	CompoundThreshold float64 `toml:"compound_threshold"`
}

// RiskConfig holds the exit trigger thresholds.
type RiskConfig struct {
	EmergencyThreshold float64  `toml:"emergency_threshold"`
	ExitThreshold      float64  `toml:"exit_threshold"`
	MaxDrawdown        float64  `toml:"max_drawdown"`
	MaxHoldDays        float64  `toml:"max_hold_days"`
	ReallocAPYGain     float64  `toml:"realloc_apy_gain"`
	ReallocRiskSlack   float64  `toml:"realloc_risk_slack"`
	ReallocDelay       duration `toml:"realloc_delay"`
}

// PerfConfig holds the performance tracker parameters.
type PerfConfig struct {
	BenchmarkAPY              float64 `toml:"benchmark_apy"`
	UnderperformanceThreshold float64 `toml:"underperformance_threshold"`
	OutperformanceThreshold   float64 `toml:"outperformance_threshold"`
	GasAlertRatio             float64 `toml:"gas_alert_ratio"`
	DiversificationFloor      float64 `toml:"diversification_floor"`
	Retention                 int     `toml:"retention"`
}

// EngineConfig holds the task cadence.
type EngineConfig struct {
	ScanInterval     duration `toml:"scan_interval"`
	DecisionInterval duration `toml:"decision_interval"`
	CompoundInterval duration `toml:"compound_interval"`
	SnapshotInterval duration `toml:"snapshot_interval"`
	SweepInterval    duration `toml:"sweep_interval"`
}

// ArchiveConfig holds cold storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	MinLevel          string `toml:"min_level"`
}

// AgentConfig declares one decision agent.
type AgentConfig struct {
	ID             string  `toml:"id"`
	Type           string  `toml:"type"`
	RiskTolerance  float64 `toml:"risk_tolerance"`
	MaxPositionUSD float64 `toml:"max_position_usd"`
	MinProfitUSD   float64 `toml:"min_profit_usd"`
	AutoExecute    bool    `toml:"auto_execute"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			BaseURL:       "https://yields.llama.fi",
			WsURL:         "",
			RateLimit:     10,
			RateWindow:    duration{time.Second},
			PriceCacheAge: duration{30 * time.Second},
			YieldCacheAge: duration{5 * time.Minute},
		},
		Evm: EvmConfig{
			ChainID:        1,
			NativeAsset:    "ETH",
			GasLimit:       400_000,
			Vaults:         map[string]string{},
			ConfirmTimeout: duration{2 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "sentinel",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sentinel-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Scanner: ScannerConfig{
			MinYield: 0.03,
			MaxRisk:  0.6,
		},
		Ledger: LedgerConfig{
			MinPositionSize:   100,
			MinEntryAPY:       0.03,
			MaxEntryRisk:      0.6,
			MaxAllocation:     0.25,
			GasBuffer:         0.05,
			CompoundThreshold: 10,
		},
		Risk: RiskConfig{
			EmergencyThreshold: 0.15,
			ExitThreshold:      0.6,
			MaxDrawdown:        -0.05,
			MaxHoldDays:        90,
			ReallocAPYGain:     0.02,
			ReallocRiskSlack:   0.1,
			ReallocDelay:       duration{30 * time.Second},
		},
		Perf: PerfConfig{
			BenchmarkAPY:              0.05,
			UnderperformanceThreshold: 0.01,
			OutperformanceThreshold:   0.02,
			GasAlertRatio:             0.05,
			DiversificationFloor:      0.3,
			Retention:                 288,
		},
		Engine: EngineConfig{
			ScanInterval:     duration{time.Minute},
			DecisionInterval: duration{2 * time.Minute},
			CompoundInterval: duration{30 * time.Minute},
			SnapshotInterval: duration{5 * time.Minute},
			SweepInterval:    duration{10 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			MinLevel: "info",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"monitor": true,
	"scan":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validAgentTypes enumerates the accepted values for AgentConfig.Type.
var validAgentTypes = map[string]bool{
	"yield":     true,
	"arbitrage": true,
	"portfolio": true,
	"risk":      true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, monitor, scan)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — a credential source is required when the engine executes.
	if c.Mode == "full" {
		if c.Wallet.Address == "" {
			errs = append(errs, "wallet: address must not be empty for mode full")
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode full")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Evm.RPCURL == "" {
			errs = append(errs, "evm: rpc_url must not be empty for mode full")
		}
		if c.Evm.ChainID <= 0 {
			errs = append(errs, "evm: chain_id must be positive")
		}
	}

	// Market
	if c.Market.BaseURL == "" {
		errs = append(errs, "market: base_url must not be empty")
	}

	// Scanner
	if len(c.Scanner.Universe) == 0 {
		errs = append(errs, "scanner: universe must name at least one pool")
	}
	for i, p := range c.Scanner.Universe {
		if p.Protocol == "" || p.Asset == "" || p.Network == "" {
			errs = append(errs, fmt.Sprintf("scanner: universe[%d] needs protocol, asset, and network", i))
		}
	}
	if c.Scanner.MaxRisk <= 0 || c.Scanner.MaxRisk > 1 {
		errs = append(errs, fmt.Sprintf("scanner: max_risk must be in (0,1], got %g", c.Scanner.MaxRisk))
	}

	// Ledger
	if c.Ledger.MinPositionSize <= 0 {
		errs = append(errs, "ledger: min_position_size must be > 0")
	}
	if c.Ledger.MaxAllocation <= 0 || c.Ledger.MaxAllocation > 1 {
		errs = append(errs, fmt.Sprintf("ledger: max_allocation must be in (0,1], got %g", c.Ledger.MaxAllocation))
	}
	if c.Ledger.GasBuffer < 0 {
		errs = append(errs, "ledger: gas_buffer must be >= 0")
	}

	// Risk
	if c.Risk.EmergencyThreshold <= 0 || c.Risk.EmergencyThreshold > 1 {
		errs = append(errs, fmt.Sprintf("risk: emergency_threshold must be in (0,1], got %g", c.Risk.EmergencyThreshold))
	}
	if c.Risk.MaxDrawdown >= 0 {
		errs = append(errs, "risk: max_drawdown must be negative")
	}

	// Perf
	if c.Perf.UnderperformanceThreshold < 0 {
		errs = append(errs, "perf: underperformance_threshold must be >= 0")
	}
	if c.Perf.OutperformanceThreshold < 0 {
		errs = append(errs, "perf: outperformance_threshold must be >= 0")
	}
	if c.Perf.Retention < 1 {
		errs = append(errs, "perf: retention must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
	}

	// Agents
	seen := map[string]bool{}
	for i, a := range c.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Sprintf("agents[%d]: id must not be empty", i))
		} else if seen[a.ID] {
			errs = append(errs, fmt.Sprintf("agents[%d]: duplicate id %q", i, a.ID))
		}
		seen[a.ID] = true
		if !validAgentTypes[a.Type] {
			errs = append(errs, fmt.Sprintf("agents[%d]: unknown type %q (valid: yield, arbitrage, portfolio, risk)", i, a.Type))
		}
		if a.RiskTolerance < 0 || a.RiskTolerance > 1 {
			errs = append(errs, fmt.Sprintf("agents[%d]: risk_tolerance must be in [0,1], got %g", i, a.RiskTolerance))
		}
		if a.MaxPositionUSD <= 0 {
			errs = append(errs, fmt.Sprintf("agents[%d]: max_position_usd must be > 0", i))
		}
		if a.MinProfitUSD < 0 {
			errs = append(errs, fmt.Sprintf("agents[%d]: min_profit_usd must be >= 0", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
