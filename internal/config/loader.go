package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SENTINEL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SENTINEL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.Address, "SENTINEL_WALLET_ADDRESS")
	setStr(&cfg.Wallet.PrivateKey, "SENTINEL_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SENTINEL_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SENTINEL_WALLET_KEY_PASSWORD")

	// ── Market ──
	setStr(&cfg.Market.BaseURL, "SENTINEL_MARKET_BASE_URL")
	setStr(&cfg.Market.WsURL, "SENTINEL_MARKET_WS_URL")
	setInt(&cfg.Market.RateLimit, "SENTINEL_MARKET_RATE_LIMIT")
	setDuration(&cfg.Market.RateWindow, "SENTINEL_MARKET_RATE_WINDOW")
	setDuration(&cfg.Market.PriceCacheAge, "SENTINEL_MARKET_PRICE_CACHE_AGE")
	setDuration(&cfg.Market.YieldCacheAge, "SENTINEL_MARKET_YIELD_CACHE_AGE")

	// ── EVM ──
	setStr(&cfg.Evm.RPCURL, "SENTINEL_EVM_RPC_URL")
	setInt64(&cfg.Evm.ChainID, "SENTINEL_EVM_CHAIN_ID")
	setStr(&cfg.Evm.NativeAsset, "SENTINEL_EVM_NATIVE_ASSET")
	setUint64(&cfg.Evm.GasLimit, "SENTINEL_EVM_GAS_LIMIT")
	setDuration(&cfg.Evm.ConfirmTimeout, "SENTINEL_EVM_CONFIRM_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SENTINEL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SENTINEL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SENTINEL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SENTINEL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SENTINEL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SENTINEL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SENTINEL_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SENTINEL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SENTINEL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SENTINEL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SENTINEL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SENTINEL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SENTINEL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SENTINEL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SENTINEL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SENTINEL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SENTINEL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SENTINEL_S3_REGION")
	setStr(&cfg.S3.Bucket, "SENTINEL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SENTINEL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SENTINEL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SENTINEL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SENTINEL_S3_FORCE_PATH_STYLE")

	// ── Scanner ──
	setFloat64(&cfg.Scanner.MinYield, "SENTINEL_SCANNER_MIN_YIELD")
	setFloat64(&cfg.Scanner.MaxRisk, "SENTINEL_SCANNER_MAX_RISK")

	// ── Ledger ──
	setFloat64(&cfg.Ledger.MinPositionSize, "SENTINEL_LEDGER_MIN_POSITION_SIZE")
	setFloat64(&cfg.Ledger.MinEntryAPY, "SENTINEL_LEDGER_MIN_ENTRY_APY")
	setFloat64(&cfg.Ledger.MaxEntryRisk, "SENTINEL_LEDGER_MAX_ENTRY_RISK")
	setFloat64(&cfg.Ledger.MaxAllocation, "SENTINEL_LEDGER_MAX_ALLOCATION")
	setFloat64(&cfg.Ledger.GasBuffer, "SENTINEL_LEDGER_GAS_BUFFER")
	setFloat64(&cfg.Ledger.CompoundThreshold, "SENTINEL_LEDGER_COMPOUND_THRESHOLD")

	// ── Risk ──
	setFloat64(&cfg.Risk.EmergencyThreshold, "SENTINEL_RISK_EMERGENCY_THRESHOLD")
	setFloat64(&cfg.Risk.ExitThreshold, "SENTINEL_RISK_EXIT_THRESHOLD")
	setFloat64(&cfg.Risk.MaxDrawdown, "SENTINEL_RISK_MAX_DRAWDOWN")
	setFloat64(&cfg.Risk.MaxHoldDays, "SENTINEL_RISK_MAX_HOLD_DAYS")
	setFloat64(&cfg.Risk.ReallocAPYGain, "SENTINEL_RISK_REALLOC_APY_GAIN")
	setFloat64(&cfg.Risk.ReallocRiskSlack, "SENTINEL_RISK_REALLOC_RISK_SLACK")
	setDuration(&cfg.Risk.ReallocDelay, "SENTINEL_RISK_REALLOC_DELAY")

	// ── Perf ──
	setFloat64(&cfg.Perf.BenchmarkAPY, "SENTINEL_PERF_BENCHMARK_APY")
	setFloat64(&cfg.Perf.UnderperformanceThreshold, "SENTINEL_PERF_UNDERPERFORMANCE_THRESHOLD")
	setFloat64(&cfg.Perf.OutperformanceThreshold, "SENTINEL_PERF_OUTPERFORMANCE_THRESHOLD")
	setFloat64(&cfg.Perf.GasAlertRatio, "SENTINEL_PERF_GAS_ALERT_RATIO")
	setFloat64(&cfg.Perf.DiversificationFloor, "SENTINEL_PERF_DIVERSIFICATION_FLOOR")
	setInt(&cfg.Perf.Retention, "SENTINEL_PERF_RETENTION")

	// ── Engine ──
	setDuration(&cfg.Engine.ScanInterval, "SENTINEL_ENGINE_SCAN_INTERVAL")
	setDuration(&cfg.Engine.DecisionInterval, "SENTINEL_ENGINE_DECISION_INTERVAL")
	setDuration(&cfg.Engine.CompoundInterval, "SENTINEL_ENGINE_COMPOUND_INTERVAL")
	setDuration(&cfg.Engine.SnapshotInterval, "SENTINEL_ENGINE_SNAPSHOT_INTERVAL")
	setDuration(&cfg.Engine.SweepInterval, "SENTINEL_ENGINE_SWEEP_INTERVAL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SENTINEL_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SENTINEL_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "SENTINEL_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SENTINEL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SENTINEL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SENTINEL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.MinLevel, "SENTINEL_NOTIFY_MIN_LEVEL")

	// ── Top-level ──
	setStr(&cfg.Mode, "SENTINEL_MODE")
	setStr(&cfg.LogLevel, "SENTINEL_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
