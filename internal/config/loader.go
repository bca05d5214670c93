package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CHAINSTRATEGY_* environment variable
// overrides, and returns the final Config. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	return &cfg, nil
}

// applyEnvOverrides reads well-known CHAINSTRATEGY_* environment variables
// and overwrites the corresponding Config fields when a variable is set
// (i.e. not empty). This lets operators inject secrets at deploy time
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── DB ──
	setStr(&cfg.DB.DSN, "CHAINSTRATEGY_DB_DSN")
	setStr(&cfg.DB.Host, "CHAINSTRATEGY_DB_HOST")
	setInt(&cfg.DB.Port, "CHAINSTRATEGY_DB_PORT")
	setStr(&cfg.DB.Database, "CHAINSTRATEGY_DB_DATABASE")
	setStr(&cfg.DB.User, "CHAINSTRATEGY_DB_USER")
	setStr(&cfg.DB.Password, "CHAINSTRATEGY_DB_PASSWORD")
	setStr(&cfg.DB.SSLMode, "CHAINSTRATEGY_DB_SSL_MODE")
	setInt(&cfg.DB.PoolMaxConns, "CHAINSTRATEGY_DB_POOL_MAX_CONNS")
	setInt(&cfg.DB.PoolMinConns, "CHAINSTRATEGY_DB_POOL_MIN_CONNS")
	setBool(&cfg.DB.RunMigrations, "CHAINSTRATEGY_DB_RUN_MIGRATIONS")
	setBool(&cfg.DB.PreferIPv4Dial, "CHAINSTRATEGY_DB_PREFER_IPV4_DIAL")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CHAINSTRATEGY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CHAINSTRATEGY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CHAINSTRATEGY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CHAINSTRATEGY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CHAINSTRATEGY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CHAINSTRATEGY_REDIS_TLS_ENABLED")

	// ── Ingest ──
	setStringSlice(&cfg.Ingest.Chains, "CHAINSTRATEGY_INGEST_CHAINS")
	setStr(&cfg.Ingest.DexAggregatorBaseURL, "CHAINSTRATEGY_DEX_AGGREGATOR_BASE_URL")
	setStr(&cfg.Ingest.DexAggregatorAPIKey, "CHAINSTRATEGY_DEX_AGGREGATOR_API_KEY")
	setDuration(&cfg.Ingest.DexAggregatorInterval, "CHAINSTRATEGY_DEX_AGGREGATOR_INTERVAL")
	setStr(&cfg.Ingest.PerpVenueBaseURL, "CHAINSTRATEGY_PERP_VENUE_BASE_URL")
	setDuration(&cfg.Ingest.PerpVenueInterval, "CHAINSTRATEGY_PERP_VENUE_INTERVAL")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.PollInterval, "CHAINSTRATEGY_SCHEDULER_POLL_INTERVAL")

	// ── Evaluator ──
	setStr(&cfg.Evaluator.ExecutorURL, "CHAINSTRATEGY_EVALUATOR_EXECUTOR_URL")
	setInt(&cfg.Evaluator.MaxRetries, "CHAINSTRATEGY_EVALUATOR_EXECUTE_MAX_RETRIES")
	setInt(&cfg.Evaluator.BackoffMs, "CHAINSTRATEGY_EVALUATOR_EXECUTE_BACKOFF_MS")
	setInt(&cfg.Evaluator.DequeueWaitSec, "CHAINSTRATEGY_EVALUATOR_DEQUEUE_WAIT_SEC")
	setDuration(&cfg.Evaluator.TrendMaxAge, "CHAINSTRATEGY_EVALUATOR_TREND_MAX_AGE")

	// ── Executor ──
	setStr(&cfg.Executor.InternalAPIToken, "CHAINSTRATEGY_INTERNAL_API_TOKEN")
	setInt(&cfg.Executor.CircuitBreakerThreshold, "CHAINSTRATEGY_CIRCUIT_BREAKER_THRESHOLD")
	setInt(&cfg.Executor.WorkerMaxRetries, "CHAINSTRATEGY_EXECUTOR_WORKER_MAX_RETRIES")
	setInt(&cfg.Executor.WorkerBackoffMs, "CHAINSTRATEGY_EXECUTOR_WORKER_BACKOFF_MS")

	// ── Oracle ──
	setInt(&cfg.Oracle.SourceTimeoutMs, "CHAINSTRATEGY_DEX_SCREENER_TIMEOUT_MS")

	// ── Vault ──
	setStr(&cfg.Vault.Addr, "CHAINSTRATEGY_VAULT_ADDR")
	setStr(&cfg.Vault.Token, "CHAINSTRATEGY_VAULT_TOKEN")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CHAINSTRATEGY_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CHAINSTRATEGY_SERVER_PORT")

	// ── Top-level ──
	setStr(&cfg.Mode, "CHAINSTRATEGY_MODE")
	setStr(&cfg.LogLevel, "CHAINSTRATEGY_LOG_LEVEL")
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
