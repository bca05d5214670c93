// Package config defines the top-level configuration for the chainstrategy
// platform and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CHAINSTRATEGY_* environment
// variables.
type Config struct {
	DB        DBConfig        `toml:"db"`
	Redis     RedisConfig     `toml:"redis"`
	Ingest    IngestConfig    `toml:"ingest"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Evaluator EvaluatorConfig `toml:"evaluator"`
	Executor  ExecutorConfig  `toml:"executor"`
	Oracle    OracleConfig    `toml:"oracle"`
	Vault     VaultConfig     `toml:"vault"`
	Server    ServerConfig    `toml:"server"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// DBConfig holds PostgreSQL connection parameters.
type DBConfig struct {
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
	// PreferIPv4Dial makes the pool dial IPv4 addresses first before
	// falling back to the system resolver's default family. Hosted
	// Postgres providers that advertise AAAA records alongside a flaky
	// IPv6 route benefit from this; plain IPv4-only hosts do not need it.
	PreferIPv4Dial bool `toml:"prefer_ipv4_dial"`
}

// RedisConfig holds Redis connection parameters, backing the distributed
// lock and job queue.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// IngestConfig drives the Ingestor (spec.md §4.1): which chains to poll and
// at what cadence for each feed.
type IngestConfig struct {
	Chains                []string `toml:"chains"`
	DexAggregatorBaseURL  string   `toml:"dex_aggregator_base_url"`
	DexAggregatorAPIKey   string   `toml:"dex_aggregator_api_key"`
	DexAggregatorInterval duration `toml:"dex_aggregator_interval"`
	PerpVenueBaseURL      string   `toml:"perp_venue_base_url"`
	PerpVenueInterval     duration `toml:"perp_venue_interval"`
}

// SchedulerConfig drives the Scheduler (spec.md §4.2).
type SchedulerConfig struct {
	// PollInterval is the default cadence applied to a strategy whose
	// Schedule field is empty.
	PollInterval duration `toml:"poll_interval"`
}

// EvaluatorConfig drives the Evaluator (spec.md §4.3).
type EvaluatorConfig struct {
	ExecutorURL    string   `toml:"executor_url"`
	MaxRetries     int      `toml:"max_retries"`
	BackoffMs      int      `toml:"backoff_ms"`
	DequeueWaitSec int      `toml:"dequeue_wait_sec"`
	TrendMaxAge    duration `toml:"trend_max_age"`
}

// ExecutorConfig drives the Executor (spec.md §4.4).
type ExecutorConfig struct {
	InternalAPIToken        string            `toml:"internal_api_token"`
	CircuitBreakerThreshold int               `toml:"circuit_breaker_threshold"`
	RouterAddresses         map[string]string `toml:"router_addresses"`
	WorkerMaxRetries        int               `toml:"worker_max_retries"`
	WorkerBackoffMs         int               `toml:"worker_backoff_ms"`
}

// OracleConfig holds the Oracle Validator's settings (spec.md §4.5).
// SourceTimeoutMs is decoded and env-overridable but is not passed to the
// Validator, which uses a fixed 5s per-source timeout.
type OracleConfig struct {
	SourceTimeoutMs int `toml:"source_timeout_ms"`
}

// VaultConfig holds connection parameters for the external credential
// vault (spec.md §1). The chainstrategy platform never stores private key
// material itself.
type VaultConfig struct {
	Addr  string `toml:"addr"`
	Token string `toml:"token"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters for the Executor's internal
// endpoint.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		DB: DBConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "chainstrategy",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			RunMigrations:  true,
			PreferIPv4Dial: false,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Ingest: IngestConfig{
			Chains:                []string{"ethereum", "base", "solana"},
			DexAggregatorBaseURL:  "https://api.dexaggregator.example",
			DexAggregatorInterval: duration{15 * time.Second},
			PerpVenueBaseURL:      "https://api.perpvenue.example",
			PerpVenueInterval:     duration{15 * time.Second},
		},
		Scheduler: SchedulerConfig{
			PollInterval: duration{60 * time.Second},
		},
		Evaluator: EvaluatorConfig{
			ExecutorURL:    "http://localhost:8090/transaction/execute/internal",
			MaxRetries:     3,
			BackoffMs:      500,
			DequeueWaitSec: 5,
			TrendMaxAge:    duration{0},
		},
		Executor: ExecutorConfig{
			CircuitBreakerThreshold: 5,
			RouterAddresses:         map[string]string{},
			WorkerMaxRetries:        3,
			WorkerBackoffMs:         500,
		},
		Oracle: OracleConfig{
			SourceTimeoutMs: 5000,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8090,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ingest":    true,
	"schedule":  true,
	"evaluate":  true,
	"execute":   true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, schedule, evaluate, execute, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// DB
	needsDB := c.Mode == "ingest" || c.Mode == "schedule" || c.Mode == "evaluate" || c.Mode == "execute" || c.Mode == "full"
	if needsDB && strings.TrimSpace(c.DB.DSN) == "" {
		if c.DB.Host == "" {
			errs = append(errs, "db: host must not be empty (or set db.dsn)")
		}
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Sprintf("db: port must be 1-65535, got %d", c.DB.Port))
		}
		if c.DB.Database == "" {
			errs = append(errs, "db: database must not be empty")
		}
	}
	if c.DB.PoolMaxConns < 1 {
		errs = append(errs, "db: pool_max_conns must be >= 1")
	}
	if c.DB.PoolMinConns < 0 {
		errs = append(errs, "db: pool_min_conns must be >= 0")
	}
	if c.DB.PoolMinConns > c.DB.PoolMaxConns {
		errs = append(errs, "db: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Ingest
	if c.Mode == "ingest" || c.Mode == "full" {
		if len(c.Ingest.Chains) == 0 {
			errs = append(errs, "ingest: chains must not be empty for mode "+c.Mode)
		}
	}

	// Evaluator
	if c.Evaluator.MaxRetries < 1 {
		errs = append(errs, "evaluator: max_retries must be >= 1")
	}
	if c.Evaluator.BackoffMs < 0 {
		errs = append(errs, "evaluator: backoff_ms must be >= 0")
	}
	if (c.Mode == "evaluate" || c.Mode == "full") && c.Evaluator.ExecutorURL == "" {
		errs = append(errs, "evaluator: executor_url must be set for mode "+c.Mode)
	}

	// Executor
	if c.Executor.CircuitBreakerThreshold < 0 {
		errs = append(errs, "executor: circuit_breaker_threshold must be >= 0 (0 disables)")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
