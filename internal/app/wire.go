package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cacheredis "github.com/alanyoungcy/chainstrategy/internal/cache/redis"
	"github.com/alanyoungcy/chainstrategy/internal/config"
	"github.com/alanyoungcy/chainstrategy/internal/domain"
	"github.com/alanyoungcy/chainstrategy/internal/evaluator"
	"github.com/alanyoungcy/chainstrategy/internal/executor"
	"github.com/alanyoungcy/chainstrategy/internal/feed/dexaggregator"
	"github.com/alanyoungcy/chainstrategy/internal/feed/perpvenue"
	"github.com/alanyoungcy/chainstrategy/internal/ingestor"
	"github.com/alanyoungcy/chainstrategy/internal/onchain"
	"github.com/alanyoungcy/chainstrategy/internal/oracle"
	"github.com/alanyoungcy/chainstrategy/internal/scheduler"
	"github.com/alanyoungcy/chainstrategy/internal/server"
	"github.com/alanyoungcy/chainstrategy/internal/signer"
	"github.com/alanyoungcy/chainstrategy/internal/store/postgres"
	"github.com/alanyoungcy/chainstrategy/internal/telemetry"
)

// Dependencies bundles every concrete collaborator a mode might need. Fields
// a mode doesn't use are left nil; telemetry, Postgres, Redis, the queue,
// the lock manager and the feed clients are constructed for every mode.
type Dependencies struct {
	PG    *postgres.Client
	Redis *cacheredis.Client

	Users        domain.UserStore
	Wallets      domain.WalletStore
	SessionKeys  domain.SessionKeyStore
	Strategies   domain.StrategyStore
	PriceSamples domain.PriceSampleStore
	TxLogs       domain.TransactionLogStore

	Queue domain.QueueClient
	Locks domain.LockManager

	Ingestor  *ingestor.Ingestor
	Scheduler *scheduler.Scheduler
	Evaluator *evaluator.Evaluator
	Engine    *executor.Engine
	Handler   *executor.Handler
	Worker    *executor.Worker
	Server    *server.Server

	Telemetry *telemetry.Telemetry
}

// needsPostgres reports whether mode touches the relational store.
func needsPostgres(mode string) bool {
	switch mode {
	case "ingest", "schedule", "evaluate", "execute", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations for the given
// mode and returns them together with a cleanup function that releases
// connections on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	tel, err := telemetry.New()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: telemetry: %w", err)
	}
	deps.Telemetry = tel

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.DB.DSN,
			Host:           cfg.DB.Host,
			Port:           cfg.DB.Port,
			Database:       cfg.DB.Database,
			User:           cfg.DB.User,
			Password:       cfg.DB.Password,
			SSLMode:        cfg.DB.SSLMode,
			MaxConns:       cfg.DB.PoolMaxConns,
			MinConns:       cfg.DB.PoolMinConns,
			PreferIPv4Dial: cfg.DB.PreferIPv4Dial,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)

		if cfg.DB.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.PG = pg
		pool := pg.Pool()
		deps.Users = postgres.NewUserStore(pool)
		deps.Wallets = postgres.NewWalletStore(pool)
		deps.SessionKeys = postgres.NewSessionKeyStore(pool)
		deps.Strategies = postgres.NewStrategyStore(pool)
		deps.PriceSamples = postgres.NewPriceSampleStore(pool)
		deps.TxLogs = postgres.NewTransactionLogStore(pool)
	}

	// --- Redis: queue broker + distributed lock (spec.md §4.5, §6) ---
	redisClient, err := cacheredis.New(ctx, cacheredis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.Queue = cacheredis.NewQueue(redisClient)
	deps.Locks = cacheredis.NewLockManager(redisClient)

	// --- Feed adapters (spec.md §4.1, §4.5) ---
	dexFeed := dexaggregator.NewClient(cfg.Ingest.DexAggregatorBaseURL, cfg.Ingest.DexAggregatorAPIKey)
	perpFeed := perpvenue.NewClient(cfg.Ingest.PerpVenueBaseURL)

	// --- Ingestor (mode: ingest, full) ---
	if cfg.Mode == "ingest" || cfg.Mode == "full" {
		feeds := []ingestor.FeedConfig{
			{Feed: dexFeed, SourceName: string(domain.SourceDexAggregator), Interval: orDefault(cfg.Ingest.DexAggregatorInterval.Duration, 60*time.Second)},
			{Feed: perpFeed, SourceName: string(domain.SourcePerpVenue), Interval: orDefault(cfg.Ingest.PerpVenueInterval.Duration, 60*time.Second)},
		}
		deps.Ingestor = ingestor.New(feeds, cfg.Ingest.Chains, deps.PriceSamples, logger)
	}

	// --- Scheduler (mode: schedule, full) ---
	if cfg.Mode == "schedule" || cfg.Mode == "full" {
		deps.Scheduler = scheduler.New(deps.Strategies, deps.Queue, deps.Telemetry, logger, cfg.Scheduler.PollInterval.Duration)
	}

	// --- Evaluator (mode: evaluate, full) ---
	if cfg.Mode == "evaluate" || cfg.Mode == "full" {
		deps.Evaluator = evaluator.New(deps.Queue, deps.Strategies, deps.PriceSamples, evaluator.Config{
			ExecutorURL:  cfg.Evaluator.ExecutorURL,
			ServiceToken: cfg.Executor.InternalAPIToken,
			MaxAttempts:  cfg.Evaluator.MaxRetries,
			BaseBackoff:  time.Duration(cfg.Evaluator.BackoffMs) * time.Millisecond,
			DequeueWait:  time.Duration(cfg.Evaluator.DequeueWaitSec) * time.Second,
			TrendMaxAge:  cfg.Evaluator.TrendMaxAge.Duration,
		}, deps.Telemetry, logger)
	}

	// --- Executor (mode: execute, full) ---
	if cfg.Mode == "execute" || cfg.Mode == "full" {
		sources := []domain.PriceSource{dexFeed, perpFeed}
		validator := oracle.New(sources, deps.PriceSamples, logger)

		onchainStub := onchain.NewInMemory()
		signerStub := signer.NewInMemory()

		deps.Engine = executor.NewEngine(
			deps.TxLogs,
			deps.SessionKeys,
			deps.Locks,
			validator,
			onchainStub,
			onchainStub,
			signerStub,
			nil, // risk checker: optional external collaborator (spec.md §4.4 step 4)
			nil, // compliance screener: optional external collaborator (spec.md §4.4 step 4)
			executor.Config{
				CircuitBreakerThreshold: cfg.Executor.CircuitBreakerThreshold,
				RouterAddresses:         cfg.Executor.RouterAddresses,
			},
			deps.Telemetry,
			logger,
		)
		deps.Handler = executor.NewHandler(deps.Engine, cfg.Executor.InternalAPIToken, logger)
		deps.Worker = executor.NewWorker(deps.Engine, deps.Queue, cfg.Executor.WorkerMaxRetries, time.Duration(cfg.Executor.WorkerBackoffMs)*time.Millisecond, deps.Telemetry, logger)

		if cfg.Server.Enabled {
			deps.Server = server.New(server.Config{Port: cfg.Server.Port}, deps.Handler, deps.PG, deps.Redis, logger)
		}
	}

	return deps, cleanup, nil
}

// orDefault returns d if positive, otherwise fallback.
func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
