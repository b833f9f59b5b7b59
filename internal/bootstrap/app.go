// Package bootstrap wires configuration, storage and engines into a
// runnable application for the command entry points.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"trade-pnl-lab/internal/config"
	"trade-pnl-lab/internal/exchange"
	"trade-pnl-lab/internal/observability"
	"trade-pnl-lab/internal/orchestrator"
	"trade-pnl-lab/internal/storage"
	chstore "trade-pnl-lab/internal/storage/clickhouse"
	"trade-pnl-lab/internal/storage/migrations"
	pgstore "trade-pnl-lab/internal/storage/postgres"
)

// App holds the wired application and its owned connections.
type App struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	TradeStore   storage.TradeStore
	VersionStore storage.VersionStore
	Metrics      *observability.Metrics
	Logger       zerolog.Logger

	pool *pgstore.Pool
	ch   *chstore.Conn
}

// New connects to the configured stores and wires the orchestrator.
// The caller owns the returned App and must Close it.
func New(ctx context.Context, cfg *config.Config, component string) (*App, error) {
	logger := observability.NewLoggerWithLevel(component, cfg.App.LogLevel)

	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	app := &App{
		Config: cfg,
		Logger: logger,
		pool:   pool,
	}

	var historyStore storage.PnLHistoryStore
	if cfg.ClickHouse.Enabled {
		conn, err := chstore.NewConn(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		app.ch = conn
		historyStore = chstore.NewPnLHistoryStore(conn)
	}

	var metrics *observability.Metrics
	if cfg.Telemetry.EnableMetrics {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
	}

	sourceOpts := exchange.BinanceOptions{
		APIKey:     cfg.Binance.APIKey,
		SecretKey:  cfg.Binance.SecretKey,
		RateLimit:  cfg.Binance.RateLimitRPS,
		RateBurst:  cfg.Binance.RateLimitBurst,
		Timeout:    time.Duration(cfg.Binance.RequestTimeoutMs) * time.Millisecond,
		MaxRetries: cfg.Binance.MaxRetries,
		MinBackoff: time.Duration(cfg.Binance.BackoffMinMs) * time.Millisecond,
		MaxBackoff: time.Duration(cfg.Binance.BackoffMaxMs) * time.Millisecond,
		Logger:     logger,
	}
	if metrics != nil {
		sourceOpts.CallLatency = metrics.SourceCallLatency
	}
	source := exchange.NewBinanceSource(sourceOpts)

	tradeStore := pgstore.NewTradeStore(pool)
	versionStore := pgstore.NewVersionStore(pool)

	orch, err := orchestrator.New(orchestrator.Options{
		TradeStore:      tradeStore,
		AllocationStore: pgstore.NewAllocationStore(pool),
		VersionStore:    versionStore,
		ReportStore:     pgstore.NewReportStore(pool),
		HistoryStore:    historyStore,
		FillSource:      source,
		Lease:           pgstore.NewLease(pool),
		Metrics:         metrics,
		Logger:          logger,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("wire orchestrator: %w", err)
	}

	app.Orchestrator = orch
	app.TradeStore = tradeStore
	app.VersionStore = versionStore
	app.Metrics = metrics
	return app, nil
}

// Migrate applies the postgres migrations, and the clickhouse ones when
// the analytics store is enabled.
func Migrate(ctx context.Context, cfg *config.Config) error {
	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return err
	}

	if cfg.ClickHouse.Enabled {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return err
		}
		conn.Close()
	}
	return nil
}

// Ping verifies the store connections, for health endpoints.
func (a *App) Ping(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if a.ch != nil {
		if err := a.ch.Ping(ctx); err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
	}
	return nil
}

// Close releases the owned connections.
func (a *App) Close() {
	if a.ch != nil {
		a.ch.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
