package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trade-pnl-lab/internal/bootstrap"
	"trade-pnl-lab/internal/config"
	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/observability"
	"trade-pnl-lab/internal/reconciliation"
	"trade-pnl-lab/internal/version"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	allocateInterval := flag.Duration("allocate-interval", 0, "Periodic allocation interval (0 disables)")
	reconcileInterval := flag.Duration("reconcile-interval", 0, "Periodic reconciliation interval (0 disables)")
	reconcileWindow := flag.Duration("reconcile-window", time.Hour, "Lookback window for periodic reconciliation")
	reconcileTier := flag.Int("reconcile-tier", 1, "Reconciliation tier: 1 = presence, 2 = values")
	autoBackfill := flag.Bool("auto-backfill", true, "Backfill missing trades during periodic reconciliation")
	flag.Parse()

	fallback := log.New(os.Stderr, "[server] ", log.LstdFlags)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fallback.Fatalf("load config: %v", err)
	}
	if *reconcileTier != 1 && *reconcileTier != 2 {
		fallback.Fatalf("invalid tier %d: must be 1 or 2", *reconcileTier)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	app, err := bootstrap.New(ctx, cfg, "server")
	if err != nil {
		fallback.Fatalf("bootstrap: %v", err)
	}
	defer app.Close()

	logger := app.Logger

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, pingCancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer pingCancel()
		if err := app.Ping(pingCtx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort),
		Handler: mux,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			cancel()
		}
	}()

	if *allocateInterval > 0 {
		go runAllocationLoop(ctx, app, *allocateInterval)
	}
	if *reconcileInterval > 0 {
		go runReconcileLoop(ctx, app, *reconcileInterval, *reconcileWindow,
			domain.ReconciliationTier(*reconcileTier), *autoBackfill)
	}

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown")
	}
}

// runAllocationLoop recomputes allocations for the configured namespace
// on a fixed interval. A run that loses the computation lease is skipped
// and retried on the next tick.
func runAllocationLoop(ctx context.Context, app *bootstrap.App, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		outcome, err := app.Orchestrator.RunAllocation(ctx,
			app.Config.App.Namespace, app.Config.App.Symbols, time.Now().UnixMilli())
		switch {
		case errors.Is(err, version.ErrComputationInProgress):
			app.Logger.Warn().Msg("allocation skipped: computation in progress")
		case err != nil:
			app.Logger.Error().Err(err).Msg("periodic allocation failed")
		default:
			app.Logger.Info().
				Int64("version", outcome.Result.Version.Number).
				Bool("promoted", outcome.Promoted).
				Msg("periodic allocation complete")
		}
	}
}

// runReconcileLoop reconciles the trailing window on a fixed interval.
func runReconcileLoop(ctx context.Context, app *bootstrap.App, interval, window time.Duration, tier domain.ReconciliationTier, autoBackfill bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now().UnixMilli()
		outcome, err := app.Orchestrator.RunReconciliation(ctx, reconciliation.Request{
			Namespace:     app.Config.App.Namespace,
			Tier:          tier,
			Symbols:       app.Config.App.Symbols,
			WindowStartMs: now - window.Milliseconds(),
			WindowEndMs:   now,
		}, autoBackfill)
		if err != nil {
			app.Logger.Error().Err(err).Msg("periodic reconciliation failed")
			continue
		}

		event := app.Logger.Info().
			Str("report_id", outcome.Report.ReportID).
			Int("discrepancies", len(outcome.Report.Discrepancies))
		if outcome.Backfill != nil {
			event = event.Int("backfilled", outcome.Backfill.Inserted)
		}
		event.Msg("periodic reconciliation complete")

		if outcome.Partial != nil {
			app.Logger.Warn().Err(outcome.Partial).Msg("backfill incomplete, will retry next cycle")
		}
	}
}
