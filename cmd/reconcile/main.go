package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trade-pnl-lab/internal/bootstrap"
	"trade-pnl-lab/internal/config"
	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/orchestrator"
	"trade-pnl-lab/internal/reconciliation"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	namespace := flag.String("namespace", "", "Allocation namespace (defaults to config)")
	symbols := flag.String("symbols", "", "Comma-separated symbol scope (defaults to config, empty = all)")
	tier := flag.Int("tier", 1, "Reconciliation tier: 1 = presence, 2 = values")
	windowStartMs := flag.Int64("window-start-ms", 0, "Window start in ms")
	windowEndMs := flag.Int64("window-end-ms", 0, "Window end in ms (0 = now)")
	autoBackfill := flag.Bool("auto-backfill", false, "Backfill missing trades and recompute allocations")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	logger := log.New(os.Stderr, "[reconcile] ", log.LstdFlags)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *namespace == "" {
		*namespace = cfg.App.Namespace
	}
	scope := cfg.App.Symbols
	if *symbols != "" {
		scope = splitSymbols(*symbols)
	}
	if *tier != 1 && *tier != 2 {
		logger.Fatalf("invalid tier %d: must be 1 or 2", *tier)
	}
	if *windowEndMs == 0 {
		*windowEndMs = time.Now().UnixMilli()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	app, err := bootstrap.New(ctx, cfg, "reconcile")
	if err != nil {
		logger.Fatalf("bootstrap: %v", err)
	}
	defer app.Close()

	outcome, err := app.Orchestrator.RunReconciliation(ctx, reconciliation.Request{
		Namespace:     *namespace,
		Tier:          domain.ReconciliationTier(*tier),
		Symbols:       scope,
		WindowStartMs: *windowStartMs,
		WindowEndMs:   *windowEndMs,
	}, *autoBackfill)
	if err != nil {
		logger.Fatalf("reconciliation failed: %v", err)
	}

	if *outputJSON {
		data, _ := json.MarshalIndent(outcome.Report, "", "  ")
		fmt.Println(string(data))
	} else {
		printOutcome(outcome)
	}

	if outcome.Partial != nil {
		logger.Fatalf("backfill incomplete: %v", outcome.Partial)
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printOutcome(outcome *orchestrator.ReconcileOutcome) {
	r := outcome.Report
	fmt.Println()
	fmt.Println("=== Reconciliation Report ===")
	fmt.Printf("Report ID:      %s\n", r.ReportID)
	fmt.Printf("Namespace:      %s\n", r.Namespace)
	fmt.Printf("Tier:           %d\n", r.Tier)
	fmt.Printf("Window:         %s .. %s\n",
		time.UnixMilli(r.WindowStartMs).Format(time.RFC3339),
		time.UnixMilli(r.WindowEndMs).Format(time.RFC3339))
	fmt.Printf("Discrepancies:  %d\n", len(r.Discrepancies))

	for _, d := range r.Discrepancies {
		switch d.Kind {
		case domain.AmountMismatch:
			fmt.Printf("  [%s] %s %s field=%s local=%s external=%s\n",
				d.Kind, d.Symbol, d.OrderID, d.Field, d.LocalValue, d.ExternalValue)
		default:
			fmt.Printf("  [%s] %s %s\n", d.Kind, d.Symbol, d.OrderID)
		}
	}

	if outcome.Backfill != nil {
		fmt.Println()
		fmt.Println("Backfill:")
		fmt.Printf("  Inserted:     %d\n", outcome.Backfill.Inserted)
		fmt.Printf("  Duplicates:   %d\n", outcome.Backfill.Duplicates)
		fmt.Printf("  Failed:       %d\n", len(outcome.Backfill.Failed))
	}
}
