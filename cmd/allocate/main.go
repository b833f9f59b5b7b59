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
	"trade-pnl-lab/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	namespace := flag.String("namespace", "", "Allocation namespace (defaults to config)")
	symbols := flag.String("symbols", "", "Comma-separated symbol scope (defaults to config, empty = all)")
	cutoffMs := flag.Int64("cutoff-ms", 0, "Ledger snapshot cutoff in ms (0 = now)")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	logger := log.New(os.Stderr, "[allocate] ", log.LstdFlags)

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
	if *cutoffMs == 0 {
		*cutoffMs = time.Now().UnixMilli()
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

	app, err := bootstrap.New(ctx, cfg, "allocate")
	if err != nil {
		logger.Fatalf("bootstrap: %v", err)
	}
	defer app.Close()

	outcome, err := app.Orchestrator.RunAllocation(ctx, *namespace, scope, *cutoffMs)
	if err != nil {
		logger.Fatalf("allocation failed: %v", err)
	}

	if *outputJSON {
		printJSON(outcome)
		return
	}
	printOutcome(outcome)
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

func printJSON(outcome *orchestrator.AllocationOutcome) {
	data, _ := json.MarshalIndent(map[string]any{
		"namespace":    outcome.Result.Version.Namespace,
		"version":      outcome.Result.Version.Number,
		"status":       outcome.Result.Version.Status,
		"promoted":     outcome.Promoted,
		"matched":      outcome.Result.Matched,
		"residues":     outcome.Result.Residues,
		"residue_qty":  outcome.Result.ResidueQty.String(),
		"realized_pnl": outcome.Result.RealizedPnL.String(),
		"duration_ms":  outcome.Result.Duration.Milliseconds(),
		"violations":   outcome.Verdict.Violations,
	}, "", "  ")
	fmt.Println(string(data))
}

func printOutcome(outcome *orchestrator.AllocationOutcome) {
	v := outcome.Result.Version
	fmt.Println()
	fmt.Println("=== Allocation Run ===")
	fmt.Printf("Namespace:       %s\n", v.Namespace)
	fmt.Printf("Version:         %d (%s)\n", v.Number, v.Status)
	fmt.Printf("Cutoff:          %s\n", time.UnixMilli(v.CutoffMs).Format(time.RFC3339Nano))
	fmt.Printf("Promoted:        %v\n", outcome.Promoted)
	fmt.Println()
	fmt.Printf("Matched slices:  %d\n", outcome.Result.Matched)
	fmt.Printf("Residue rows:    %d\n", outcome.Result.Residues)
	fmt.Printf("Residue qty:     %s\n", outcome.Result.ResidueQty)
	fmt.Printf("Realized P&L:    %s\n", outcome.Result.RealizedPnL)
	fmt.Printf("Duration:        %v\n", outcome.Result.Duration)

	if len(outcome.Verdict.Violations) > 0 {
		fmt.Println()
		fmt.Println("Violations:")
		for _, violation := range outcome.Verdict.Violations {
			fmt.Printf("  [%s] %s %s: %s\n", violation.Check, violation.Symbol, violation.OrderID, violation.Detail)
		}
	}
}
