package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"trade-pnl-lab/internal/bootstrap"
	"trade-pnl-lab/internal/config"
	"trade-pnl-lab/internal/validation"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	namespace := flag.String("namespace", "", "Allocation namespace (defaults to config)")
	versionNumber := flag.Int64("version", 0, "Version number to validate (0 = current)")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	logger := log.New(os.Stderr, "[validate] ", log.LstdFlags)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *namespace == "" {
		*namespace = cfg.App.Namespace
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

	app, err := bootstrap.New(ctx, cfg, "validate")
	if err != nil {
		logger.Fatalf("bootstrap: %v", err)
	}
	defer app.Close()

	if *versionNumber == 0 {
		current, err := app.Orchestrator.Manager().Current(ctx, *namespace)
		if err != nil {
			logger.Fatalf("resolve current version: %v", err)
		}
		*versionNumber = current.Number
	}

	verdict, err := app.Orchestrator.Validate(ctx, *namespace, *versionNumber)
	if err != nil {
		logger.Fatalf("validation failed: %v", err)
	}

	if *outputJSON {
		data, _ := json.MarshalIndent(verdict, "", "  ")
		fmt.Println(string(data))
	} else {
		printVerdict(verdict)
	}

	if !verdict.Valid {
		os.Exit(1)
	}
}

func printVerdict(v *validation.Verdict) {
	fmt.Println()
	fmt.Println("=== Validation Verdict ===")
	fmt.Printf("Namespace:   %s\n", v.Namespace)
	fmt.Printf("Version:     %d\n", v.Number)
	fmt.Printf("Valid:       %v\n", v.Valid)

	if len(v.Violations) > 0 {
		fmt.Println()
		fmt.Println("Violations:")
		for _, violation := range v.Violations {
			fmt.Printf("  [%s] %s %s: %s\n", violation.Check, violation.Symbol, violation.OrderID, violation.Detail)
		}
	}
}
