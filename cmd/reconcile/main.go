// Command reconcile runs one reconciliation sweep over pending assets and
// prints the report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinkboard/blink-backend/internal/app"
	"github.com/blinkboard/blink-backend/internal/services"
)

func main() {
	olderThan := flag.Duration("older-than", 0, "only sweep attempts pending at least this long (default RECONCILE_CONFIRMATION_TIMEOUT)")
	limit := flag.Int("limit", 0, "max attempts per sweep (default RECONCILE_BATCH_SIZE)")
	dryRun := flag.Bool("dry-run", false, "query the ledger without writing outcomes")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	batch := a.Cfg.ReconcileBatchSize
	if *limit > 0 {
		batch = *limit
	}
	reconciler := services.NewReconciler(a.Log, services.ReconcilerConfig{
		ConfirmationTimeout: a.Cfg.ReconcileConfirmationTimeout,
		BatchSize:           batch,
		Concurrency:         a.Cfg.ReconcileConcurrency,
		QueryTimeout:        a.Cfg.LedgerQueryTimeout,
		DryRun:              *dryRun,
	}, a.Services.Assets, a.Clients.Ledger, a.Services.Events, a.Clients.Metrics)

	start := time.Now()
	report, err := reconciler.Sweep(ctx, *olderThan)
	if err != nil {
		a.Log.Error("Sweep failed", "error", err)
		a.Close()
		os.Exit(1)
	}
	a.Log.Info("Sweep finished", "duration", time.Since(start).String())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
	if report.Errors > 0 {
		a.Close()
		os.Exit(2)
	}
}
