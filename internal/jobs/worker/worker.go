package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blinkboard/blink-backend/internal/platform/logger"
	"github.com/blinkboard/blink-backend/internal/services"
)

// Sweeper is satisfied by services.Reconciler.
type Sweeper interface {
	Sweep(ctx context.Context, minAge time.Duration) (services.SweepReport, error)
}

// ReconcileWorker runs the reconciliation sweep on a fixed interval until its
// context is canceled. Several instances may run at once; the sweep is safe
// under concurrency.
type ReconcileWorker struct {
	log      *logger.Logger
	sweeper  Sweeper
	interval time.Duration

	wg sync.WaitGroup
}

func NewReconcileWorker(baseLog *logger.Logger, sweeper Sweeper, interval time.Duration) *ReconcileWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ReconcileWorker{
		log:      baseLog.With("component", "ReconcileWorker"),
		sweeper:  sweeper,
		interval: interval,
	}
}

func (w *ReconcileWorker) Start(ctx context.Context) {
	w.log.Info("Starting reconcile worker", "interval", w.interval.String())
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Wait blocks until the loop has exited.
func (w *ReconcileWorker) Wait() { w.wg.Wait() }

func (w *ReconcileWorker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Reconcile loop stopped")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.log.Warn("Reconcile sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs one sweep. A panicking sweep is reported as an error so
// the loop keeps going.
func (w *ReconcileWorker) RunOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Reconcile sweep panic", "panic", r)
			err = &panicError{Val: r}
		}
	}()
	_, err = w.sweeper.Sweep(ctx, 0)
	return err
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
