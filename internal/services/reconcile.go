package services

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domainagg "github.com/blinkboard/blink-backend/internal/domain/aggregates"
	"github.com/blinkboard/blink-backend/internal/domain/assets"
	"github.com/blinkboard/blink-backend/internal/ledger"
	"github.com/blinkboard/blink-backend/internal/notify"
	"github.com/blinkboard/blink-backend/internal/observability"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

type ReconcilerConfig struct {
	// ConfirmationTimeout is how old a pending attempt must be before the
	// sweep looks at it.
	ConfirmationTimeout time.Duration
	BatchSize           int
	Concurrency         int
	QueryTimeout        time.Duration
	// MaxCheckInterval caps the backoff between checks of an attempt the
	// ledger keeps answering pending (or that keeps failing).
	MaxCheckInterval time.Duration
	// DryRun queries the ledger but writes nothing and replays nothing.
	DryRun bool
}

type SweepReport struct {
	Scanned      int  `json:"scanned"`
	Confirmed    int  `json:"confirmed"`
	Failed       int  `json:"failed"`
	StillPending int  `json:"still_pending"`
	Replayed     int  `json:"replayed"`
	Detached     int  `json:"detached"`
	Settled      int  `json:"settled"`
	Errors       int  `json:"errors"`
	DryRun       bool `json:"dry_run"`
}

// Reconciler resolves attempts whose ledger outcome was never recorded.
type Reconciler interface {
	// Sweep handles attempts pending for at least minAge (the configured
	// confirmation timeout when zero). Per-attempt failures are counted in
	// the report; only a failure to list attempts is returned.
	Sweep(ctx context.Context, minAge time.Duration) (SweepReport, error)
}

type reconciler struct {
	log      *logger.Logger
	cfg      ReconcilerConfig
	assets   domainagg.AssetAggregate
	ledger   ledger.Client
	outcomes *outcomeApplier
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewReconciler(
	log *logger.Logger,
	cfg ReconcilerConfig,
	assetAgg domainagg.AssetAggregate,
	ledgerClient ledger.Client,
	events notify.Publisher,
	metrics *observability.Metrics,
) Reconciler {
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if cfg.MaxCheckInterval <= 0 {
		cfg.MaxCheckInterval = 30 * time.Minute
	}
	serviceLog := log.With("service", "Reconciler")
	return &reconciler{
		log:      serviceLog,
		cfg:      cfg,
		assets:   assetAgg,
		ledger:   ledgerClient,
		outcomes: &outcomeApplier{log: serviceLog, assets: assetAgg, events: events},
		metrics:  metrics,
		now:      time.Now,
	}
}

func (r *reconciler) Sweep(ctx context.Context, minAge time.Duration) (SweepReport, error) {
	if minAge <= 0 {
		minAge = r.cfg.ConfirmationTimeout
	}
	ctx, span := observability.StartSpan(ctx, "Reconciler.Sweep")
	defer span.End()

	report := SweepReport{DryRun: r.cfg.DryRun}
	rows, err := r.assets.ListPending(ctx, r.now().Add(-minAge), r.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	report.Scanned = len(rows)

	var mu sync.Mutex
	stillPending := map[assets.Status]int{}
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for _, tx := range rows {
		tx := tx
		g.Go(func() error {
			result, replayed := r.checkOne(ctx, tx)
			r.metrics.IncReconcileResult(result)

			mu.Lock()
			defer mu.Unlock()
			if replayed {
				report.Replayed++
			}
			switch result {
			case "confirmed":
				report.Confirmed++
			case "failed":
				report.Failed++
			case "detached":
				report.Detached++
			case "settled":
				report.Settled++
			case "error":
				report.Errors++
			default:
				report.StillPending++
				stillPending[assets.PendingStatusFor(tx.Kind)]++
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, st := range []assets.Status{assets.StatusPendingCreate, assets.StatusPendingUpdate, assets.StatusPendingTransfer} {
		r.metrics.SetPendingAssets(string(st), stillPending[st])
	}
	if report.Scanned > 0 {
		r.log.Info("reconciliation sweep finished",
			"scanned", report.Scanned,
			"confirmed", report.Confirmed,
			"failed", report.Failed,
			"still_pending", report.StillPending,
			"replayed", report.Replayed,
			"detached", report.Detached,
			"settled", report.Settled,
			"errors", report.Errors,
			"dry_run", report.DryRun,
		)
	}
	return report, nil
}

// checkOne reconciles tx, turning a panic into an error result, and defers
// attempts left pending so they do not hold the head of the next batch.
func (r *reconciler) checkOne(ctx context.Context, tx *assets.Transaction) (result string, replayed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("reconcile attempt panicked", "tx_id", tx.ID, "asset_id", tx.AssetID, "panic", rec, "stack", string(debug.Stack()))
			result = "error"
		}
		if r.cfg.DryRun || (result != "pending" && result != "error") {
			return
		}
		next := r.now().Add(r.backoff(tx.CheckCount))
		if _, err := r.assets.DeferTransaction(context.WithoutCancel(ctx), tx.ID, next); err != nil {
			r.log.Warn("could not defer pending attempt", "tx_id", tx.ID, "error", err)
		}
	}()
	return r.reconcileOne(ctx, tx)
}

// backoff doubles from the confirmation timeout per earlier check, up to
// MaxCheckInterval. The sweep cutoff adds another confirmation timeout on top.
func (r *reconciler) backoff(checks int) time.Duration {
	if checks > 16 {
		checks = 16
	}
	d := r.cfg.ConfirmationTimeout << checks
	if d <= 0 || d > r.cfg.MaxCheckInterval {
		d = r.cfg.MaxCheckInterval
	}
	return d
}

// reconcileOne returns one of confirmed, failed, pending, detached, settled,
// error. Dry runs report the ledger's answer without applying it.
func (r *reconciler) reconcileOne(ctx context.Context, tx *assets.Transaction) (string, bool) {
	key := tx.ID.String()
	log := r.log.With("tx_id", tx.ID, "asset_id", tx.AssetID, "kind", tx.Kind)

	qctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	res, err := r.ledger.QueryStatus(qctx, key)
	cancel()
	if err != nil {
		log.Warn("ledger status query failed", "error", err)
		return "error", false
	}

	replayed := false
	if res.Outcome == ledger.OutcomeUnknown {
		if r.cfg.DryRun {
			return "pending", false
		}
		// The ledger never saw the key: resubmit the stored request under the
		// same key. A lost request and a lost answer both end here safely.
		op, err := ledger.DecodeOperation(tx.Payload)
		if err != nil {
			log.Error("stored ledger payload unusable", "error", err)
			return "error", false
		}
		sctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
		res, err = ledger.Submit(sctx, r.ledger, key, op)
		cancel()
		replayed = true
		if err != nil {
			log.Warn("ledger replay failed", "error", err)
			return "error", replayed
		}
	}

	switch res.Outcome {
	case ledger.OutcomeConfirmed, ledger.OutcomeRejected:
	default:
		return "pending", replayed
	}
	result := "confirmed"
	if res.Outcome == ledger.OutcomeRejected {
		result = "failed"
	}
	if r.cfg.DryRun {
		return result, replayed
	}

	_, effect, err := r.outcomes.apply(ctx, tx, res)
	if err != nil {
		log.Error("could not record ledger outcome", "ledger_outcome", res.Outcome, "ledger_ref", res.Ref, "reconciliation_required", true, "error", err)
		return "error", replayed
	}
	switch effect {
	case effectDetached:
		return "detached", replayed
	case effectSettled:
		log.Debug("attempt already resolved elsewhere")
		return "settled", replayed
	}
	log.Info("pending attempt reconciled", "outcome", result, "ledger_ref", res.Ref)
	return result, replayed
}
