package observability

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/blinkboard/blink-backend/internal/platform/envutil"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

// Metrics is the process-wide metric registry. All methods are nil-safe so
// callers can pass a nil *Metrics when METRICS_ENABLED is off.
type Metrics struct {
	apiRequests      *CounterVec
	apiLatency       *HistogramVec
	aggregateOps     *HistogramVec
	aggregateConf    *CounterVec
	aggregateRetry   *CounterVec
	ledgerCalls      *HistogramVec
	rateLimit        *CounterVec
	reconcileResults *CounterVec
	pendingAssets    *GaugeVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool { return envutil.Bool("METRICS_ENABLED", false) }

// Init returns the shared registry, or nil when metrics are disabled.
func Init() *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() { instance = NewMetrics() })
	return instance
}

// NewMetrics builds an unshared registry.
func NewMetrics() *Metrics {
	latency := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}
	return &Metrics{
		apiRequests: NewCounterVec("blink_api_requests_total", "API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec("blink_api_request_duration_seconds", "API request latency in seconds.",
			[]string{"method", "route"}, latency),
		aggregateOps: NewHistogramVec("blink_aggregate_operation_duration_seconds", "Aggregate write latency by operation/status.",
			[]string{"operation", "status"}, latency),
		aggregateConf:  NewCounterVec("blink_aggregate_conflicts_total", "Optimistic concurrency conflicts by operation.", []string{"operation"}),
		aggregateRetry: NewCounterVec("blink_aggregate_retryable_total", "Retryable aggregate failures by operation.", []string{"operation"}),
		ledgerCalls: NewHistogramVec("blink_ledger_call_duration_seconds", "Ledger gateway latency by call/outcome.",
			[]string{"call", "outcome"}, latency),
		rateLimit:        NewCounterVec("blink_rate_limit_decisions_total", "Rate limit decisions by scope/decision.", []string{"scope", "decision"}),
		reconcileResults: NewCounterVec("blink_reconcile_results_total", "Reconciliation outcomes.", []string{"result"}),
		pendingAssets:    NewGaugeVec("blink_pending_assets", "Assets found pending during the last sweep.", []string{"status"}),
	}
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, strconv.Itoa(status))
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) ObserveAggregateOperation(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.aggregateOps.Observe(dur.Seconds(), op, status)
}

func (m *Metrics) IncAggregateConflict(op string) {
	if m == nil {
		return
	}
	m.aggregateConf.Inc(op)
}

func (m *Metrics) IncAggregateRetry(op string) {
	if m == nil {
		return
	}
	m.aggregateRetry.Inc(op)
}

func (m *Metrics) ObserveLedgerCall(call, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.ledgerCalls.Observe(dur.Seconds(), call, outcome)
}

func (m *Metrics) IncRateLimitDecision(scope, decision string) {
	if m == nil {
		return
	}
	m.rateLimit.Inc(scope, decision)
}

func (m *Metrics) IncReconcileResult(result string) {
	if m == nil {
		return
	}
	m.reconcileResults.Inc(result)
}

func (m *Metrics) SetPendingAssets(status string, n int) {
	if m == nil {
		return
	}
	m.pendingAssets.Set(float64(n), status)
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, _ *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency,
		m.aggregateOps, m.aggregateConf, m.aggregateRetry,
		m.ledgerCalls, m.rateLimit,
		m.reconcileResults, m.pendingAssets,
	}
	for _, mw := range writers {
		if err := mw.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

// StartServer exposes /metrics on addr until ctx is done.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil || addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", m.WriteHTTP)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed && log != nil {
			log.Error("metrics server failed", "error", err, "addr", addr)
		}
	}()
}
