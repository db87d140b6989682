package aggregates

import (
	"context"
	"errors"
	"testing"
	"time"

	domainagg "github.com/blinkboard/blink-backend/internal/domain/aggregates"
	"github.com/blinkboard/blink-backend/internal/platform/dbctx"
)

func TestExecuteWriteReportsOutcome(t *testing.T) {
	tests := []struct {
		name      string
		bodyErr   error
		wantCode  domainagg.ErrorCode
		conflicts int
		retries   int
	}{
		{name: "success"},
		{name: "invariant", bodyErr: InvariantError("minted asset lost its ledger ref"), wantCode: domainagg.CodeInvariantViolation},
		{name: "stale version", bodyErr: ConflictError("version moved"), wantCode: domainagg.CodeConflict, conflicts: 1},
		{name: "lock timeout", bodyErr: RetryableError("lock timeout"), wantCode: domainagg.CodeRetryable, retries: 1},
		{name: "deadline", bodyErr: context.DeadlineExceeded, wantCode: domainagg.CodeRetryable, retries: 1},
		{name: "closed database", bodyErr: errors.New("sql: database is closed"), wantCode: domainagg.CodeRepositoryUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hooks := &spyHooks{}
			err := executeWrite(context.Background(), BaseDeps{Runner: directRunner{}, Hooks: hooks}, "asset.update",
				func(dbctx.Context) error { return tt.bodyErr })

			wantStatus := "success"
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			} else {
				if !domainagg.IsCode(err, tt.wantCode) {
					t.Fatalf("want %s, got %v", tt.wantCode, err)
				}
				wantStatus = string(tt.wantCode)
			}
			if len(hooks.statuses) != 1 || hooks.statuses[0] != wantStatus {
				t.Fatalf("statuses: want [%s] got %v", wantStatus, hooks.statuses)
			}
			if hooks.conflicts != tt.conflicts || hooks.retries != tt.retries {
				t.Fatalf("conflicts=%d retries=%d, want %d/%d", hooks.conflicts, hooks.retries, tt.conflicts, tt.retries)
			}
		})
	}
}

func TestExecuteWriteDefaultsOpName(t *testing.T) {
	hooks := &spyHooks{}
	if err := executeWrite(context.Background(), BaseDeps{Runner: directRunner{}, Hooks: hooks}, "  ", func(dbctx.Context) error { return nil }); err != nil {
		t.Fatalf("executeWrite: %v", err)
	}
	if hooks.lastOp != "aggregate.write" {
		t.Fatalf("op name: %q", hooks.lastOp)
	}
}

func TestAggregateErrorStatus(t *testing.T) {
	if got := aggregateErrorStatus(nil); got != "success" {
		t.Fatalf("nil status: %s", got)
	}
	if got := aggregateErrorStatus(ConflictError("x")); got != string(domainagg.CodeConflict) {
		t.Fatalf("conflict status: %s", got)
	}
}

// directRunner runs the body without a transaction handle.
type directRunner struct{}

func (directRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	return fn(dbctx.Context{Ctx: ctx})
}

type spyHooks struct {
	lastOp    string
	statuses  []string
	conflicts int
	retries   int
}

func (h *spyHooks) ObserveOperation(name, status string, _ time.Duration) {
	h.lastOp = name
	h.statuses = append(h.statuses, status)
}

func (h *spyHooks) IncConflict(string) { h.conflicts++ }
func (h *spyHooks) IncRetry(string)    { h.retries++ }
