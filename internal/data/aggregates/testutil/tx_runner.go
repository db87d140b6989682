package testutil

import (
	"context"
	"sync"

	"github.com/blinkboard/blink-backend/internal/data/aggregates"
	"github.com/blinkboard/blink-backend/internal/platform/dbctx"
)

// InjectedTxRunner is a test helper for aggregate integration tests.
// It supports failure injection around an optional Inner runner; without
// one the body runs with no transaction handle.
type InjectedTxRunner struct {
	mu sync.Mutex

	Inner aggregates.TxRunner

	FailBegin      error
	FailBeforeBody error
	FailCommit     error

	BeginCalls    int
	CommitCalls   int
	RollbackCalls int
}

var _ aggregates.TxRunner = (*InjectedTxRunner)(nil)

func (r *InjectedTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.mu.Lock()
	r.BeginCalls++
	failBegin := r.FailBegin
	failBeforeBody := r.FailBeforeBody
	failCommit := r.FailCommit
	inner := r.Inner
	r.mu.Unlock()

	if failBegin != nil {
		return failBegin
	}
	if failBeforeBody != nil {
		r.bump(&r.RollbackCalls)
		return failBeforeBody
	}
	if fn == nil {
		r.bump(&r.CommitCalls)
		return nil
	}

	run := func(dbc dbctx.Context) error {
		if err := fn(dbc); err != nil {
			return err
		}
		// Returning the commit failure from inside the inner transaction
		// rolls back whatever the body wrote.
		return failCommit
	}
	var err error
	if inner != nil {
		err = inner.InTx(ctx, run)
	} else {
		err = run(dbctx.Context{Ctx: ctx})
	}
	if err != nil {
		r.bump(&r.RollbackCalls)
		return err
	}
	r.bump(&r.CommitCalls)
	return nil
}

func (r *InjectedTxRunner) bump(counter *int) {
	r.mu.Lock()
	*counter++
	r.mu.Unlock()
}
