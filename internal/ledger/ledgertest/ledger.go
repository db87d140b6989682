// Package ledgertest provides an in-memory ledger that honors idempotency
// keys. It backs tests and LEDGER_MODE=memory local runs.
package ledgertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/blinkboard/blink-backend/internal/domain/assets"
	"github.com/blinkboard/blink-backend/internal/ledger"
)

// ErrDropped simulates a lost request or response.
var ErrDropped = errors.New("ledgertest: connection reset")

type Mode int

const (
	// ModeConfirm applies the operation and confirms it.
	ModeConfirm Mode = iota
	// ModePending records the operation without settling it; see Settle.
	ModePending
	// ModeReject refuses the operation.
	ModeReject
	// ModeDropRequest fails before the ledger sees the operation.
	ModeDropRequest
	// ModeDropResponse applies the operation but loses the answer.
	ModeDropResponse
)

type Behavior struct {
	Mode   Mode
	Reason string
}

type entry struct {
	op     ledger.Operation
	result ledger.Result
}

type Ledger struct {
	mu       sync.Mutex
	script   []Behavior
	entries  map[string]*entry
	owners   map[string]string
	attrs    map[string]json.RawMessage
	effects  map[string]int
	seq      int
	calls    int
	blockers chan struct{}
}

var _ ledger.Client = (*Ledger)(nil)

func New() *Ledger {
	return &Ledger{
		entries: map[string]*entry{},
		owners:  map[string]string{},
		attrs:   map[string]json.RawMessage{},
		effects: map[string]int{},
	}
}

// Script queues behaviors for upcoming submissions with new keys. When the
// queue is empty submissions confirm.
func (l *Ledger) Script(bs ...Behavior) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.script = append(l.script, bs...)
}

// Block makes submissions wait until Release is called or their context ends.
func (l *Ledger) Block() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockers = make(chan struct{})
}

func (l *Ledger) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.blockers != nil {
		close(l.blockers)
		l.blockers = nil
	}
}

func (l *Ledger) SubmitMint(ctx context.Context, key string, req ledger.MintRequest) (ledger.Result, error) {
	return l.submit(ctx, key, ledger.Operation{Kind: assets.KindCreate, OwnerID: req.OwnerID, Attributes: req.Attributes})
}

func (l *Ledger) SubmitUpdate(ctx context.Context, key string, req ledger.UpdateRequest) (ledger.Result, error) {
	return l.submit(ctx, key, ledger.Operation{Kind: assets.KindUpdate, OwnerID: req.OwnerID, AssetRef: req.AssetRef, Attributes: req.Attributes})
}

func (l *Ledger) SubmitTransfer(ctx context.Context, key string, req ledger.TransferRequest) (ledger.Result, error) {
	return l.submit(ctx, key, ledger.Operation{Kind: assets.KindTransfer, OwnerID: req.FromOwner, AssetRef: req.AssetRef, ToOwnerID: req.ToOwner})
}

func (l *Ledger) QueryStatus(ctx context.Context, key string) (ledger.Result, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Result{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return ledger.Result{Outcome: ledger.OutcomeUnknown}, nil
	}
	return e.result, nil
}

func (l *Ledger) submit(ctx context.Context, key string, op ledger.Operation) (ledger.Result, error) {
	l.mu.Lock()
	block := l.blockers
	l.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ledger.Result{}, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if e, ok := l.entries[key]; ok {
		return e.result, nil
	}

	b := Behavior{Mode: ModeConfirm}
	if len(l.script) > 0 {
		b, l.script = l.script[0], l.script[1:]
	}
	switch b.Mode {
	case ModeDropRequest:
		return ledger.Result{}, ErrDropped
	case ModeReject:
		reason := b.Reason
		if reason == "" {
			reason = "rejected by ledger"
		}
		l.entries[key] = &entry{op: op, result: ledger.Rejected(reason)}
		return l.entries[key].result, nil
	case ModePending:
		l.entries[key] = &entry{op: op, result: ledger.Pending()}
		return ledger.Pending(), nil
	}

	res := l.apply(key, op)
	if b.Mode == ModeDropResponse {
		return ledger.Result{}, ErrDropped
	}
	return res, nil
}

// apply executes op under key. Callers hold l.mu.
func (l *Ledger) apply(key string, op ledger.Operation) ledger.Result {
	e := &entry{op: op}
	l.entries[key] = e
	switch op.Kind {
	case assets.KindCreate:
		l.seq++
		ref := fmt.Sprintf("mint-%04d", l.seq)
		l.owners[ref] = op.OwnerID
		l.attrs[ref] = op.Attributes
		e.result = ledger.Confirmed(ref)
	case assets.KindUpdate, assets.KindTransfer:
		owner, ok := l.owners[op.AssetRef]
		switch {
		case !ok:
			e.result = ledger.Rejected("unknown asset")
			return e.result
		case owner != op.OwnerID:
			e.result = ledger.Rejected("signer does not own asset")
			return e.result
		}
		if op.Kind == assets.KindUpdate {
			l.attrs[op.AssetRef] = op.Attributes
		} else {
			l.owners[op.AssetRef] = op.ToOwnerID
		}
		l.seq++
		e.result = ledger.Confirmed(fmt.Sprintf("sig-%04d", l.seq))
	}
	l.effects[key]++
	return e.result
}

// Settle resolves a pending submission, applying it when confirm is set.
func (l *Ledger) Settle(key string, confirm bool, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || e.result.Outcome != ledger.OutcomePending {
		return fmt.Errorf("ledgertest: %q is not pending", key)
	}
	if !confirm {
		e.result = ledger.Rejected(reason)
		return nil
	}
	delete(l.entries, key)
	l.apply(key, e.op)
	return nil
}

// Effects reports how many times the operation under key changed ledger state.
func (l *Ledger) Effects(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.effects[key]
}

// Calls counts submissions, replays included.
func (l *Ledger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func (l *Ledger) OwnerOf(ref string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owners[ref]
}

func (l *Ledger) AttributesOf(ref string) json.RawMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attrs[ref]
}
