// Package ledger is the client side of the external asset ledger.
//
// Every mutating call carries an idempotency key. Submitting the same key
// twice yields at most one effect on the ledger, so a call whose outcome was
// lost may be replayed with its original key, never with a fresh one.
package ledger

import (
	"context"
	"encoding/json"
)

type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomePending   Outcome = "pending"
	OutcomeRejected  Outcome = "rejected"
	// OutcomeUnknown is only returned by QueryStatus: the ledger has no
	// record of the key.
	OutcomeUnknown Outcome = "unknown"
)

// Result is a definitive answer from the ledger. Ref is the ledger-side
// identifier (mint address for a mint, transaction signature otherwise).
type Result struct {
	Outcome Outcome `json:"outcome"`
	Ref     string  `json:"ref,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

func Confirmed(ref string) Result   { return Result{Outcome: OutcomeConfirmed, Ref: ref} }
func Pending() Result               { return Result{Outcome: OutcomePending} }
func Rejected(reason string) Result { return Result{Outcome: OutcomeRejected, Reason: reason} }

type MintRequest struct {
	OwnerID    string          `json:"owner"`
	Attributes json.RawMessage `json:"attributes"`
}

type UpdateRequest struct {
	AssetRef   string          `json:"asset"`
	OwnerID    string          `json:"owner"`
	Attributes json.RawMessage `json:"attributes"`
}

type TransferRequest struct {
	AssetRef  string `json:"asset"`
	FromOwner string `json:"from"`
	ToOwner   string `json:"to"`
}

// Client submits operations to the ledger. A returned error means the
// outcome is unknown (transport failure, timeout, ledger unavailable); the
// caller must not assume the operation did or did not happen.
type Client interface {
	SubmitMint(ctx context.Context, idempotencyKey string, req MintRequest) (Result, error)
	SubmitUpdate(ctx context.Context, idempotencyKey string, req UpdateRequest) (Result, error)
	SubmitTransfer(ctx context.Context, idempotencyKey string, req TransferRequest) (Result, error)
	QueryStatus(ctx context.Context, idempotencyKey string) (Result, error)
}
