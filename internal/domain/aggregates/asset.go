package aggregates

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/blinkboard/blink-backend/internal/domain/assets"
)

var AssetAggregateContract = Contract{
	Name:             "Assets.AssetAggregate",
	Tables:           []string{"asset", "asset_transaction"},
	WriteTxOwnership: WriteTxOwnedByAggregate,
	ReadPolicy:       ReadPolicyInvariantScoped,
	Notes:            "Owns atomic asset status/version transitions together with the ledger attempt log.",
}

// AssetAggregate is the durable store for asset records and their ledger
// attempt log. All status changes go through version compare-and-set.
//
// Write method failures return *aggregates.Error with codes:
// CodeValidation, CodeNotFound, CodeConflict, CodeRetryable, CodeInternal.
type AssetAggregate interface {
	Aggregate

	// Create inserts a PENDING_CREATE asset at version 0 together with its
	// first attempt.
	Create(ctx context.Context, asset *assets.Asset, tx *assets.Transaction) error
	Get(ctx context.Context, id uuid.UUID) (*assets.Asset, error)

	// ConditionalUpdate applies patch only when the asset is at expectedVersion.
	ConditionalUpdate(ctx context.Context, id uuid.UUID, expectedVersion int, patch AssetPatch) (*assets.Asset, error)

	AppendTransaction(ctx context.Context, tx *assets.Transaction) error

	// ResolveTransaction records a terminal outcome on the log alone. It
	// reports false when the attempt was already terminal.
	ResolveTransaction(ctx context.Context, res Resolution) (bool, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (*assets.Transaction, error)
	ListTransactions(ctx context.Context, assetID uuid.UUID) ([]*assets.Transaction, error)

	// ListPending returns PENDING attempts created before olderThan that are
	// due for a check. Attempts never checked and those deferred longest ago
	// come first.
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*assets.Transaction, error)
	// DeferTransaction pushes a still-PENDING attempt back in the sweep order
	// until next. It reports false when the attempt is already terminal.
	DeferTransaction(ctx context.Context, id uuid.UUID, next time.Time) (bool, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*assets.Asset, error)

	// Purge deletes a non-pending asset. The attempt log is kept.
	Purge(ctx context.Context, id uuid.UUID, expectedVersion int) error
}

// AssetPatch is a guarded transition. Exactly one of Begin or Resolve is set.
//
// Begin moves an ACTIVE asset into the pending status for Begin.Kind, staging
// PendingOwnerID/PendingAttributes, and appends Begin to the log. The version
// is unchanged.
//
// Resolve completes the asset's in-flight attempt: the asset becomes ACTIVE
// (staged values committed) or FAILED, the version is bumped, and the attempt
// outcome is recorded in the same transaction.
type AssetPatch struct {
	Begin             *assets.Transaction
	PendingOwnerID    *string
	PendingAttributes datatypes.JSON

	Resolve *Resolution
}

type Resolution struct {
	TxID       uuid.UUID
	Outcome    assets.TxOutcome
	Ref        string
	Reason     string
	ResolvedAt time.Time
}

func BeginPatch(tx *assets.Transaction, pendingOwnerID *string, pendingAttributes datatypes.JSON) AssetPatch {
	return AssetPatch{Begin: tx, PendingOwnerID: pendingOwnerID, PendingAttributes: pendingAttributes}
}

func ResolvePatch(res Resolution) AssetPatch {
	return AssetPatch{Resolve: &res}
}
