package aggregates

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	repoassets "github.com/blinkboard/blink-backend/internal/data/repos/assets"
	domainagg "github.com/blinkboard/blink-backend/internal/domain/aggregates"
	"github.com/blinkboard/blink-backend/internal/domain/assets"
	"github.com/blinkboard/blink-backend/internal/platform/dbctx"
)

type AssetAggregateDeps struct {
	Base         BaseDeps
	Assets       repoassets.AssetRepo
	Transactions repoassets.TransactionRepo
}

type assetAggregate struct {
	deps AssetAggregateDeps
}

var _ domainagg.AssetAggregate = (*assetAggregate)(nil)

func NewAssetAggregate(deps AssetAggregateDeps) domainagg.AssetAggregate {
	deps.Base = deps.Base.withDefaults()
	deps.Base.Log = deps.Base.Log.With("aggregate", "AssetAggregate")
	return &assetAggregate{deps: deps}
}

func (a *assetAggregate) Contract() domainagg.Contract {
	return domainagg.AssetAggregateContract
}

func (a *assetAggregate) Create(ctx context.Context, asset *assets.Asset, tx *assets.Transaction) error {
	const op = "asset.create"
	if asset == nil || tx == nil {
		return domainagg.NewError(domainagg.CodeValidation, op, "asset and transaction are required", nil)
	}
	if asset.ID == uuid.Nil || tx.ID == uuid.Nil {
		return domainagg.NewError(domainagg.CodeValidation, op, "asset id and transaction id are required", nil)
	}
	if asset.Status != assets.StatusPendingCreate || asset.Version != 0 {
		return domainagg.NewError(domainagg.CodeInvariantViolation, op, "new assets start PENDING_CREATE at version 0", nil)
	}
	if tx.Kind != assets.KindCreate || tx.AssetID != asset.ID {
		return domainagg.NewError(domainagg.CodeInvariantViolation, op, "first attempt must be a CREATE for the same asset", nil)
	}
	if len(asset.PendingAttributes) == 0 {
		return domainagg.NewError(domainagg.CodeValidation, op, "new assets must stage their attributes", nil)
	}
	tx.Outcome = assets.OutcomePending
	tx.BaseVersion = 0
	asset.PendingTxID = &tx.ID

	return executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		if err := a.deps.Assets.Create(dbc, asset); err != nil {
			return err
		}
		return a.deps.Transactions.Create(dbc, tx)
	})
}

func (a *assetAggregate) Get(ctx context.Context, id uuid.UUID) (*assets.Asset, error) {
	row, err := a.deps.Assets.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, MapError("asset.get", err)
	}
	return row, nil
}

func (a *assetAggregate) ConditionalUpdate(ctx context.Context, id uuid.UUID, expectedVersion int, patch domainagg.AssetPatch) (*assets.Asset, error) {
	if id == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, "asset.update", "missing asset id", nil)
	}
	if expectedVersion < 0 {
		return nil, domainagg.NewError(domainagg.CodeValidation, "asset.update", "expected version must be >= 0", nil)
	}
	switch {
	case patch.Begin != nil && patch.Resolve == nil:
		return a.begin(ctx, id, expectedVersion, patch)
	case patch.Resolve != nil && patch.Begin == nil:
		return a.resolve(ctx, id, expectedVersion, *patch.Resolve)
	default:
		return nil, domainagg.NewError(domainagg.CodeValidation, "asset.update", "patch must set exactly one of begin or resolve", nil)
	}
}

// begin moves an ACTIVE asset (or a FAILED asset that exists on the ledger)
// into the pending status for the attempt. The version does not change.
func (a *assetAggregate) begin(ctx context.Context, id uuid.UUID, expectedVersion int, patch domainagg.AssetPatch) (*assets.Asset, error) {
	const op = "asset.begin"
	tx := patch.Begin
	switch tx.Kind {
	case assets.KindUpdate:
		if len(patch.PendingAttributes) == 0 {
			return nil, domainagg.NewError(domainagg.CodeValidation, op, "update must stage attributes", nil)
		}
	case assets.KindTransfer:
		if patch.PendingOwnerID == nil || *patch.PendingOwnerID == "" {
			return nil, domainagg.NewError(domainagg.CodeValidation, op, "transfer must stage a new owner", nil)
		}
	default:
		return nil, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("kind %q cannot begin on an existing asset", tx.Kind), nil)
	}
	if tx.ID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "missing transaction id", nil)
	}
	tx.AssetID = id
	tx.BaseVersion = expectedVersion
	tx.Outcome = assets.OutcomePending

	var out *assets.Asset
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		current, err := a.deps.Assets.GetByID(dbc, id)
		if err != nil {
			return err
		}
		if current.Status.IsPending() {
			return ConflictError("asset has an operation in flight")
		}
		if err := RequireVersionMatch(current.Version, expectedVersion); err != nil {
			return err
		}
		if current.Status == assets.StatusFailed && current.ExternalRef == nil {
			return domainagg.NewError(domainagg.CodePreconditionFailed, op, "asset was never minted", nil)
		}

		now := time.Now().UTC()
		ok, err := a.deps.Base.CASGuard.UpdateWhere(dbc, "asset", id, []Cond{
			{Column: "version", Value: expectedVersion},
			{Column: "status", Value: []string{string(assets.StatusActive), string(assets.StatusFailed)}},
			{Column: "pending_tx_id", Value: nil},
		}, map[string]any{
			"status":             assets.PendingStatusFor(tx.Kind),
			"pending_tx_id":      tx.ID,
			"pending_owner_id":   patch.PendingOwnerID,
			"pending_attributes": patch.PendingAttributes,
			"updated_at":         now,
		})
		if err != nil {
			return err
		}
		if err := RequireCASSuccess(ok, "asset changed concurrently"); err != nil {
			return err
		}
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
		}
		if err := a.deps.Transactions.Create(dbc, tx); err != nil {
			return err
		}
		out, err = a.deps.Assets.GetByID(dbc, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resolve completes the asset's in-flight attempt and bumps the version.
func (a *assetAggregate) resolve(ctx context.Context, id uuid.UUID, expectedVersion int, res domainagg.Resolution) (*assets.Asset, error) {
	const op = "asset.resolve"
	if res.TxID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "missing transaction id", nil)
	}
	if !res.Outcome.Terminal() {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("outcome %q is not terminal", res.Outcome), nil)
	}
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = time.Now().UTC()
	}

	var out *assets.Asset
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		current, err := a.deps.Assets.GetByID(dbc, id)
		if err != nil {
			return err
		}
		if current.PendingTxID == nil || *current.PendingTxID != res.TxID {
			return ConflictError("transaction is not in flight on this asset")
		}
		if err := RequireVersionMatch(current.Version, expectedVersion); err != nil {
			return err
		}
		attempt, err := a.deps.Transactions.GetByID(dbc, res.TxID)
		if err != nil {
			return err
		}

		updates := map[string]any{
			"version":            gorm.Expr("version + 1"),
			"pending_tx_id":      nil,
			"pending_owner_id":   nil,
			"pending_attributes": nil,
			"updated_at":         res.ResolvedAt.UTC(),
		}
		if res.Outcome == assets.OutcomeConfirmed {
			updates["status"] = assets.StatusActive
			updates["failure_reason"] = ""
			switch attempt.Kind {
			case assets.KindCreate:
				if res.Ref == "" {
					return InvariantError("confirmed mint has no ledger ref")
				}
				updates["external_ref"] = res.Ref
				updates["attributes"] = current.PendingAttributes
			case assets.KindUpdate:
				if len(current.PendingAttributes) == 0 {
					return InvariantError("confirmed update has no staged attributes")
				}
				updates["attributes"] = current.PendingAttributes
			case assets.KindTransfer:
				if current.PendingOwnerID == nil {
					return InvariantError("confirmed transfer has no staged owner")
				}
				updates["owner_id"] = *current.PendingOwnerID
			}
		} else {
			updates["status"] = assets.StatusFailed
			updates["failure_reason"] = res.Reason
		}

		ok, err := a.deps.Base.CASGuard.UpdateWhere(dbc, "asset", id, []Cond{
			{Column: "version", Value: expectedVersion},
			{Column: "pending_tx_id", Value: res.TxID},
		}, updates)
		if err != nil {
			return err
		}
		if err := RequireCASSuccess(ok, "asset changed concurrently"); err != nil {
			return err
		}
		resolved, err := a.deps.Transactions.Resolve(dbc, res.TxID, res.Outcome, res.Ref, res.Reason, res.ResolvedAt)
		if err != nil {
			return err
		}
		if !resolved {
			return InvariantError("in-flight transaction was already terminal")
		}
		out, err = a.deps.Assets.GetByID(dbc, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *assetAggregate) AppendTransaction(ctx context.Context, tx *assets.Transaction) error {
	const op = "asset.append_transaction"
	if tx == nil || tx.ID == uuid.Nil || tx.AssetID == uuid.Nil {
		return domainagg.NewError(domainagg.CodeValidation, op, "transaction id and asset id are required", nil)
	}
	return executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		if _, err := a.deps.Assets.GetByID(dbc, tx.AssetID); err != nil {
			return err
		}
		return a.deps.Transactions.Create(dbc, tx)
	})
}

func (a *assetAggregate) ResolveTransaction(ctx context.Context, res domainagg.Resolution) (bool, error) {
	const op = "asset.resolve_transaction"
	if res.TxID == uuid.Nil || !res.Outcome.Terminal() {
		return false, domainagg.NewError(domainagg.CodeValidation, op, "transaction id and terminal outcome are required", nil)
	}
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = time.Now().UTC()
	}
	var resolved bool
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		var err error
		resolved, err = a.deps.Transactions.Resolve(dbc, res.TxID, res.Outcome, res.Ref, res.Reason, res.ResolvedAt)
		return err
	})
	return resolved, err
}

func (a *assetAggregate) DeferTransaction(ctx context.Context, id uuid.UUID, next time.Time) (bool, error) {
	const op = "asset.defer_transaction"
	if id == uuid.Nil || next.IsZero() {
		return false, domainagg.NewError(domainagg.CodeValidation, op, "transaction id and next check time are required", nil)
	}
	var deferred bool
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		var err error
		deferred, err = a.deps.Transactions.Defer(dbc, id, next)
		return err
	})
	return deferred, err
}

func (a *assetAggregate) GetTransaction(ctx context.Context, id uuid.UUID) (*assets.Transaction, error) {
	row, err := a.deps.Transactions.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, MapError("asset.get_transaction", err)
	}
	return row, nil
}

func (a *assetAggregate) ListTransactions(ctx context.Context, assetID uuid.UUID) ([]*assets.Transaction, error) {
	rows, err := a.deps.Transactions.ListByAsset(dbctx.Context{Ctx: ctx}, assetID)
	if err != nil {
		return nil, MapError("asset.list_transactions", err)
	}
	return rows, nil
}

func (a *assetAggregate) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*assets.Transaction, error) {
	rows, err := a.deps.Transactions.ListPending(dbctx.Context{Ctx: ctx}, olderThan, limit)
	if err != nil {
		return nil, MapError("asset.list_pending", err)
	}
	return rows, nil
}

func (a *assetAggregate) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*assets.Asset, error) {
	rows, err := a.deps.Assets.ListByOwner(dbctx.Context{Ctx: ctx}, ownerID, limit)
	if err != nil {
		return nil, MapError("asset.list_by_owner", err)
	}
	return rows, nil
}

func (a *assetAggregate) Purge(ctx context.Context, id uuid.UUID, expectedVersion int) error {
	const op = "asset.purge"
	return executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		current, err := a.deps.Assets.GetByID(dbc, id)
		if err != nil {
			return err
		}
		if current.Status.IsPending() {
			return ConflictError("asset has an operation in flight")
		}
		if err := RequireVersionMatch(current.Version, expectedVersion); err != nil {
			return err
		}
		ok, err := a.deps.Assets.DeleteNonPending(dbc, id, expectedVersion)
		if err != nil {
			return err
		}
		if !ok {
			return ConflictError("asset changed concurrently")
		}
		a.deps.Base.Log.Info("asset purged", "asset_id", id, "version", expectedVersion)
		return nil
	})
}
