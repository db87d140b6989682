package services

import (
	"context"

	domainagg "github.com/blinkboard/blink-backend/internal/domain/aggregates"
	"github.com/blinkboard/blink-backend/internal/domain/assets"
	"github.com/blinkboard/blink-backend/internal/ledger"
	"github.com/blinkboard/blink-backend/internal/notify"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

// outcomeApplier commits a definitive ledger answer for one attempt. The
// synchronous write path and the reconciliation sweep both go through it so
// they share the same version-guarded transition.
type outcomeApplier struct {
	log    *logger.Logger
	assets domainagg.AssetAggregate
	events notify.Publisher
}

// applyEffect says what an apply call changed.
type applyEffect int

const (
	// effectMoved: this call resolved the attempt and moved the asset.
	effectMoved applyEffect = iota
	// effectDetached: the asset had moved past the attempt; only the log row
	// was resolved.
	effectDetached
	// effectSettled: another writer resolved the attempt first.
	effectSettled
)

// apply records res for attempt. It returns the asset as it stands afterwards
// (nil once purged) and what this call changed.
func (o *outcomeApplier) apply(ctx context.Context, attempt *assets.Transaction, res ledger.Result) (*assets.Asset, applyEffect, error) {
	r := domainagg.Resolution{TxID: attempt.ID, Outcome: assets.OutcomeConfirmed, Ref: res.Ref}
	if res.Outcome == ledger.OutcomeRejected {
		r.Outcome = assets.OutcomeFailed
		r.Reason = rejectionReason(res)
	}

	before, err := o.assets.Get(ctx, attempt.AssetID)
	if err != nil && !domainagg.IsCode(err, domainagg.CodeNotFound) {
		return nil, effectSettled, err
	}
	if err != nil {
		before = nil
	}
	if !inFlight(before, attempt) {
		changed, err := o.resolveDetached(ctx, attempt, r)
		if err != nil || !changed {
			return before, effectSettled, err
		}
		return before, effectDetached, nil
	}

	after, err := o.assets.ConditionalUpdate(ctx, attempt.AssetID, attempt.BaseVersion, domainagg.ResolvePatch(r))
	if err != nil {
		if !domainagg.IsCode(err, domainagg.CodeConflict) {
			return nil, effectSettled, err
		}
		// Another resolver may have won the race.
		current, gerr := o.assets.Get(ctx, attempt.AssetID)
		if gerr != nil || inFlight(current, attempt) {
			return nil, effectSettled, err
		}
		return current, effectSettled, nil
	}
	o.publish(ctx, before, after, attempt, r)
	return after, effectMoved, nil
}

// resolveDetached settles an attempt the asset no longer points at. It
// reports false when the log row was already terminal.
func (o *outcomeApplier) resolveDetached(ctx context.Context, attempt *assets.Transaction, r domainagg.Resolution) (bool, error) {
	changed, err := o.assets.ResolveTransaction(ctx, r)
	if err != nil || !changed {
		return false, err
	}
	if r.Outcome == assets.OutcomeConfirmed {
		o.log.Error("ledger confirmed an attempt the asset has moved past",
			"asset_id", attempt.AssetID,
			"tx_id", attempt.ID,
			"kind", attempt.Kind,
			"ledger_ref", r.Ref,
			"reconciliation_required", true,
		)
	} else {
		o.log.Warn("detached attempt resolved on the log", "asset_id", attempt.AssetID, "tx_id", attempt.ID, "outcome", r.Outcome)
	}
	return true, nil
}

func (o *outcomeApplier) publish(ctx context.Context, before, after *assets.Asset, attempt *assets.Transaction, r domainagg.Resolution) {
	if o.events == nil || after == nil {
		return
	}
	ev := notify.Event{
		Type:    notify.EventAssetConfirmed,
		AssetID: after.ID,
		TxID:    &attempt.ID,
		Kind:    attempt.Kind,
		Status:  after.Status,
		Version: after.Version,
		OwnerID: after.OwnerID,
		Reason:  r.Reason,
	}
	if r.Outcome == assets.OutcomeFailed {
		ev.Type = notify.EventAssetFailed
	}
	if attempt.Kind == assets.KindTransfer && before != nil && before.OwnerID != after.OwnerID {
		ev.PreviousOwnerID = before.OwnerID
	}
	if err := o.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		o.log.Warn("publish asset event failed", "asset_id", after.ID, "type", ev.Type, "error", err)
	}
}

func inFlight(a *assets.Asset, attempt *assets.Transaction) bool {
	return a != nil && a.PendingTxID != nil && *a.PendingTxID == attempt.ID
}

func rejectionReason(res ledger.Result) string {
	if res.Reason != "" {
		return res.Reason
	}
	return "rejected by ledger"
}
