package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/blinkboard/blink-backend/internal/domain/assets"
)

// AssetView is what callers see of an asset. Only committed values are
// exposed: a pending update shows the prior attributes, a pending create has
// none yet, and a pending transfer names no owner until it settles.
type AssetView struct {
	ID            uuid.UUID          `json:"id"`
	ExternalRef   *string            `json:"external_ref,omitempty"`
	OwnerID       *string            `json:"owner_id"`
	Attributes    *assets.Attributes `json:"attributes"`
	Status        assets.Status      `json:"status"`
	Pending       bool               `json:"pending"`
	PendingTxID   *uuid.UUID         `json:"pending_tx_id,omitempty"`
	Version       int                `json:"version"`
	FailureReason string             `json:"failure_reason,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func NewAssetView(a *assets.Asset) *AssetView {
	if a == nil {
		return nil
	}
	v := &AssetView{
		ID:            a.ID,
		ExternalRef:   a.ExternalRef,
		Status:        a.Status,
		Pending:       a.Status.IsPending(),
		PendingTxID:   a.PendingTxID,
		Version:       a.Version,
		FailureReason: a.FailureReason,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
	if a.Status != assets.StatusPendingTransfer {
		owner := a.OwnerID
		v.OwnerID = &owner
	}
	if attrs, err := assets.DecodeStored(a.Attributes); err == nil && len(a.Attributes) > 0 {
		v.Attributes = &attrs
	}
	return v
}

// TransactionView is one entry of an asset's attempt log.
type TransactionView struct {
	ID            uuid.UUID        `json:"id"`
	AssetID       uuid.UUID        `json:"asset_id"`
	Kind          assets.TxKind    `json:"kind"`
	ActorID       string           `json:"actor_id"`
	ExternalTxRef *string          `json:"external_tx_ref,omitempty"`
	Outcome       assets.TxOutcome `json:"outcome"`
	Reason        string           `json:"reason,omitempty"`
	BaseVersion   int              `json:"base_version"`
	CreatedAt     time.Time        `json:"created_at"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
}

func NewTransactionView(tx *assets.Transaction) *TransactionView {
	if tx == nil {
		return nil
	}
	return &TransactionView{
		ID:            tx.ID,
		AssetID:       tx.AssetID,
		Kind:          tx.Kind,
		ActorID:       tx.ActorID,
		ExternalTxRef: tx.ExternalTxRef,
		Outcome:       tx.Outcome,
		Reason:        tx.Reason,
		BaseVersion:   tx.BaseVersion,
		CreatedAt:     tx.CreatedAt,
		ResolvedAt:    tx.ResolvedAt,
	}
}
