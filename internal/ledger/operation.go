package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/blinkboard/blink-backend/internal/domain/assets"
)

// Operation is the replayable form of a ledger submission. It is stored on
// the transaction record so the reconciliation sweep can resubmit the exact
// same request under the same key.
type Operation struct {
	Kind       assets.TxKind   `json:"kind"`
	OwnerID    string          `json:"owner_id"`
	AssetRef   string          `json:"asset_ref,omitempty"`
	ToOwnerID  string          `json:"to_owner_id,omitempty"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

func (op Operation) Validate() error {
	if op.OwnerID == "" {
		return fmt.Errorf("ledger operation: owner required")
	}
	switch op.Kind {
	case assets.KindCreate:
		if len(op.Attributes) == 0 {
			return fmt.Errorf("ledger mint: attributes required")
		}
	case assets.KindUpdate:
		if op.AssetRef == "" || len(op.Attributes) == 0 {
			return fmt.Errorf("ledger update: asset ref and attributes required")
		}
	case assets.KindTransfer:
		if op.AssetRef == "" || op.ToOwnerID == "" {
			return fmt.Errorf("ledger transfer: asset ref and destination required")
		}
	default:
		return fmt.Errorf("ledger operation: unknown kind %q", op.Kind)
	}
	return nil
}

func (op Operation) Payload() (datatypes.JSON, error) {
	b, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func DecodeOperation(payload datatypes.JSON) (Operation, error) {
	var op Operation
	if len(payload) == 0 {
		return op, fmt.Errorf("empty ledger payload")
	}
	if err := json.Unmarshal(payload, &op); err != nil {
		return op, fmt.Errorf("decode ledger payload: %w", err)
	}
	return op, op.Validate()
}

// Submit dispatches op to the matching Client call.
func Submit(ctx context.Context, c Client, key string, op Operation) (Result, error) {
	if err := op.Validate(); err != nil {
		return Result{}, err
	}
	switch op.Kind {
	case assets.KindCreate:
		return c.SubmitMint(ctx, key, MintRequest{OwnerID: op.OwnerID, Attributes: op.Attributes})
	case assets.KindUpdate:
		return c.SubmitUpdate(ctx, key, UpdateRequest{AssetRef: op.AssetRef, OwnerID: op.OwnerID, Attributes: op.Attributes})
	default:
		return c.SubmitTransfer(ctx, key, TransferRequest{AssetRef: op.AssetRef, FromOwner: op.OwnerID, ToOwner: op.ToOwnerID})
	}
}

// CallName labels op for logs and metrics.
func CallName(kind assets.TxKind) string {
	switch kind {
	case assets.KindCreate:
		return "mint"
	case assets.KindUpdate:
		return "update"
	case assets.KindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}
