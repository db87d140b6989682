package assets

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPendingCreate   Status = "PENDING_CREATE"
	StatusActive          Status = "ACTIVE"
	StatusPendingUpdate   Status = "PENDING_UPDATE"
	StatusPendingTransfer Status = "PENDING_TRANSFER"
	StatusFailed          Status = "FAILED"
)

func (s Status) IsPending() bool {
	switch s {
	case StatusPendingCreate, StatusPendingUpdate, StatusPendingTransfer:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	return s.IsPending() || s == StatusActive || s == StatusFailed
}

// PendingStatusFor maps a transaction kind to the status an asset holds while
// that attempt is in flight.
func PendingStatusFor(kind TxKind) Status {
	switch kind {
	case KindCreate:
		return StatusPendingCreate
	case KindUpdate:
		return StatusPendingUpdate
	case KindTransfer:
		return StatusPendingTransfer
	default:
		return ""
	}
}

// Asset is the local projection of a ledger asset. Committed values live in
// OwnerID/Attributes; values staged by an in-flight attempt live in the
// Pending* columns and are applied only when that attempt confirms.
type Asset struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalRef *string        `gorm:"column:external_ref;index" json:"external_ref,omitempty"`
	OwnerID     string         `gorm:"column:owner_id;not null;index" json:"owner_id"`
	Attributes  datatypes.JSON `gorm:"column:attributes" json:"attributes"`
	Status      Status         `gorm:"column:status;not null;index" json:"status"`
	Version     int            `gorm:"column:version;not null;default:0" json:"version"`

	PendingTxID       *uuid.UUID     `gorm:"type:uuid;column:pending_tx_id" json:"pending_tx_id,omitempty"`
	PendingOwnerID    *string        `gorm:"column:pending_owner_id" json:"-"`
	PendingAttributes datatypes.JSON `gorm:"column:pending_attributes" json:"-"`

	FailureReason string    `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (Asset) TableName() string { return "asset" }
