package assets

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TxKind string

const (
	KindCreate   TxKind = "CREATE"
	KindUpdate   TxKind = "UPDATE"
	KindTransfer TxKind = "TRANSFER"
)

type TxOutcome string

const (
	OutcomePending   TxOutcome = "PENDING"
	OutcomeConfirmed TxOutcome = "CONFIRMED"
	OutcomeFailed    TxOutcome = "FAILED"
)

func (o TxOutcome) Terminal() bool { return o == OutcomeConfirmed || o == OutcomeFailed }

// Transaction is one attempt against the ledger. ID doubles as the ledger
// idempotency key. Rows are append-only once Outcome is terminal.
type Transaction struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID       uuid.UUID      `gorm:"type:uuid;column:asset_id;not null;index" json:"asset_id"`
	Kind          TxKind         `gorm:"column:kind;not null" json:"kind"`
	ActorID       string         `gorm:"column:actor_id;not null" json:"actor_id"`
	ExternalTxRef *string        `gorm:"column:external_tx_ref" json:"external_tx_ref,omitempty"`
	Outcome       TxOutcome      `gorm:"column:outcome;not null;index:idx_asset_tx_outcome_created,priority:1" json:"outcome"`
	Reason        string         `gorm:"column:reason" json:"reason,omitempty"`
	BaseVersion   int            `gorm:"column:base_version;not null" json:"base_version"`
	Payload       datatypes.JSON `gorm:"column:payload" json:"-"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_asset_tx_outcome_created,priority:2" json:"created_at"`
	ResolvedAt    *time.Time     `gorm:"column:resolved_at" json:"resolved_at,omitempty"`

	// Sweep bookkeeping. NextCheckAt is compared against the sweep cutoff, so
	// a deferred attempt is revisited once the cutoff passes it.
	CheckCount  int        `gorm:"column:check_count;not null;default:0" json:"-"`
	NextCheckAt *time.Time `gorm:"column:next_check_at" json:"-"`
}

func (Transaction) TableName() string { return "asset_transaction" }
