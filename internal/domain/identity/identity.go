package identity

import (
	"time"

	"github.com/google/uuid"
)

// Identity is a caller's public key plus a locally assigned profile. There is
// at most one Identity per public key.
type Identity struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PublicKey   string    `gorm:"column:public_key;not null;uniqueIndex" json:"public_key"`
	DisplayName string    `gorm:"column:display_name" json:"display_name"`
	Email       string    `gorm:"column:email" json:"email,omitempty"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (Identity) TableName() string { return "identity" }
