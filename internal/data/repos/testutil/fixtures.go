package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/blinkboard/blink-backend/internal/domain/assets"
	"github.com/blinkboard/blink-backend/internal/domain/identity"
)

func SeedIdentity(tb testing.TB, ctx context.Context, tx *gorm.DB, publicKey string) *identity.Identity {
	tb.Helper()
	now := time.Now().UTC()
	row := &identity.Identity{
		ID:          uuid.New(),
		PublicKey:   publicKey,
		DisplayName: "Blink User " + publicKey[:4],
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		tb.Fatalf("seed identity: %v", err)
	}
	return row
}

// SeedActiveAsset inserts an ACTIVE asset at the given version.
func SeedActiveAsset(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID string, version int) *assets.Asset {
	tb.Helper()
	now := time.Now().UTC()
	ref := "ref-" + uuid.NewString()[:8]
	row := &assets.Asset{
		ID:          uuid.New(),
		ExternalRef: &ref,
		OwnerID:     ownerID,
		Attributes:  datatypes.JSON(`{"name":"seed","blink_type":"STANDARD"}`),
		Status:      assets.StatusActive,
		Version:     version,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		tb.Fatalf("seed asset: %v", err)
	}
	return row
}

func SeedTransaction(tb testing.TB, ctx context.Context, tx *gorm.DB, assetID uuid.UUID, kind assets.TxKind, createdAt time.Time) *assets.Transaction {
	tb.Helper()
	row := &assets.Transaction{
		ID:        uuid.New(),
		AssetID:   assetID,
		Kind:      kind,
		ActorID:   "actor",
		Outcome:   assets.OutcomePending,
		Payload:   datatypes.JSON(`{}`),
		CreatedAt: createdAt.UTC(),
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		tb.Fatalf("seed transaction: %v", err)
	}
	return row
}
