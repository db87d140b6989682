package assets

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domainassets "github.com/blinkboard/blink-backend/internal/domain/assets"
	"github.com/blinkboard/blink-backend/internal/platform/dbctx"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

type AssetRepo interface {
	Create(dbc dbctx.Context, row *domainassets.Asset) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domainassets.Asset, error)
	ListByOwner(dbc dbctx.Context, ownerID string, limit int) ([]*domainassets.Asset, error)
	DeleteNonPending(dbc dbctx.Context, id uuid.UUID, expectedVersion int) (bool, error)
}

type assetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssetRepo(db *gorm.DB, log *logger.Logger) AssetRepo {
	return &assetRepo{db: db, log: log.With("repo", "AssetRepo")}
}

func (r *assetRepo) Create(dbc dbctx.Context, row *domainassets.Asset) error {
	if row == nil || row.ID == uuid.Nil {
		return fmt.Errorf("missing asset id")
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = row.CreatedAt
	return dbc.DB(r.db).Create(row).Error
}

// GetByID returns gorm.ErrRecordNotFound when the asset does not exist.
func (r *assetRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domainassets.Asset, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	var out domainassets.Asset
	if err := dbc.DB(r.db).Where("id = ?", id).Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *assetRepo) ListByOwner(dbc dbctx.Context, ownerID string, limit int) ([]*domainassets.Asset, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("missing owner_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*domainassets.Asset
	if err := dbc.DB(r.db).
		Model(&domainassets.Asset{}).
		Where("owner_id = ? AND status <> ?", ownerID, domainassets.StatusPendingCreate).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assetRepo) DeleteNonPending(dbc dbctx.Context, id uuid.UUID, expectedVersion int) (bool, error) {
	if id == uuid.Nil {
		return false, fmt.Errorf("missing id")
	}
	res := dbc.DB(r.db).
		Where("id = ? AND version = ? AND status IN ?", id, expectedVersion, []domainassets.Status{
			domainassets.StatusActive,
			domainassets.StatusFailed,
		}).
		Delete(&domainassets.Asset{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
