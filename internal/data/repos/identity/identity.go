package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domainidentity "github.com/blinkboard/blink-backend/internal/domain/identity"
	"github.com/blinkboard/blink-backend/internal/platform/dbctx"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

type IdentityRepo interface {
	Create(dbc dbctx.Context, row *domainidentity.Identity) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domainidentity.Identity, error)
	// GetByPublicKey returns (nil, nil) when no identity exists for the key.
	GetByPublicKey(dbc dbctx.Context, publicKey string) (*domainidentity.Identity, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type identityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIdentityRepo(db *gorm.DB, log *logger.Logger) IdentityRepo {
	return &identityRepo{db: db, log: log.With("repo", "IdentityRepo")}
}

func (r *identityRepo) Create(dbc dbctx.Context, row *domainidentity.Identity) error {
	if row == nil || strings.TrimSpace(row.PublicKey) == "" {
		return fmt.Errorf("missing public_key")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	now := time.Now().UTC()
	row.CreatedAt, row.UpdatedAt = now, now
	return dbc.DB(r.db).Create(row).Error
}

func (r *identityRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domainidentity.Identity, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	var out []*domainidentity.Identity
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *identityRepo) GetByPublicKey(dbc dbctx.Context, publicKey string) (*domainidentity.Identity, error) {
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" {
		return nil, fmt.Errorf("missing public_key")
	}
	var out []*domainidentity.Identity
	if err := dbc.DB(r.db).Where("public_key = ?", publicKey).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *identityRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	return dbc.DB(r.db).
		Model(&domainidentity.Identity{}).
		Where("id = ?", id).
		Updates(updates).Error
}
