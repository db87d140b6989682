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

type TransactionRepo interface {
	Create(dbc dbctx.Context, row *domainassets.Transaction) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domainassets.Transaction, error)
	ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*domainassets.Transaction, error)
	// ListPending returns PENDING attempts created before olderThan whose
	// next check is due by then, least recently deferred first.
	ListPending(dbc dbctx.Context, olderThan time.Time, limit int) ([]*domainassets.Transaction, error)
	// Defer bumps check_count and moves next_check_at on a PENDING row.
	Defer(dbc dbctx.Context, id uuid.UUID, next time.Time) (bool, error)
	// Resolve sets a terminal outcome on a PENDING row. It reports false when
	// the row was already terminal (or missing).
	Resolve(dbc dbctx.Context, id uuid.UUID, outcome domainassets.TxOutcome, ref, reason string, at time.Time) (bool, error)
}

type transactionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTransactionRepo(db *gorm.DB, log *logger.Logger) TransactionRepo {
	return &transactionRepo{db: db, log: log.With("repo", "AssetTransactionRepo")}
}

func (r *transactionRepo) Create(dbc dbctx.Context, row *domainassets.Transaction) error {
	if row == nil || row.ID == uuid.Nil || row.AssetID == uuid.Nil {
		return fmt.Errorf("transaction id and asset_id are required")
	}
	if row.Outcome == "" {
		row.Outcome = domainassets.OutcomePending
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return dbc.DB(r.db).Create(row).Error
}

func (r *transactionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domainassets.Transaction, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	var out domainassets.Transaction
	if err := dbc.DB(r.db).Where("id = ?", id).Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *transactionRepo) ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*domainassets.Transaction, error) {
	if assetID == uuid.Nil {
		return nil, fmt.Errorf("missing asset_id")
	}
	var out []*domainassets.Transaction
	if err := dbc.DB(r.db).
		Model(&domainassets.Transaction{}).
		Where("asset_id = ?", assetID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *transactionRepo) ListPending(dbc dbctx.Context, olderThan time.Time, limit int) ([]*domainassets.Transaction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []*domainassets.Transaction
	if err := dbc.DB(r.db).
		Model(&domainassets.Transaction{}).
		Where("outcome = ? AND created_at < ?", domainassets.OutcomePending, olderThan.UTC()).
		Where("(next_check_at IS NULL OR next_check_at < ?)", olderThan.UTC()).
		Order("COALESCE(next_check_at, created_at) ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *transactionRepo) Defer(dbc dbctx.Context, id uuid.UUID, next time.Time) (bool, error) {
	if id == uuid.Nil {
		return false, fmt.Errorf("missing id")
	}
	res := dbc.DB(r.db).
		Model(&domainassets.Transaction{}).
		Where("id = ? AND outcome = ?", id, domainassets.OutcomePending).
		Updates(map[string]interface{}{
			"check_count":   gorm.Expr("check_count + 1"),
			"next_check_at": next.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *transactionRepo) Resolve(dbc dbctx.Context, id uuid.UUID, outcome domainassets.TxOutcome, ref, reason string, at time.Time) (bool, error) {
	if id == uuid.Nil {
		return false, fmt.Errorf("missing id")
	}
	if !outcome.Terminal() {
		return false, fmt.Errorf("outcome %q is not terminal", outcome)
	}
	updates := map[string]interface{}{
		"outcome":     outcome,
		"reason":      reason,
		"resolved_at": at.UTC(),
	}
	if ref != "" {
		updates["external_tx_ref"] = ref
	}
	res := dbc.DB(r.db).
		Model(&domainassets.Transaction{}).
		Where("id = ? AND outcome = ?", id, domainassets.OutcomePending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
