package repos

import (
	"gorm.io/gorm"

	"github.com/blinkboard/blink-backend/internal/data/repos/assets"
	"github.com/blinkboard/blink-backend/internal/data/repos/identity"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

type AssetRepo = assets.AssetRepo
type AssetTransactionRepo = assets.TransactionRepo
type IdentityRepo = identity.IdentityRepo

type Repos struct {
	Assets       AssetRepo
	Transactions AssetTransactionRepo
	Identities   IdentityRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Assets:       assets.NewAssetRepo(db, log),
		Transactions: assets.NewTransactionRepo(db, log),
		Identities:   identity.NewIdentityRepo(db, log),
	}
}
