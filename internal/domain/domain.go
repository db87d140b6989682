package domain

import (
	"github.com/blinkboard/blink-backend/internal/domain/assets"
	"github.com/blinkboard/blink-backend/internal/domain/identity"
)

type Asset = assets.Asset
type AssetTransaction = assets.Transaction
type Identity = identity.Identity

// Models lists every persisted model in migration order.
func Models() []any {
	return []any{
		&Identity{},
		&Asset{},
		&AssetTransaction{},
	}
}
