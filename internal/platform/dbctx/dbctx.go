package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context carries the request context into repositories, together with the
// aggregate's open transaction when there is one.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// DB returns the open transaction, or fallback outside one, bound to Ctx.
func (c Context) DB(fallback *gorm.DB) *gorm.DB {
	db := c.Tx
	if db == nil {
		db = fallback
	}
	if c.Ctx == nil {
		return db.WithContext(context.Background())
	}
	return db.WithContext(c.Ctx)
}

// InTx reports whether writes through this context join a transaction.
func (c Context) InTx() bool { return c.Tx != nil }
