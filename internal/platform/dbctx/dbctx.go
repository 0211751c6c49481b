// Package dbctx carries a request context together with an optional open
// transaction, so repo methods can run either on the pool or inside a
// caller-owned transaction without two method variants.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func New(ctx context.Context) Context {
	return Context{Ctx: ctx}
}

func (c Context) WithTx(tx *gorm.DB) Context {
	return Context{Ctx: c.Ctx, Tx: tx}
}

// DB resolves the handle to use: the carried transaction when present,
// otherwise the given pool, always bound to the carried context.
func (c Context) DB(pool *gorm.DB) *gorm.DB {
	t := c.Tx
	if t == nil {
		t = pool
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return t.WithContext(ctx)
}
