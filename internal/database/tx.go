package database

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// WithinTx runs fn in one transaction. Repo calls made with the ctx handed
// to fn join it; returning an error rolls every write back.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.handler.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// conn returns the transaction carried by ctx, or the shared handle.
func (db *DB) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return db.handler.WithContext(ctx)
}
