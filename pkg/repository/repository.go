// Package repository is a thin generic store over gorm for single-table models.
package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository is bound to one *gorm.DB, which may be an open transaction.
// Struct filters match on non-zero fields only.
type Repository[T any] interface {
	Find(ctx context.Context, query *T, opts ...QueryOption) ([]*T, error)
	// FindOne returns nil, nil when no row matches.
	FindOne(ctx context.Context, query *T, opts ...QueryOption) (*T, error)
	BatchCreate(ctx context.Context, resources []*T) error
}

// QueryOption narrows or orders a query built from a struct filter.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// WithOrder orders results by a trusted column expression, e.g. "recorded_at ASC".
func WithOrder(order string) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Order(order)
	})
}
