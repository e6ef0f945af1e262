package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository is a generic gorm-backed store for a single model type.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	BatchCreate(ctx context.Context, resources []*T) error
	Count(ctx context.Context, query *T) (int64, error)
}

// QueryOption narrows a query built from a model filter.
type QueryOption func(*gorm.DB) *gorm.DB

func OrderBy(expr string) QueryOption {
	return func(db *gorm.DB) *gorm.DB { return db.Order(expr) }
}

func Limit(n int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if n <= 0 {
			return db
		}
		return db.Limit(n)
	}
}

// Where adds a raw condition next to the struct filter, for columns whose
// zero value would otherwise be ignored.
func Where(query string, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB { return db.Where(query, args...) }
}
