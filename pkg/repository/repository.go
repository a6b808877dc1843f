package repository

import (
	"context"

	"github.com/smallbiznis/insightdesk/pkg/db/option"
)

// Repository is a generic gorm-backed reader for simple tables.
type Repository[T any] interface {
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
}
