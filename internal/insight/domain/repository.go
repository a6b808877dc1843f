package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the record store. FindByID returns (nil, nil) for a missing
// id; mutating methods report whether a row was affected.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, insight *Insight) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Insight, error)
	DeleteByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	UpdateByID(ctx context.Context, db *gorm.DB, id snowflake.ID, patch Patch) (bool, error)
	IncrementAccessCount(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	// Query returns one page and the total match count. Callers wanting both
	// from one snapshot run it inside a read transaction.
	Query(ctx context.Context, db *gorm.DB, q Query) ([]Insight, int64, error)
	// Scan streams every record matching p in primary key order.
	Scan(ctx context.Context, db *gorm.DB, p Predicate, batchSize int, fn func(batch []Insight) error) error
	ListExpired(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]snowflake.ID, error)
}
