// Package insighttest holds fixtures shared by the insight package tests.
package insighttest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/insightdesk/internal/insight/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB returns a private in-memory database with the ai_insights schema.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&domain.Insight{}); err != nil {
		t.Fatalf("migrate ai_insights: %v", err)
	}
	return db
}

func MustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

// Builder produces valid records relative to a fixed instant.
type Builder struct {
	node *snowflake.Node
	now  time.Time
}

func NewBuilder(t *testing.T, now time.Time) *Builder {
	return &Builder{node: MustNode(t), now: now.UTC()}
}

// Insight returns a completed, active record; mutate the result to shape it.
func (b *Builder) Insight(userID string, risk domain.RiskLevel, confidence float64) domain.Insight {
	generated := b.now.Add(-time.Hour)
	return domain.Insight{
		ID:               b.node.Generate(),
		UserID:           userID,
		Service:          domain.ServiceOpenRouter,
		Confidence:       confidence,
		RiskLevel:        risk,
		Summary:          fmt.Sprintf("%s risk outlook for %s", risk, userID),
		ProcessingStatus: domain.ProcessingCompleted,
		GeneratedAt:      generated,
		ExpiresAt:        generated.Add(domain.DefaultTTL),
		CreatedAt:        generated,
		UpdatedAt:        generated,
	}
}

// Seed inserts items in order.
func Seed(t *testing.T, db *gorm.DB, items ...domain.Insight) {
	t.Helper()
	for i := range items {
		if err := db.Create(&items[i]).Error; err != nil {
			t.Fatalf("seed insight %d: %v", i, err)
		}
	}
}

func Int64(v int64) *int64 { return &v }
