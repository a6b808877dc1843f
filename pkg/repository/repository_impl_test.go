package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/smallbiznis/insightdesk/pkg/db/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type widget struct {
	ID   string `gorm:"primaryKey"`
	Name string
	Kind string
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&widget{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestStoreFindFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	require.NoError(t, db.Create([]*widget{
		{ID: "b", Name: "bolt", Kind: "metal"},
		{ID: "a", Name: "anvil", Kind: "metal"},
		{ID: "c", Name: "cork", Kind: "wood"},
	}).Error)
	s := ProvideStore[widget](db)

	rows, err := s.Find(ctx, &widget{Kind: "metal"}, option.WithSortBy(option.SortBy{Column: "id"}))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "b", rows[1].ID)

	rows, err = s.Find(ctx, nil, option.WithSortBy(option.SortBy{Column: "id", Desc: true}))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "c", rows[0].ID)
}
