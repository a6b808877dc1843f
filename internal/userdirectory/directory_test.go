package userdirectory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/smallbiznis/insightdesk/internal/userdirectory/domain"
	"github.com/smallbiznis/insightdesk/internal/userdirectory/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestStoreDirectoryListsIdentities(t *testing.T) {
	db := openDB(t)
	repo := repository.Provide()
	ctx := context.Background()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.Create(&domain.User{ID: "u2", DisplayName: "Budi", Role: "admin", CreatedAt: now, UpdatedAt: now}).Error)
	require.NoError(t, db.Create(&domain.User{ID: "u1", DisplayName: "Ana Maria", Role: "user", CreatedAt: now, UpdatedAt: now}).Error)

	dir := NewStoreDirectory(Params{DB: db, Repo: repo})
	users, err := dir.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].ID)
	assert.Equal(t, "Ana Maria", users[0].DisplayName)
	assert.Equal(t, "admin", users[1].Role)

	index := domain.Index(users)
	assert.Equal(t, "Budi", index["u2"].DisplayName)
}
