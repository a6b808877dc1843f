package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	next, err := src.Next(first)
	require.NoError(t, err)
	assert.Equal(t, uint(2), next)

	up, ident, err := src.ReadUp(first)
	require.NoError(t, err)
	defer up.Close()
	assert.Equal(t, "create_ai_insights", ident)

	down, _, err := src.ReadDown(next)
	require.NoError(t, err)
	down.Close()
}

func TestApplyFallsBackToAutoMigrate(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:migration_apply?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Apply(conn))
	assert.True(t, conn.Migrator().HasTable("ai_insights"))
	assert.True(t, conn.Migrator().HasTable("users"))
	require.NoError(t, Apply(conn))
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	assert.Error(t, RunMigrations(nil))
	assert.Error(t, Apply(nil))
}
