package migration

import (
	"io"
	"os"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestEmbeddedSourceHasLoyaltySchema(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	version, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	up, ident, err := src.ReadUp(version)
	require.NoError(t, err)
	defer up.Close()
	assert.Equal(t, "loyalty", ident)

	body, err := io.ReadAll(up)
	require.NoError(t, err)
	for _, table := range []string{"loyalty_accounts", "points_ledger_entries", "tier_statuses", "vouchers", "missing_points_reports", "loyalty_events"} {
		assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+table, table)
	}

	down, _, err := src.ReadDown(version)
	require.NoError(t, err)
	_ = down.Close()

	_, err = src.Next(version)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAutoMigrateCreatesEveryTable(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(conn))
	for _, model := range Models() {
		assert.True(t, conn.Migrator().HasTable(model))
	}
}
