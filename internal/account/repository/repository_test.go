package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/loyalty/internal/account/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Account{}))
	return db
}

func TestLockCreatesAndBumpsVersion(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	ctx := context.Background()
	userID := uuid.NewString()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	var first, second *domain.Account
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = repo.Lock(ctx, tx, userID, now)
		return err
	}))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		second, err = repo.Lock(ctx, tx, userID, now.Add(time.Hour))
		return err
	}))

	require.Equal(t, int64(1), first.Version)
	require.Equal(t, int64(2), second.Version)
	require.True(t, second.CreatedAt.Equal(now))
}

func TestListUserIDsPages(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"c", "a", "b"} {
		_, err := repo.Lock(ctx, db, id, now)
		require.NoError(t, err)
	}

	page, err := repo.ListUserIDs(ctx, db, "", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, page)

	page, err = repo.ListUserIDs(ctx, db, "b", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, page)
}

func TestFindByUserIDMissing(t *testing.T) {
	db := setupDB(t)
	account, err := Provide().FindByUserID(context.Background(), db, uuid.NewString())
	require.NoError(t, err)
	require.Nil(t, account)
}
