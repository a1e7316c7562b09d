package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// Lock creates the account row if missing and increments its version.
	// Must run inside a transaction; the row stays locked until commit.
	Lock(ctx context.Context, db *gorm.DB, userID string, now time.Time) (*Account, error)
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*Account, error)
	// ListUserIDs pages through accounts ordered by user_id.
	ListUserIDs(ctx context.Context, db *gorm.DB, afterUserID string, limit int) ([]string, error)
}
