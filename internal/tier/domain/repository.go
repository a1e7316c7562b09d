package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// Upsert replaces the snapshot for (user, period).
	Upsert(ctx context.Context, db *gorm.DB, status *TierStatus) error
	Latest(ctx context.Context, db *gorm.DB, userID string) (*TierStatus, error)
	LatestBefore(ctx context.Context, db *gorm.DB, userID, period string) (*TierStatus, error)
}
