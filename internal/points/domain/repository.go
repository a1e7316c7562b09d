package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// Insert stores the entry unless its idempotency key already exists for
	// the user. inserted is false on a key collision.
	Insert(ctx context.Context, db *gorm.DB, entry *PointsLedgerEntry) (inserted bool, err error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, userID, key string) (*PointsLedgerEntry, error)
	// ListByUser returns every entry of the user in recording order.
	ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]PointsLedgerEntry, error)
}
