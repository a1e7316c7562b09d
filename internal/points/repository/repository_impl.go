package repository

import (
	"context"

	"github.com/smallbiznis/loyalty/internal/points/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.PointsLedgerEntry) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO points_ledger_entries (
			id, user_id, points, kind, earned_at, expires_at, source_order_id,
			order_value, offsets_entry_id, idempotency_key, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING`,
		entry.ID,
		entry.UserID,
		entry.Points,
		entry.Kind,
		entry.EarnedAt,
		entry.ExpiresAt,
		entry.SourceOrderID,
		entry.OrderValue,
		entry.OffsetsEntryID,
		entry.IdempotencyKey,
		entry.Description,
		entry.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, userID, key string) (*domain.PointsLedgerEntry, error) {
	var entries []domain.PointsLedgerEntry
	err := db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		Limit(1).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.PointsLedgerEntry, error) {
	var entries []domain.PointsLedgerEntry
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
