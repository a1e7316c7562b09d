package repository

import (
	"context"

	"github.com/smallbiznis/loyalty/internal/tier/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, status *domain.TierStatus) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "period"}},
			DoUpdates: clause.AssignmentColumns([]string{"tier", "computed_tier", "rolling_spend", "computed_at"}),
		}).
		Create(status).Error
}

func (r *repo) Latest(ctx context.Context, db *gorm.DB, userID string) (*domain.TierStatus, error) {
	return r.first(db.WithContext(ctx).Where("user_id = ?", userID))
}

func (r *repo) LatestBefore(ctx context.Context, db *gorm.DB, userID, period string) (*domain.TierStatus, error) {
	return r.first(db.WithContext(ctx).Where("user_id = ? AND period < ?", userID, period))
}

func (r *repo) first(stmt *gorm.DB) (*domain.TierStatus, error) {
	var rows []domain.TierStatus
	if err := stmt.Order("period DESC").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
