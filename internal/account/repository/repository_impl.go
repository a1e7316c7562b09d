package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/loyalty/internal/account/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Lock(ctx context.Context, db *gorm.DB, userID string, now time.Time) (*domain.Account, error) {
	if userID == "" {
		return nil, errors.New("missing_user_id")
	}
	row := domain.Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&row).Error; err != nil {
		return nil, err
	}

	res := db.WithContext(ctx).Exec(
		`UPDATE loyalty_accounts SET version = version + 1, updated_at = ? WHERE user_id = ?`,
		now,
		userID,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errors.New("account_lock_failed")
	}
	return r.FindByUserID(ctx, db, userID)
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, version, created_at, updated_at FROM loyalty_accounts WHERE user_id = ?`,
		userID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.UserID == "" {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) ListUserIDs(ctx context.Context, db *gorm.DB, afterUserID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("user_id > ?", afterUserID).
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
