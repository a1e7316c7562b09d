package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/voucher/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, voucher *domain.Voucher) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO vouchers (
			id, user_id, catalog_entry_id, face_value, points_cost, minimum_order,
			status, issued_at, expires_at, ledger_entry_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		voucher.ID,
		voucher.UserID,
		voucher.CatalogEntryID,
		voucher.FaceValue,
		voucher.PointsCost,
		voucher.MinimumOrder,
		voucher.Status,
		voucher.IssuedAt,
		voucher.ExpiresAt,
		voucher.LedgerEntryID,
		voucher.CreatedAt,
		voucher.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Voucher, error) {
	return r.first(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*domain.Voucher, error) {
	return r.first(db.WithContext(ctx).Where("used_in_order_id = ?", orderID))
}

func (r *repo) first(stmt *gorm.DB) (*domain.Voucher, error) {
	var rows []domain.Voucher
	if err := stmt.Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string, filter domain.ListFilter) ([]domain.Voucher, error) {
	stmt := db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	var rows []domain.Voucher
	if err := stmt.Order("issued_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListDueForExpiry(ctx context.Context, db *gorm.DB, asOf time.Time, afterID snowflake.ID, limit int) ([]domain.Voucher, error) {
	var rows []domain.Voucher
	err := db.WithContext(ctx).
		Where("status = ? AND expires_at <= ? AND id > ?", domain.StatusActive, asOf, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) TransitionFromActive(ctx context.Context, db *gorm.DB, id snowflake.ID, t domain.Transition) (bool, error) {
	updates := map[string]any{
		"status":     t.To,
		"updated_at": t.At,
	}
	switch t.To {
	case domain.StatusUsed:
		updates["used_at"] = t.At
		updates["used_in_order_id"] = t.UsedInOrderID
	case domain.StatusExpired:
		updates["expired_at"] = t.At
	case domain.StatusCancelled:
		updates["cancelled_at"] = t.At
	}

	res := db.WithContext(ctx).
		Model(&domain.Voucher{}).
		Where("id = ? AND status = ?", id, domain.StatusActive).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
