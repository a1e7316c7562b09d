package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/reconcile/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, report *domain.MissingPointsReport) error {
	return db.WithContext(ctx).Create(report).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.MissingPointsReport, error) {
	return r.first(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindOpen(ctx context.Context, db *gorm.DB, userID, orderID string) (*domain.MissingPointsReport, error) {
	return r.first(db.WithContext(ctx).
		Where("user_id = ? AND order_id = ?", userID, orderID).
		Where("status IN ?", []domain.Status{domain.StatusReported, domain.StatusInvestigating}))
}

func (r *repo) first(stmt *gorm.DB) (*domain.MissingPointsReport, error) {
	var rows []domain.MissingPointsReport
	if err := stmt.Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.MissingPointsReport, error) {
	var rows []domain.MissingPointsReport
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("reported_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) Advance(ctx context.Context, db *gorm.DB, id snowflake.ID, t domain.Transition) (bool, error) {
	updates := map[string]any{"status": t.To}
	switch t.To {
	case domain.StatusInvestigating:
		updates["investigation_started_at"] = t.At
	case domain.StatusResolved:
		updates["resolved_at"] = t.At
		updates["credited_points"] = t.CreditedPoints
		updates["correction_entry_id"] = t.CorrectionEntryID
		updates["resolution"] = t.Resolution
	case domain.StatusRejected:
		updates["resolved_at"] = t.At
		updates["resolution"] = t.Resolution
	}

	res := db.WithContext(ctx).
		Model(&domain.MissingPointsReport{}).
		Where("id = ? AND status = ?", id, t.From).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
