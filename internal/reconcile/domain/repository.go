package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, report *MissingPointsReport) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*MissingPointsReport, error)
	// FindOpen returns the non-terminal report for (user, order), if any.
	FindOpen(ctx context.Context, db *gorm.DB, userID, orderID string) (*MissingPointsReport, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]MissingPointsReport, error)
	// Advance applies t only while the report is still in t.From.
	Advance(ctx context.Context, db *gorm.DB, id snowflake.ID, t Transition) (bool, error)
}
