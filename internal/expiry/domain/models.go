package domain

import (
	"context"
	"iter"
	"time"

	"gorm.io/gorm"
)

// Projection is a group of points expiring on the same day from one source.
type Projection struct {
	Points     int64     `json:"points"`
	Source     string    `json:"source"`
	EarnedDate time.Time `json:"earned_date"`
	ExpiryDate time.Time `json:"expiry_date"`
}

// MaterializeResult summarizes one materialization pass for a user.
type MaterializeResult struct {
	UserID        string
	Materialized  int
	PointsExpired int64
}

// BatchResult summarizes a materialization pass over every account.
type BatchResult struct {
	Accounts      int
	Materialized  int
	PointsExpired int64
}

type Service interface {
	UpcomingExpiries(ctx context.Context, userID string, lookaheadDays int) iter.Seq2[Projection, error]
	MaterializeExpiry(ctx context.Context, userID string, asOf time.Time) (MaterializeResult, error)
	// MaterializeExpiryTx joins the caller's transaction; the caller holds the account lock.
	MaterializeExpiryTx(ctx context.Context, tx *gorm.DB, userID string, asOf time.Time) (MaterializeResult, error)
	MaterializeAll(ctx context.Context, asOf time.Time) (BatchResult, error)
}
