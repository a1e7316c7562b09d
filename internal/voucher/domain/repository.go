package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Transition is an active-to-terminal status change applied with a
// compare-and-swap on the current status.
type Transition struct {
	To            Status
	At            time.Time
	UsedInOrderID *string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, voucher *Voucher) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Voucher, error)
	FindByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Voucher, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID string, filter ListFilter) ([]Voucher, error)
	// ListDueForExpiry pages active vouchers with ExpiresAt <= asOf by id.
	ListDueForExpiry(ctx context.Context, db *gorm.DB, asOf time.Time, afterID snowflake.ID, limit int) ([]Voucher, error)
	// TransitionFromActive reports false when the voucher was no longer active.
	TransitionFromActive(ctx context.Context, db *gorm.DB, id snowflake.ID, t Transition) (bool, error)
}
