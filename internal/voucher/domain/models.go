package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/money"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusUsed      Status = "used"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusUsed || s == StatusExpired || s == StatusCancelled
}

func (s Status) Valid() bool {
	return s == StatusActive || s.Terminal()
}

// CatalogEntry is one redeemable denomination.
type CatalogEntry struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	PointsCost   int64        `json:"points_cost"`
	FaceValue    money.Amount `json:"face_value"`
	MinimumOrder money.Amount `json:"minimum_order"`
	MinimumTier  string       `json:"minimum_tier,omitempty"`
}

// Voucher is a single-use discount bought with points. It refers to the
// redemption debit by value only.
type Voucher struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID         string       `gorm:"type:varchar(36);not null;index" json:"user_id"`
	CatalogEntryID string       `gorm:"type:varchar(64);not null" json:"catalog_entry_id"`
	FaceValue      money.Amount `gorm:"not null" json:"face_value"`
	PointsCost     int64        `gorm:"not null" json:"points_cost"`
	MinimumOrder   money.Amount `gorm:"not null;default:0" json:"minimum_order"`
	Status         Status       `gorm:"type:varchar(16);not null;index" json:"status"`
	IssuedAt       time.Time    `gorm:"not null" json:"issued_at"`
	ExpiresAt      time.Time    `gorm:"not null;index" json:"expires_at"`
	UsedAt         *time.Time   `json:"used_at,omitempty"`
	UsedInOrderID  *string      `gorm:"type:varchar(128);uniqueIndex" json:"used_in_order_id,omitempty"`
	ExpiredAt      *time.Time   `json:"expired_at,omitempty"`
	CancelledAt    *time.Time   `json:"cancelled_at,omitempty"`
	LedgerEntryID  snowflake.ID `gorm:"not null" json:"ledger_entry_id"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (Voucher) TableName() string { return "vouchers" }

type ListFilter struct {
	Status Status
}
