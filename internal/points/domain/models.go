package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/money"
)

// Kind classifies a ledger movement.
type Kind string

const (
	// Earning kinds.
	KindPurchase    Kind = "purchase"
	KindBonus       Kind = "bonus"
	KindReferral    Kind = "referral"
	KindAchievement Kind = "achievement"

	// Spending kinds.
	KindRedemption Kind = "redemption"
	KindExpiry     Kind = "expiry"

	// Either sign, never zero.
	KindCorrection Kind = "correction"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPurchase, KindBonus, KindReferral, KindAchievement,
		KindRedemption, KindExpiry, KindCorrection:
		return true
	}
	return false
}

// Earning reports kinds that may only carry positive points.
func (k Kind) Earning() bool {
	switch k {
	case KindPurchase, KindBonus, KindReferral, KindAchievement:
		return true
	}
	return false
}

// PointsLedgerEntry is one immutable signed point movement.
type PointsLedgerEntry struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	UserID         string        `gorm:"type:varchar(36);not null;index;uniqueIndex:ux_points_ledger_user_key,priority:1" json:"user_id"`
	Points         int64         `gorm:"not null" json:"points"`
	Kind           Kind          `gorm:"type:varchar(32);not null" json:"kind"`
	EarnedAt       *time.Time    `json:"earned_at,omitempty"`
	ExpiresAt      *time.Time    `gorm:"index" json:"expires_at,omitempty"`
	SourceOrderID  *string       `gorm:"type:varchar(128)" json:"source_order_id,omitempty"`
	OrderValue     money.Amount  `gorm:"not null;default:0" json:"order_value"`
	OffsetsEntryID *snowflake.ID `json:"offsets_entry_id,omitempty"`
	IdempotencyKey *string       `gorm:"type:varchar(191);uniqueIndex:ux_points_ledger_user_key,priority:2" json:"idempotency_key,omitempty"`
	Description    string        `gorm:"type:text;not null;default:''" json:"description"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
}

func (PointsLedgerEntry) TableName() string { return "points_ledger_entries" }

// EffectiveAt is the instant the entry counts toward the balance.
func (e PointsLedgerEntry) EffectiveAt() time.Time {
	if e.EarnedAt != nil {
		return *e.EarnedAt
	}
	return e.CreatedAt
}

// IsLot reports whether the entry opens an expirable lot.
func (e PointsLedgerEntry) IsLot() bool {
	return e.Points > 0 && e.ExpiresAt != nil
}

// Spends reports whether the entry draws down earned lots.
func (e PointsLedgerEntry) Spends() bool {
	return e.Points < 0 && e.Kind != KindExpiry
}

// OrderCompleted is the inbound event from checkout.
type OrderCompleted struct {
	UserID      string       `json:"user_id"`
	OrderID     string       `json:"order_id"`
	OrderValue  money.Amount `json:"order_value"`
	Points      int64        `json:"points"`
	CompletedAt time.Time    `json:"completed_at"`
}

// ExpiringLot is an earning entry with points still unspent and unexpired.
type ExpiringLot struct {
	EntryID       snowflake.ID
	UserID        string
	Kind          Kind
	Points        int64
	Remaining     int64
	EarnedAt      time.Time
	ExpiresAt     time.Time
	SourceOrderID *string
}

func PurchaseKey(orderID string) string { return "purchase:" + orderID }

func RedemptionKey(voucherID snowflake.ID) string { return "redemption:" + voucherID.String() }

func ExpiryKey(lotID snowflake.ID) string { return "expiry:" + lotID.String() }

func CorrectionKey(reportID snowflake.ID) string { return "correction:" + reportID.String() }
