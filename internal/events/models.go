package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	TypePointsCredited   = "points.credited"
	TypePointsDebited    = "points.debited"
	TypeVoucherIssued    = "voucher.issued"
	TypeVoucherUsed      = "voucher.used"
	TypeVoucherExpired   = "voucher.expired"
	TypeVoucherCancelled = "voucher.cancelled"
	TypeTierChanged      = "tier.changed"
	TypeReportPrefix     = "report."
)

// LoyaltyEvent is one outbox row awaiting the notification collaborator.
type LoyaltyEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID      string            `gorm:"type:varchar(36);not null;index" json:"user_id"`
	EventType   string            `gorm:"not null" json:"event_type"`
	Payload     datatypes.JSONMap `gorm:"not null" json:"payload"`
	DedupeKey   *string           `gorm:"uniqueIndex" json:"dedupe_key,omitempty"`
	Published   bool              `gorm:"not null;default:false;index" json:"published"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
}

func (LoyaltyEvent) TableName() string { return "loyalty_events" }
