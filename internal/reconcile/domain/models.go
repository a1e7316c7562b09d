package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusReported      Status = "reported"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusRejected      Status = "rejected"
)

func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusRejected
}

// MissingPointsReport is a user's claim that an order was under-credited.
type MissingPointsReport struct {
	ID                     snowflake.ID  `gorm:"primaryKey" json:"id"`
	UserID                 string        `gorm:"type:varchar(36);not null;index:ix_missing_points_user_order" json:"user_id"`
	OrderID                string        `gorm:"type:varchar(128);not null;index:ix_missing_points_user_order" json:"order_id"`
	ExpectedPoints         int64         `gorm:"not null" json:"expected_points"`
	Reason                 string        `gorm:"type:text" json:"reason"`
	Status                 Status        `gorm:"type:varchar(16);not null;index" json:"status"`
	ReportedAt             time.Time     `gorm:"not null" json:"reported_at"`
	InvestigationStartedAt *time.Time    `json:"investigation_started_at,omitempty"`
	ResolvedAt             *time.Time    `json:"resolved_at,omitempty"`
	CreditedPoints         int64         `gorm:"not null;default:0" json:"credited_points"`
	CorrectionEntryID      *snowflake.ID `json:"correction_entry_id,omitempty"`
	Resolution             string        `gorm:"type:text" json:"resolution,omitempty"`
}

func (MissingPointsReport) TableName() string { return "missing_points_reports" }

// Transition moves a report from one status to the next.
type Transition struct {
	From              Status
	To                Status
	At                time.Time
	CreditedPoints    int64
	CorrectionEntryID *snowflake.ID
	Resolution        string
}
