package domain

import "time"

// Account is the per-user partition row. Every mutating loyalty
// transaction bumps Version, which serializes writers for the user.
type Account struct {
	UserID    string    `gorm:"primaryKey;type:varchar(36)" json:"user_id"`
	Version   int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "loyalty_accounts" }
