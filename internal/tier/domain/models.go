package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/money"
)

type Tier string

const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

var ladder = []Tier{TierBronze, TierSilver, TierGold}

// Rank orders tiers from bronze (0) upward. Unknown tiers rank as bronze.
func (t Tier) Rank() int {
	for i, tier := range ladder {
		if tier == t {
			return i
		}
	}
	return 0
}

func TierAtRank(rank int) Tier {
	rank = max(0, min(rank, len(ladder)-1))
	return ladder[rank]
}

func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	for _, tier := range ladder {
		if tier == t {
			return t, true
		}
	}
	return "", false
}

// TierStatus is one quarterly snapshot of a user's tier.
type TierStatus struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID       string       `gorm:"type:varchar(36);not null;uniqueIndex:ux_tier_status_user_period,priority:1" json:"user_id"`
	Period       string       `gorm:"type:varchar(8);not null;uniqueIndex:ux_tier_status_user_period,priority:2" json:"period"`
	Tier         Tier         `gorm:"type:varchar(16);not null" json:"tier"`
	ComputedTier Tier         `gorm:"type:varchar(16);not null" json:"computed_tier"`
	RollingSpend money.Amount `gorm:"not null" json:"rolling_spend"`
	ComputedAt   time.Time    `gorm:"not null" json:"computed_at"`
}

func (TierStatus) TableName() string { return "tier_statuses" }

// TierFor maps rolling spend to a tier. Each floor is exclusive: spend equal
// to silverAbove stays bronze.
func TierFor(spend, silverAbove, goldAbove money.Amount) Tier {
	switch {
	case spend > goldAbove:
		return TierGold
	case spend > silverAbove:
		return TierSilver
	default:
		return TierBronze
	}
}

// Dampen limits a downgrade to one level below the previous tier.
// Upgrades pass through unchanged.
func Dampen(previous, computed Tier) Tier {
	if computed.Rank() >= previous.Rank() {
		return computed
	}
	return TierAtRank(previous.Rank() - 1)
}

// PeriodOf names the calendar quarter containing t, e.g. "2026-Q4".
func PeriodOf(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
}
