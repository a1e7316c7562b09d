package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/loyalty/internal/money"
)

type Service interface {
	RollingSpend(ctx context.Context, userID string, asOf time.Time) (money.Amount, error)
	TierFor(spend money.Amount) Tier
	Recompute(ctx context.Context, userID string) (TierStatus, error)
	RecomputeAll(ctx context.Context) (int, error)
	// Current returns the last snapshot, or bronze when none exists.
	Current(ctx context.Context, userID string) (TierStatus, error)
}
