package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/loyalty/internal/events"
	"github.com/smallbiznis/loyalty/internal/loyaltytest"
	"github.com/smallbiznis/loyalty/internal/money"
	pointsdomain "github.com/smallbiznis/loyalty/internal/points/domain"
	pointsrepo "github.com/smallbiznis/loyalty/internal/points/repository"
	pointsservice "github.com/smallbiznis/loyalty/internal/points/service"
	"github.com/smallbiznis/loyalty/internal/tier/domain"
	"github.com/smallbiznis/loyalty/internal/tier/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) (domain.Service, pointsdomain.Service, *loyaltytest.Env) {
	t.Helper()
	env := loyaltytest.NewEnv(t, start)
	ledger := pointsservice.New(pointsservice.Params{
		DB:       env.DB,
		Log:      env.Log,
		GenID:    env.Node,
		Clock:    env.Clock,
		Rules:    env.Rules,
		Repo:     pointsrepo.Provide(),
		Accounts: env.Accounts,
	})
	svc := New(Params{
		DB:       env.DB,
		Log:      env.Log,
		GenID:    env.Node,
		Clock:    env.Clock,
		Rules:    env.Rules,
		Repo:     repository.Provide(),
		Ledger:   ledger,
		Accounts: env.Accounts,
		Outbox:   env.Outbox,
	})
	return svc, ledger, env
}

func credit(t *testing.T, ledger pointsdomain.Service, userID, orderID string, value money.Amount, at time.Time) {
	t.Helper()
	_, err := ledger.CreditOrder(context.Background(), pointsdomain.OrderCompleted{
		UserID:      userID,
		OrderID:     orderID,
		OrderValue:  value,
		Points:      value.Cents() / 100,
		CompletedAt: at,
	})
	require.NoError(t, err)
}

func TestRollingSpendWindow(t *testing.T) {
	svc, ledger, _ := newFixture(t)
	ctx := context.Background()
	userID := uuid.NewString()
	asOf := start.AddDate(1, 0, 0)

	credit(t, ledger, userID, "too-old", money.FromUnits(1_000), asOf.AddDate(0, 0, -366))
	credit(t, ledger, userID, "in-window", money.FromUnits(2_000), asOf.AddDate(0, 0, -365))
	credit(t, ledger, userID, "today", money.FromUnits(300), asOf)
	credit(t, ledger, userID, "future", money.FromUnits(5_000), asOf.Add(time.Second))
	_, err := ledger.Append(ctx, pointsdomain.PointsLedgerEntry{UserID: userID, Kind: pointsdomain.KindBonus, Points: 99_999})
	require.NoError(t, err)

	spend, err := svc.RollingSpend(ctx, userID, asOf)
	require.NoError(t, err)
	assert.Equal(t, money.FromUnits(2_300), spend)
}

func TestCurrentDefaultsToBronze(t *testing.T) {
	svc, _, _ := newFixture(t)
	status, err := svc.Current(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, domain.TierBronze, status.Tier)
}

func TestRecomputeUpgradesImmediately(t *testing.T) {
	svc, ledger, env := newFixture(t)
	ctx := context.Background()
	userID := uuid.NewString()

	credit(t, ledger, userID, "big", money.FromUnits(250_000), start)
	status, err := svc.Recompute(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierGold, status.Tier)
	assert.Equal(t, "2025-Q1", status.Period)

	current, err := svc.Current(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierGold, current.Tier)
	assert.Equal(t, int64(1), env.CountEvents(t, events.TypeTierChanged))
}

func TestRecomputeDowngradesOneLevelPerQuarter(t *testing.T) {
	svc, ledger, env := newFixture(t)
	ctx := context.Background()
	userID := uuid.NewString()

	credit(t, ledger, userID, "big", money.FromUnits(250_000), start)
	_, err := svc.Recompute(ctx, userID)
	require.NoError(t, err)

	// The purchase has left the window; raw spend now implies bronze.
	env.Clock.Set(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	status, err := svc.Recompute(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierBronze, status.ComputedTier)
	assert.Equal(t, domain.TierSilver, status.Tier)

	// Re-running inside the same quarter keeps the previous quarter as base.
	env.Clock.Advance(24 * time.Hour)
	again, err := svc.Recompute(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierSilver, again.Tier)
	assert.Equal(t, status.ID, again.ID)

	env.Clock.Set(time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC))
	next, err := svc.Recompute(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierBronze, next.Tier)
	assert.Equal(t, "2026-Q2", next.Period)
}

func TestRecomputeAll(t *testing.T) {
	svc, ledger, _ := newFixture(t)
	ctx := context.Background()
	silverUser := uuid.NewString()
	bronzeUser := uuid.NewString()

	credit(t, ledger, silverUser, "s1", money.FromUnits(60_000), start)
	credit(t, ledger, bronzeUser, "b1", money.FromUnits(100), start)

	n, err := svc.RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	silver, err := svc.Current(ctx, silverUser)
	require.NoError(t, err)
	assert.Equal(t, domain.TierSilver, silver.Tier)

	bronze, err := svc.Current(ctx, bronzeUser)
	require.NoError(t, err)
	assert.Equal(t, domain.TierBronze, bronze.Tier)
	assert.Equal(t, money.FromUnits(100), bronze.RollingSpend)
}
