package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/loyalty/internal/events"
	"github.com/smallbiznis/loyalty/internal/loyaltytest"
	"github.com/smallbiznis/loyalty/internal/money"
	"github.com/smallbiznis/loyalty/internal/points/domain"
	"github.com/smallbiznis/loyalty/internal/points/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var start = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (domain.Service, *loyaltytest.Env) {
	t.Helper()
	env := loyaltytest.NewEnv(t, start)
	svc := New(Params{
		DB:       env.DB,
		Log:      env.Log,
		GenID:    env.Node,
		Clock:    env.Clock,
		Rules:    env.Rules,
		Repo:     repository.Provide(),
		Accounts: env.Accounts,
		Outbox:   env.Outbox,
	})
	return svc, env
}

func strPtr(s string) *string { return &s }

func TestAppendAssignsExpiryForEarningEntries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.NewString()

	earned, err := svc.Append(ctx, domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindBonus, Points: 500})
	require.NoError(t, err)
	require.True(t, earned.Inserted)
	require.NotNil(t, earned.Entry.ExpiresAt)
	assert.True(t, earned.Entry.EarnedAt.Equal(start))
	assert.True(t, earned.Entry.ExpiresAt.Equal(start.AddDate(0, 12, 0)))

	spent, err := svc.Append(ctx, domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindRedemption, Points: -100})
	require.NoError(t, err)
	assert.Nil(t, spent.Entry.ExpiresAt)
	assert.Nil(t, spent.Entry.EarnedAt)
}

func TestAppendRejectsInconsistentSigns(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	userID := uuid.NewString()

	_, err := svc.Append(ctx, domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindPurchase, Points: -10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = svc.Append(ctx, domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindRedemption, Points: 10})
	assert.ErrorIs(t, err, domain.ErrValidation)

	var count int64
	require.NoError(t, env.DB.Model(&domain.PointsLedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAppendRejectsInvalidUser(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Append(context.Background(), domain.PointsLedgerEntry{UserID: "u-1", Kind: domain.KindBonus, Points: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}

func TestBalanceAsOfEqualsSumOfEffectiveEntries(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	userID := uuid.NewString()
	rng := rand.New(rand.NewSource(7))

	type appended struct {
		points    int64
		effective time.Time
	}
	var log []appended

	earningKinds := []domain.Kind{domain.KindPurchase, domain.KindBonus, domain.KindReferral, domain.KindAchievement}
	for i := 0; i < 40; i++ {
		env.Clock.Advance(time.Duration(rng.Intn(72)+1) * time.Hour)

		var entry domain.PointsLedgerEntry
		switch rng.Intn(3) {
		case 0, 1:
			kind := earningKinds[rng.Intn(len(earningKinds))]
			earned := env.Clock.Now().Add(-time.Duration(rng.Intn(48)) * time.Hour)
			entry = domain.PointsLedgerEntry{UserID: userID, Kind: kind, Points: int64(rng.Intn(900) + 1), EarnedAt: &earned}
			if kind == domain.KindPurchase {
				entry.SourceOrderID = strPtr(uuid.NewString())
				entry.OrderValue = money.FromUnits(int64(rng.Intn(300)))
			}
		default:
			entry = domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindCorrection, Points: -int64(rng.Intn(200) + 1)}
		}

		res, err := svc.Append(ctx, entry)
		require.NoError(t, err)
		log = append(log, appended{points: res.Entry.Points, effective: res.Entry.EffectiveAt()})
	}

	for _, probe := range []time.Time{start, start.AddDate(0, 0, 20), start.AddDate(0, 1, 0), env.Clock.Now()} {
		var want int64
		for _, a := range log {
			if !a.effective.After(probe) {
				want += a.points
			}
		}
		got, err := svc.BalanceAsOf(ctx, userID, probe)
		require.NoError(t, err)
		assert.Equal(t, want, got, "balance at %s", probe)
	}
}

func TestCreditOrderIsIdempotent(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	userID := uuid.NewString()

	order := domain.OrderCompleted{
		UserID:      userID,
		OrderID:     "ORD-1001",
		OrderValue:  money.FromFloat(249.99),
		Points:      250,
		CompletedAt: start,
	}
	first, err := svc.CreditOrder(ctx, order)
	require.NoError(t, err)
	require.True(t, first.Inserted)
	assert.Equal(t, money.Amount(24999), first.Entry.OrderValue)

	second, err := svc.CreditOrder(ctx, order)
	require.NoError(t, err)
	assert.False(t, second.Inserted)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	history, err := svc.History(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, int64(1), env.CountEvents(t, events.TypePointsCredited))
}

func TestCreditOrderRequiresOrderID(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreditOrder(context.Background(), domain.OrderCompleted{UserID: uuid.NewString(), Points: 10})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEntriesExpiringBetweenSkipsSpentLots(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	userID := uuid.NewString()

	_, err := svc.CreditOrder(ctx, domain.OrderCompleted{UserID: userID, OrderID: "A", Points: 100, CompletedAt: start})
	require.NoError(t, err)
	env.Clock.Set(start.AddDate(0, 1, 0))
	_, err = svc.CreditOrder(ctx, domain.OrderCompleted{UserID: userID, OrderID: "B", Points: 50, CompletedAt: env.Clock.Now()})
	require.NoError(t, err)
	env.Clock.Set(start.AddDate(0, 2, 0))
	_, err = svc.Append(ctx, domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindCorrection, Points: -120})
	require.NoError(t, err)

	seq := svc.EntriesExpiringBetween(ctx, userID, start.AddDate(0, 11, 0), start.AddDate(0, 14, 0))

	collect := func() []domain.ExpiringLot {
		var out []domain.ExpiringLot
		for lot, err := range seq {
			require.NoError(t, err)
			out = append(out, lot)
		}
		return out
	}

	lots := collect()
	require.Len(t, lots, 1)
	assert.Equal(t, "B", *lots[0].SourceOrderID)
	assert.Equal(t, int64(50), lots[0].Points)
	assert.Equal(t, int64(30), lots[0].Remaining)

	// Ranging again re-reads the ledger.
	assert.Equal(t, lots, collect())
}

func TestEntriesExpiringBetweenSurfacesErrors(t *testing.T) {
	svc, _ := newTestService(t)
	for _, err := range svc.EntriesExpiringBetween(context.Background(), "bad", start, start.AddDate(1, 0, 0)) {
		assert.ErrorIs(t, err, domain.ErrInvalidUser)
	}
}

func TestAppendRedemptionRequiresBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.NewString()

	_, err := svc.Append(ctx, domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindBonus, Points: 100})
	require.NoError(t, err)

	_, err = svc.Append(ctx, domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindRedemption, Points: -5000})
	assert.ErrorIs(t, err, domain.ErrInsufficientPoints)

	balance, err := svc.BalanceAsOf(ctx, userID, start)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	_, err = svc.Append(ctx, domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindRedemption, Points: -100})
	require.NoError(t, err)
	balance, err = svc.BalanceAsOf(ctx, userID, start)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestAppendRedemptionIgnoresLapsedPoints(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	userID := uuid.NewString()

	_, err := svc.Append(ctx, domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindBonus, Points: 100})
	require.NoError(t, err)

	env.Clock.Set(start.AddDate(1, 0, 1))
	_, err = svc.Append(ctx, domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindRedemption, Points: -50})
	assert.ErrorIs(t, err, domain.ErrInsufficientPoints)

	history, err := svc.History(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAppendRedemptionReplayReturnsExistingEntry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.NewString()

	_, err := svc.Append(ctx, domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindBonus, Points: 100})
	require.NoError(t, err)

	debit := domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindRedemption, Points: -100, IdempotencyKey: strPtr("redemption:42")}
	first, err := svc.Append(ctx, debit)
	require.NoError(t, err)
	require.True(t, first.Inserted)

	second, err := svc.Append(ctx, debit)
	require.NoError(t, err)
	assert.False(t, second.Inserted)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
}

func TestNegativeCorrectionExpiresDueLotsFirst(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	userID := uuid.NewString()

	lapsed, err := svc.Append(ctx, domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindBonus, Points: 100})
	require.NoError(t, err)
	env.Clock.Set(start.AddDate(0, 6, 0))
	_, err = svc.Append(ctx, domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindBonus, Points: 50})
	require.NoError(t, err)

	asOf := start.AddDate(1, 0, 1)
	env.Clock.Set(asOf)
	_, err = svc.Append(ctx, domain.PointsLedgerEntry{UserID: userID, Kind: domain.KindCorrection, Points: -30})
	require.NoError(t, err)

	history, err := svc.History(ctx, userID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, domain.KindExpiry, history[2].Kind)
	assert.Equal(t, int64(-100), history[2].Points)
	require.NotNil(t, history[2].OffsetsEntryID)
	assert.Equal(t, lapsed.Entry.ID, *history[2].OffsetsEntryID)
	assert.Equal(t, domain.KindCorrection, history[3].Kind)
	assert.Greater(t, history[3].ID, history[2].ID)

	// A later sweep finds nothing left to offset for the lapsed lot.
	var again domain.ExpireResult
	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		again, err = svc.ExpireDueTx(ctx, tx, userID, asOf)
		return err
	}))
	assert.Zero(t, again.Lots)

	balance, err := svc.BalanceAsOf(ctx, userID, asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)

	lots, err := svc.LotsTx(ctx, env.DB, userID)
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.Equal(t, int64(20), lots[1].Remaining)
}
