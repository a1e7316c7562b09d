package domain

import (
	"context"
	"iter"
	"time"

	"gorm.io/gorm"
)

// AppendResult reports the stored entry and whether this call created it.
type AppendResult struct {
	Entry    PointsLedgerEntry
	Inserted bool
}

// ExpireResult counts the expiry entries one pass appended.
type ExpireResult struct {
	Lots   int
	Points int64
}

type Service interface {
	Append(ctx context.Context, entry PointsLedgerEntry) (AppendResult, error)
	// AppendTx joins the caller's transaction. The caller must already hold
	// the user's account lock.
	AppendTx(ctx context.Context, tx *gorm.DB, entry PointsLedgerEntry) (AppendResult, error)
	CreditOrder(ctx context.Context, order OrderCompleted) (AppendResult, error)

	BalanceAsOf(ctx context.Context, userID string, instant time.Time) (int64, error)
	BalanceAsOfTx(ctx context.Context, tx *gorm.DB, userID string, instant time.Time) (int64, error)
	EntriesExpiringBetween(ctx context.Context, userID string, from, to time.Time) iter.Seq2[ExpiringLot, error]
	LotsTx(ctx context.Context, tx *gorm.DB, userID string) ([]Lot, error)
	// ExpireDueTx offsets every lot due at asOf with an expiry entry. The
	// caller must hold the account lock.
	ExpireDueTx(ctx context.Context, tx *gorm.DB, userID string, asOf time.Time) (ExpireResult, error)
	History(ctx context.Context, userID string) ([]PointsLedgerEntry, error)
}
