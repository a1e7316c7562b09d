package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/events"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"github.com/smallbiznis/loyalty/internal/points/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Rules      *config.RulesHolder
	Repo       domain.Repository
	Accounts   accountdomain.Repository
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	rules      *config.RulesHolder
	repo       domain.Repository
	accounts   accountdomain.Repository
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("points.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		rules:      p.Rules,
		repo:       p.Repo,
		accounts:   p.Accounts,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Append(ctx context.Context, entry domain.PointsLedgerEntry) (domain.AppendResult, error) {
	if err := domain.ValidateUserID(entry.UserID); err != nil {
		return domain.AppendResult{}, err
	}

	var result domain.AppendResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.accounts.Lock(ctx, tx, entry.UserID, s.clock.Now()); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		var err error
		result, err = s.AppendTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		return domain.AppendResult{}, err
	}
	return result, nil
}

func (s *Service) AppendTx(ctx context.Context, tx *gorm.DB, entry domain.PointsLedgerEntry) (domain.AppendResult, error) {
	if tx == nil {
		return domain.AppendResult{}, errors.New("missing_transaction")
	}
	normalized := s.normalize(entry)
	if err := domain.ValidateEntry(normalized); err != nil {
		return domain.AppendResult{}, err
	}
	if normalized.Spends() {
		existing, err := s.guardSpend(ctx, tx, normalized)
		if err != nil {
			return domain.AppendResult{}, err
		}
		if existing != nil {
			return domain.AppendResult{Entry: *existing}, nil
		}
		if entry.ID == 0 {
			// Recorded after the expiries guardSpend appended.
			normalized.ID = s.genID.Generate()
		}
	}

	inserted, err := s.repo.Insert(ctx, tx, &normalized)
	if err != nil {
		return domain.AppendResult{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	if !inserted {
		if normalized.IdempotencyKey == nil {
			return domain.AppendResult{}, errors.New("ledger_entry_not_inserted")
		}
		existing, err := s.repo.FindByIdempotencyKey(ctx, tx, normalized.UserID, *normalized.IdempotencyKey)
		if err != nil {
			return domain.AppendResult{}, fmt.Errorf("load ledger entry: %w", err)
		}
		if existing == nil {
			return domain.AppendResult{}, errors.New("ledger_entry_conflict_without_row")
		}
		s.log.Debug("ledger entry already recorded",
			zap.String("user_id", existing.UserID),
			zap.String("idempotency_key", *normalized.IdempotencyKey),
		)
		return domain.AppendResult{Entry: *existing}, nil
	}

	if s.outbox != nil {
		if err := s.outbox.PublishTx(ctx, tx, ledgerEvent(normalized)); err != nil {
			return domain.AppendResult{}, fmt.Errorf("publish ledger event: %w", err)
		}
	}
	s.obsMetrics.RecordLedgerEntry(ctx, string(normalized.Kind), normalized.Points)

	return domain.AppendResult{Entry: normalized, Inserted: true}, nil
}

// guardSpend expires lots already due before a spending entry lands, so the
// spend never draws on points that have lapsed. Redemptions must also be
// covered by the balance. A replayed idempotency key returns its entry.
func (s *Service) guardSpend(ctx context.Context, tx *gorm.DB, entry domain.PointsLedgerEntry) (*domain.PointsLedgerEntry, error) {
	if entry.IdempotencyKey != nil {
		existing, err := s.repo.FindByIdempotencyKey(ctx, tx, entry.UserID, *entry.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("load ledger entry: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	if _, err := s.ExpireDueTx(ctx, tx, entry.UserID, entry.CreatedAt); err != nil {
		return nil, err
	}
	if entry.Kind != domain.KindRedemption {
		return nil, nil
	}
	balance, err := s.BalanceAsOfTx(ctx, tx, entry.UserID, entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	if balance+entry.Points < 0 {
		return nil, domain.ErrInsufficientPoints
	}
	return nil, nil
}

func (s *Service) ExpireDueTx(ctx context.Context, tx *gorm.DB, userID string, asOf time.Time) (domain.ExpireResult, error) {
	var result domain.ExpireResult
	lots, err := s.LotsTx(ctx, tx, userID)
	if err != nil {
		return result, err
	}

	for _, lot := range domain.DueForExpiry(lots, asOf) {
		lotID := lot.Entry.ID
		key := domain.ExpiryKey(lotID)
		res, err := s.AppendTx(ctx, tx, domain.PointsLedgerEntry{
			UserID:         userID,
			Kind:           domain.KindExpiry,
			Points:         -lot.Remaining,
			OffsetsEntryID: &lotID,
			IdempotencyKey: &key,
			Description:    "Expired points from " + lot.Expiring().Source(),
		})
		if err != nil {
			return result, fmt.Errorf("append expiry for lot %s: %w", lotID, err)
		}
		if !res.Inserted {
			continue
		}
		result.Lots++
		result.Points += lot.Remaining
	}
	return result, nil
}

func (s *Service) normalize(entry domain.PointsLedgerEntry) domain.PointsLedgerEntry {
	now := s.clock.Now()
	entry.UserID = strings.TrimSpace(entry.UserID)
	entry.Description = strings.TrimSpace(entry.Description)
	if entry.ID == 0 {
		entry.ID = s.genID.Generate()
	}
	entry.CreatedAt = now

	if entry.SourceOrderID != nil {
		orderID := strings.TrimSpace(*entry.SourceOrderID)
		if orderID == "" {
			entry.SourceOrderID = nil
		} else {
			entry.SourceOrderID = &orderID
		}
	}
	if entry.IdempotencyKey != nil && strings.TrimSpace(*entry.IdempotencyKey) == "" {
		entry.IdempotencyKey = nil
	}
	if entry.IdempotencyKey == nil && entry.Kind == domain.KindPurchase && entry.SourceOrderID != nil {
		key := domain.PurchaseKey(*entry.SourceOrderID)
		entry.IdempotencyKey = &key
	}

	if entry.Points > 0 {
		earnedAt := now
		if entry.EarnedAt != nil && !entry.EarnedAt.IsZero() {
			earnedAt = entry.EarnedAt.UTC()
		}
		expiresAt := earnedAt.AddDate(0, s.rules.Get().PointsTTLMonths, 0)
		entry.EarnedAt = &earnedAt
		entry.ExpiresAt = &expiresAt
	} else {
		entry.EarnedAt = nil
		entry.ExpiresAt = nil
	}
	return entry
}

func ledgerEvent(entry domain.PointsLedgerEntry) events.Event {
	eventType := events.TypePointsCredited
	if entry.Points <= 0 {
		eventType = events.TypePointsDebited
	}
	payload := map[string]any{
		"entry_id": entry.ID.String(),
		"kind":     string(entry.Kind),
		"points":   entry.Points,
	}
	if entry.ExpiresAt != nil {
		payload["expires_at"] = entry.ExpiresAt.Format(time.RFC3339)
	}
	if entry.SourceOrderID != nil {
		payload["order_id"] = *entry.SourceOrderID
	}
	return events.Event{
		UserID:    entry.UserID,
		Type:      eventType,
		Payload:   payload,
		DedupeKey: "ledger:" + entry.ID.String(),
	}
}

func (s *Service) CreditOrder(ctx context.Context, order domain.OrderCompleted) (domain.AppendResult, error) {
	orderID := strings.TrimSpace(order.OrderID)
	if orderID == "" {
		return domain.AppendResult{}, &domain.ValidationError{Field: "order_id", Reason: "is required"}
	}
	if order.CompletedAt.IsZero() {
		order.CompletedAt = s.clock.Now()
	}
	completedAt := order.CompletedAt.UTC()
	key := domain.PurchaseKey(orderID)

	return s.Append(ctx, domain.PointsLedgerEntry{
		UserID:         order.UserID,
		Points:         order.Points,
		Kind:           domain.KindPurchase,
		EarnedAt:       &completedAt,
		SourceOrderID:  &orderID,
		OrderValue:     order.OrderValue,
		IdempotencyKey: &key,
		Description:    "Order " + orderID,
	})
}

func (s *Service) BalanceAsOf(ctx context.Context, userID string, instant time.Time) (int64, error) {
	return s.BalanceAsOfTx(ctx, s.db, userID, instant)
}

func (s *Service) BalanceAsOfTx(ctx context.Context, tx *gorm.DB, userID string, instant time.Time) (int64, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return 0, err
	}
	entries, err := s.repo.ListByUser(ctx, tx, userID)
	if err != nil {
		return 0, fmt.Errorf("list ledger entries: %w", err)
	}
	return domain.Balance(entries, instant), nil
}

// EntriesExpiringBetween reads the ledger each time the sequence is ranged.
func (s *Service) EntriesExpiringBetween(ctx context.Context, userID string, from, to time.Time) iter.Seq2[domain.ExpiringLot, error] {
	return func(yield func(domain.ExpiringLot, error) bool) {
		lots, err := s.LotsTx(ctx, s.db, userID)
		if err != nil {
			yield(domain.ExpiringLot{}, err)
			return
		}
		for _, lot := range domain.ExpiringBetween(lots, from, to) {
			if !yield(lot, nil) {
				return
			}
		}
	}
}

func (s *Service) LotsTx(ctx context.Context, tx *gorm.DB, userID string) ([]domain.Lot, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListByUser(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return domain.Attribute(entries), nil
}

func (s *Service) History(ctx context.Context, userID string) ([]domain.PointsLedgerEntry, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListByUser(ctx, s.db, userID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}
