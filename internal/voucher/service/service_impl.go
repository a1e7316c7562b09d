package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/events"
	expirydomain "github.com/smallbiznis/loyalty/internal/expiry/domain"
	"github.com/smallbiznis/loyalty/internal/money"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	pointsdomain "github.com/smallbiznis/loyalty/internal/points/domain"
	tierdomain "github.com/smallbiznis/loyalty/internal/tier/domain"
	"github.com/smallbiznis/loyalty/internal/voucher/domain"
	"github.com/smallbiznis/loyalty/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const expiryPageSize = 200

// TierReader is the slice of the tier service redemption gating needs.
type TierReader interface {
	Current(ctx context.Context, userID string) (tierdomain.TierStatus, error)
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Rules      *config.RulesHolder
	Repo       domain.Repository
	Ledger     pointsdomain.Service
	Expiry     expirydomain.Service
	Tiers      TierReader
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
	ledger     pointsdomain.Service
	expiry     expirydomain.Service
	tiers      TierReader
	accounts   accountdomain.Repository
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("voucher.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		rules:      p.Rules,
		repo:       p.Repo,
		ledger:     p.Ledger,
		expiry:     p.Expiry,
		tiers:      p.Tiers,
		accounts:   p.Accounts,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

// ProvideTierReader exposes the tier service as a TierReader.
func ProvideTierReader(svc tierdomain.Service) TierReader {
	return svc
}

func (s *Service) Catalog() []domain.CatalogEntry {
	rules := s.rules.Catalog()
	out := make([]domain.CatalogEntry, 0, len(rules))
	for _, r := range rules {
		out = append(out, domain.CatalogEntry{
			ID:           r.ID,
			Title:        r.Title,
			PointsCost:   r.PointsCost,
			FaceValue:    r.FaceValue,
			MinimumOrder: r.MinimumOrder,
			MinimumTier:  r.MinimumTier,
		})
	}
	return out
}

func (s *Service) catalogEntry(id string) (domain.CatalogEntry, bool) {
	id = strings.TrimSpace(id)
	for _, entry := range s.Catalog() {
		if entry.ID == id {
			return entry, true
		}
	}
	return domain.CatalogEntry{}, false
}

func (s *Service) Redeem(ctx context.Context, userID, catalogEntryID string) (domain.Voucher, error) {
	voucher, err := s.redeem(ctx, userID, catalogEntryID)
	if err != nil {
		s.obsMetrics.RecordRedemptionFailure(ctx, catalogEntryID, redemptionFailureReason(err))
		return domain.Voucher{}, err
	}
	s.obsMetrics.RecordRedemption(ctx, voucher.CatalogEntryID)
	return voucher, nil
}

func (s *Service) redeem(ctx context.Context, userID, catalogEntryID string) (domain.Voucher, error) {
	if err := pointsdomain.ValidateUserID(userID); err != nil {
		return domain.Voucher{}, err
	}
	entry, ok := s.catalogEntry(catalogEntryID)
	if !ok {
		return domain.Voucher{}, domain.ErrCatalogEntryNotFound
	}
	if err := s.checkTier(ctx, userID, entry); err != nil {
		return domain.Voucher{}, err
	}

	now := s.clock.Now()
	voucherID := s.genID.Generate()
	key := pointsdomain.RedemptionKey(voucherID)

	var voucher domain.Voucher
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.accounts.Lock(ctx, tx, userID, now); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		if _, err := s.expiry.MaterializeExpiryTx(ctx, tx, userID, now); err != nil {
			return fmt.Errorf("materialize expiry: %w", err)
		}

		balance, err := s.ledger.BalanceAsOfTx(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if balance < entry.PointsCost {
			return pointsdomain.ErrInsufficientPoints
		}

		debit, err := s.ledger.AppendTx(ctx, tx, pointsdomain.PointsLedgerEntry{
			UserID:         userID,
			Kind:           pointsdomain.KindRedemption,
			Points:         -entry.PointsCost,
			IdempotencyKey: &key,
			Description:    "Redeemed " + entry.ID,
		})
		if err != nil {
			return fmt.Errorf("append redemption: %w", err)
		}

		voucher = domain.Voucher{
			ID:             voucherID,
			UserID:         userID,
			CatalogEntryID: entry.ID,
			FaceValue:      entry.FaceValue,
			PointsCost:     entry.PointsCost,
			MinimumOrder:   entry.MinimumOrder,
			Status:         domain.StatusActive,
			IssuedAt:       now,
			ExpiresAt:      now.AddDate(0, 0, s.rules.Get().VoucherTTLDays),
			LedgerEntryID:  debit.Entry.ID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.Insert(ctx, tx, &voucher); err != nil {
			return fmt.Errorf("insert voucher: %w", err)
		}
		return s.publish(ctx, tx, voucher, events.TypeVoucherIssued)
	})
	if err != nil {
		return domain.Voucher{}, err
	}

	s.log.Info("voucher redeemed",
		zap.String("user_id", userID),
		zap.String("voucher_id", voucher.ID.String()),
		zap.String("catalog_entry_id", entry.ID),
		zap.Int64("points_cost", entry.PointsCost),
	)
	return voucher, nil
}

func (s *Service) checkTier(ctx context.Context, userID string, entry domain.CatalogEntry) error {
	if entry.MinimumTier == "" || s.tiers == nil {
		return nil
	}
	required, ok := tierdomain.ParseTier(entry.MinimumTier)
	if !ok {
		return nil
	}
	status, err := s.tiers.Current(ctx, userID)
	if err != nil {
		return fmt.Errorf("load tier: %w", err)
	}
	if status.Tier.Rank() < required.Rank() {
		return domain.ErrTierNotEligible
	}
	return nil
}

func redemptionFailureReason(err error) string {
	switch {
	case errors.Is(err, pointsdomain.ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, domain.ErrCatalogEntryNotFound):
		return "catalog_entry_not_found"
	case errors.Is(err, domain.ErrTierNotEligible):
		return "tier_not_eligible"
	case errors.Is(err, pointsdomain.ErrInvalidUser):
		return "invalid_user"
	default:
		return "internal"
	}
}

// ApplyToOrder checks status, then expiry, then minimum order. An expired
// voucher is moved to expired and that change is kept even though the call
// fails with ErrVoucherExpired.
func (s *Service) ApplyToOrder(ctx context.Context, voucherID snowflake.ID, orderID string, orderSubtotal money.Amount) (domain.Voucher, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" || orderSubtotal < 0 {
		return domain.Voucher{}, domain.ErrInvalidOrder
	}

	var (
		voucher domain.Voucher
		expired bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockVoucher(ctx, tx, voucherID)
		if err != nil {
			return err
		}
		if current.Status != domain.StatusActive {
			return domain.ErrVoucherNotActive
		}

		now := s.clock.Now()
		if now.After(current.ExpiresAt) {
			if err := s.transition(ctx, tx, current, domain.Transition{To: domain.StatusExpired, At: now}); err != nil {
				return err
			}
			expired = true
			voucher = *current
			return nil
		}

		if orderSubtotal < current.MinimumOrder {
			return domain.ErrMinimumOrderNotMet
		}
		if existing, err := s.repo.FindByOrderID(ctx, tx, orderID); err != nil {
			return err
		} else if existing != nil {
			return domain.ErrOrderAlreadyHasVoucher
		}

		err = s.transition(ctx, tx, current, domain.Transition{To: domain.StatusUsed, At: now, UsedInOrderID: &orderID})
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrOrderAlreadyHasVoucher
		}
		if err != nil {
			return err
		}
		voucher = *current
		return nil
	})
	if err != nil {
		return domain.Voucher{}, err
	}
	if expired {
		return voucher, domain.ErrVoucherExpired
	}
	return voucher, nil
}

func (s *Service) Cancel(ctx context.Context, voucherID snowflake.ID) (domain.Voucher, error) {
	var voucher domain.Voucher
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockVoucher(ctx, tx, voucherID)
		if err != nil {
			return err
		}
		if current.Status != domain.StatusActive {
			return domain.ErrInvalidStateTransition
		}
		if err := s.transition(ctx, tx, current, domain.Transition{To: domain.StatusCancelled, At: s.clock.Now()}); err != nil {
			return err
		}
		voucher = *current
		return nil
	})
	if err != nil {
		return domain.Voucher{}, err
	}
	return voucher, nil
}

// ExpireStaleVouchers moves due active vouchers to expired, one transaction
// per voucher. Points are not refunded.
func (s *Service) ExpireStaleVouchers(ctx context.Context, asOf time.Time) (int, error) {
	var (
		count   int
		errs    []error
		afterID snowflake.ID
	)
	for {
		if err := ctx.Err(); err != nil {
			return count, errors.Join(append(errs, err)...)
		}
		due, err := s.repo.ListDueForExpiry(ctx, s.db, asOf, afterID, expiryPageSize)
		if err != nil {
			return count, errors.Join(append(errs, fmt.Errorf("list due vouchers: %w", err))...)
		}
		if len(due) == 0 {
			break
		}
		for _, v := range due {
			expired, err := s.expireOne(ctx, v.ID, asOf)
			if err != nil {
				s.log.Warn("voucher expiry failed", zap.String("voucher_id", v.ID.String()), zap.Error(err))
				errs = append(errs, fmt.Errorf("voucher %s: %w", v.ID, err))
				continue
			}
			if expired {
				count++
			}
		}
		afterID = due[len(due)-1].ID
	}

	if count > 0 {
		s.log.Info("vouchers expired", zap.Int("count", count), zap.Time("as_of", asOf))
	}
	return count, errors.Join(errs...)
}

// expireOne stamps ExpiredAt with the sweep's asOf, not the wall clock.
func (s *Service) expireOne(ctx context.Context, id snowflake.ID, asOf time.Time) (bool, error) {
	expired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockVoucher(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status != domain.StatusActive || current.ExpiresAt.After(asOf) {
			return nil
		}
		if err := s.transition(ctx, tx, current, domain.Transition{To: domain.StatusExpired, At: asOf}); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}

// lockVoucher takes the owner's account lock and returns a fresh read.
func (s *Service) lockVoucher(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Voucher, error) {
	found, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, domain.ErrVoucherNotFound
	}
	if _, err := s.accounts.Lock(ctx, tx, found.UserID, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	current, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrVoucherNotFound
	}
	return current, nil
}

// transition applies t to v in place and publishes the matching event.
func (s *Service) transition(ctx context.Context, tx *gorm.DB, v *domain.Voucher, t domain.Transition) error {
	ok, err := s.repo.TransitionFromActive(ctx, tx, v.ID, t)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidStateTransition
	}

	v.Status = t.To
	v.UpdatedAt = t.At
	eventType := ""
	switch t.To {
	case domain.StatusUsed:
		v.UsedAt = &t.At
		v.UsedInOrderID = t.UsedInOrderID
		eventType = events.TypeVoucherUsed
	case domain.StatusExpired:
		v.ExpiredAt = &t.At
		eventType = events.TypeVoucherExpired
	case domain.StatusCancelled:
		v.CancelledAt = &t.At
		eventType = events.TypeVoucherCancelled
	}
	s.obsMetrics.RecordVoucherTransition(ctx, string(t.To), 1)
	return s.publish(ctx, tx, *v, eventType)
}

func (s *Service) publish(ctx context.Context, tx *gorm.DB, v domain.Voucher, eventType string) error {
	if s.outbox == nil {
		return nil
	}
	payload := map[string]any{
		"voucher_id":       v.ID.String(),
		"catalog_entry_id": v.CatalogEntryID,
		"face_value":       v.FaceValue.String(),
		"status":           string(v.Status),
		"expires_at":       v.ExpiresAt.Format(time.RFC3339),
	}
	if v.UsedInOrderID != nil {
		payload["order_id"] = *v.UsedInOrderID
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		UserID:    v.UserID,
		Type:      eventType,
		Payload:   payload,
		DedupeKey: eventType + ":" + v.ID.String(),
	})
}

func (s *Service) Get(ctx context.Context, voucherID snowflake.ID) (domain.Voucher, error) {
	found, err := s.repo.FindByID(ctx, s.db, voucherID)
	if err != nil {
		return domain.Voucher{}, err
	}
	if found == nil {
		return domain.Voucher{}, domain.ErrVoucherNotFound
	}
	return *found, nil
}

func (s *Service) List(ctx context.Context, userID string, filter domain.ListFilter) ([]domain.Voucher, error) {
	if err := pointsdomain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	return s.repo.ListByUser(ctx, s.db, userID, filter)
}
