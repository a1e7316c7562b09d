package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/expiry/domain"
	pointsdomain "github.com/smallbiznis/loyalty/internal/points/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const accountPageSize = 200

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Ledger   pointsdomain.Service
	Accounts accountdomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	ledger   pointsdomain.Service
	accounts accountdomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("expiry.service"),
		clock:    p.Clock,
		ledger:   p.Ledger,
		accounts: p.Accounts,
	}
}

// UpcomingExpiries anchors the window at the time the sequence is ranged,
// so a stored sequence always reflects the current ledger.
func (s *Service) UpcomingExpiries(ctx context.Context, userID string, lookaheadDays int) iter.Seq2[domain.Projection, error] {
	return func(yield func(domain.Projection, error) bool) {
		if lookaheadDays < 0 {
			yield(domain.Projection{}, &pointsdomain.ValidationError{Field: "lookahead_days", Reason: "must not be negative"})
			return
		}
		now := s.clock.Now()
		until := now.AddDate(0, 0, lookaheadDays)

		var lots []pointsdomain.ExpiringLot
		for lot, err := range s.ledger.EntriesExpiringBetween(ctx, userID, now, until) {
			if err != nil {
				yield(domain.Projection{}, err)
				return
			}
			lots = append(lots, lot)
		}

		for _, projection := range domain.Group(lots) {
			if !yield(projection, nil) {
				return
			}
		}
	}
}

func (s *Service) MaterializeExpiry(ctx context.Context, userID string, asOf time.Time) (domain.MaterializeResult, error) {
	if err := pointsdomain.ValidateUserID(userID); err != nil {
		return domain.MaterializeResult{}, err
	}

	var result domain.MaterializeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.accounts.Lock(ctx, tx, userID, s.clock.Now()); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		var err error
		result, err = s.MaterializeExpiryTx(ctx, tx, userID, asOf)
		return err
	})
	if err != nil {
		return domain.MaterializeResult{}, err
	}
	return result, nil
}

func (s *Service) MaterializeExpiryTx(ctx context.Context, tx *gorm.DB, userID string, asOf time.Time) (domain.MaterializeResult, error) {
	result := domain.MaterializeResult{UserID: userID}

	expired, err := s.ledger.ExpireDueTx(ctx, tx, userID, asOf)
	if err != nil {
		return result, err
	}
	result.Materialized = expired.Lots
	result.PointsExpired = expired.Points

	if result.Materialized > 0 {
		s.log.Info("points expired",
			zap.String("user_id", userID),
			zap.Int("lots", result.Materialized),
			zap.Int64("points", result.PointsExpired),
			zap.Time("as_of", asOf),
		)
	}
	return result, nil
}

// MaterializeAll runs one transaction per account and keeps going past
// per-user failures, returning them joined.
func (s *Service) MaterializeAll(ctx context.Context, asOf time.Time) (domain.BatchResult, error) {
	var (
		batch domain.BatchResult
		errs  []error
		after string
	)
	for {
		if err := ctx.Err(); err != nil {
			return batch, errors.Join(append(errs, err)...)
		}
		userIDs, err := s.accounts.ListUserIDs(ctx, s.db, after, accountPageSize)
		if err != nil {
			return batch, errors.Join(append(errs, fmt.Errorf("list accounts: %w", err))...)
		}
		if len(userIDs) == 0 {
			break
		}
		for _, userID := range userIDs {
			batch.Accounts++
			res, err := s.MaterializeExpiry(ctx, userID, asOf)
			if err != nil {
				s.log.Warn("materialize expiry failed", zap.String("user_id", userID), zap.Error(err))
				errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
				continue
			}
			batch.Materialized += res.Materialized
			batch.PointsExpired += res.PointsExpired
		}
		after = userIDs[len(userIDs)-1]
	}
	return batch, errors.Join(errs...)
}
