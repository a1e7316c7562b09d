package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/events"
	"github.com/smallbiznis/loyalty/internal/money"
	pointsdomain "github.com/smallbiznis/loyalty/internal/points/domain"
	"github.com/smallbiznis/loyalty/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const accountPageSize = 200

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Rules    *config.RulesHolder
	Repo     domain.Repository
	Ledger   pointsdomain.Service
	Accounts accountdomain.Repository
	Outbox   *events.Outbox `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	rules    *config.RulesHolder
	repo     domain.Repository
	ledger   pointsdomain.Service
	accounts accountdomain.Repository
	outbox   *events.Outbox
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("tier.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		rules:    p.Rules,
		repo:     p.Repo,
		ledger:   p.Ledger,
		accounts: p.Accounts,
		outbox:   p.Outbox,
	}
}

// RollingSpend sums purchase order values over (asOf - window, asOf].
func (s *Service) RollingSpend(ctx context.Context, userID string, asOf time.Time) (money.Amount, error) {
	entries, err := s.ledger.History(ctx, userID)
	if err != nil {
		return 0, err
	}
	from := asOf.AddDate(0, 0, -s.rules.Get().SpendWindowDays)

	var spend money.Amount
	for _, e := range entries {
		if e.Kind != pointsdomain.KindPurchase || e.Points <= 0 {
			continue
		}
		at := e.EffectiveAt()
		if !at.After(from) || at.After(asOf) {
			continue
		}
		spend += e.OrderValue
	}
	return spend, nil
}

func (s *Service) TierFor(spend money.Amount) domain.Tier {
	rules := s.rules.Get()
	return domain.TierFor(spend, rules.SilverAbove, rules.GoldAbove)
}

func (s *Service) Recompute(ctx context.Context, userID string) (domain.TierStatus, error) {
	if err := pointsdomain.ValidateUserID(userID); err != nil {
		return domain.TierStatus{}, err
	}
	now := s.clock.Now()
	spend, err := s.RollingSpend(ctx, userID, now)
	if err != nil {
		return domain.TierStatus{}, err
	}
	computed := s.TierFor(spend)
	period := domain.PeriodOf(now)

	var status domain.TierStatus
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.accounts.Lock(ctx, tx, userID, now); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		displayed := domain.TierBronze
		if latest, err := s.repo.Latest(ctx, tx, userID); err != nil {
			return err
		} else if latest != nil {
			displayed = latest.Tier
		}

		final := computed
		previous, err := s.repo.LatestBefore(ctx, tx, userID, period)
		if err != nil {
			return err
		}
		if previous != nil {
			final = domain.Dampen(previous.Tier, computed)
		}

		status = domain.TierStatus{
			ID:           s.genID.Generate(),
			UserID:       userID,
			Period:       period,
			Tier:         final,
			ComputedTier: computed,
			RollingSpend: spend,
			ComputedAt:   now,
		}
		if err := s.repo.Upsert(ctx, tx, &status); err != nil {
			return fmt.Errorf("upsert tier status: %w", err)
		}
		// A same-quarter re-run keeps the original row id.
		if stored, err := s.repo.Latest(ctx, tx, userID); err != nil {
			return err
		} else if stored != nil {
			status = *stored
		}

		if final == displayed || s.outbox == nil {
			return nil
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			UserID: userID,
			Type:   events.TypeTierChanged,
			Payload: map[string]any{
				"from":          string(displayed),
				"to":            string(final),
				"period":        period,
				"rolling_spend": spend.String(),
			},
			DedupeKey: fmt.Sprintf("tier:%s:%s:%s", userID, period, final),
		})
	})
	if err != nil {
		return domain.TierStatus{}, err
	}

	s.log.Debug("tier recomputed",
		zap.String("user_id", userID),
		zap.String("period", period),
		zap.String("tier", string(status.Tier)),
		zap.String("computed_tier", string(computed)),
	)
	return status, nil
}

func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	var (
		count int
		errs  []error
		after string
	)
	for {
		if err := ctx.Err(); err != nil {
			return count, errors.Join(append(errs, err)...)
		}
		userIDs, err := s.accounts.ListUserIDs(ctx, s.db, after, accountPageSize)
		if err != nil {
			return count, errors.Join(append(errs, fmt.Errorf("list accounts: %w", err))...)
		}
		if len(userIDs) == 0 {
			break
		}
		for _, userID := range userIDs {
			if _, err := s.Recompute(ctx, userID); err != nil {
				s.log.Warn("tier recompute failed", zap.String("user_id", userID), zap.Error(err))
				errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
				continue
			}
			count++
		}
		after = userIDs[len(userIDs)-1]
	}
	return count, errors.Join(errs...)
}

func (s *Service) Current(ctx context.Context, userID string) (domain.TierStatus, error) {
	if err := pointsdomain.ValidateUserID(userID); err != nil {
		return domain.TierStatus{}, err
	}
	latest, err := s.repo.Latest(ctx, s.db, userID)
	if err != nil {
		return domain.TierStatus{}, err
	}
	if latest == nil {
		return domain.TierStatus{UserID: userID, Tier: domain.TierBronze, ComputedTier: domain.TierBronze}, nil
	}
	return *latest, nil
}
