package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/events"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	pointsdomain "github.com/smallbiznis/loyalty/internal/points/domain"
	"github.com/smallbiznis/loyalty/internal/reconcile/domain"
	"github.com/smallbiznis/loyalty/pkg/db"
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
	Repo       domain.Repository
	Ledger     pointsdomain.Service
	Accounts   accountdomain.Repository
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	ledger     pointsdomain.Service
	accounts   accountdomain.Repository
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reconcile.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		ledger:     p.Ledger,
		accounts:   p.Accounts,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Report(ctx context.Context, userID, orderID string, expectedPoints int64, reason string) (domain.MissingPointsReport, error) {
	if err := pointsdomain.ValidateUserID(userID); err != nil {
		return domain.MissingPointsReport{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.MissingPointsReport{}, domain.ErrInvalidOrderID
	}
	if expectedPoints <= 0 {
		return domain.MissingPointsReport{}, domain.ErrInvalidExpectedPoints
	}

	now := s.clock.Now()
	report := domain.MissingPointsReport{
		ID:             s.genID.Generate(),
		UserID:         userID,
		OrderID:        orderID,
		ExpectedPoints: expectedPoints,
		Reason:         strings.TrimSpace(reason),
		Status:         domain.StatusReported,
		ReportedAt:     now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.accounts.Lock(ctx, tx, userID, now); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		open, err := s.repo.FindOpen(ctx, tx, userID, orderID)
		if err != nil {
			return err
		}
		if open != nil {
			return domain.ErrDuplicateReport
		}
		if err := s.repo.Insert(ctx, tx, &report); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateReport
			}
			return fmt.Errorf("insert report: %w", err)
		}
		return s.publish(ctx, tx, report)
	})
	if err != nil {
		return domain.MissingPointsReport{}, err
	}

	s.obsMetrics.RecordReportTransition(ctx, string(report.Status))
	s.log.Info("missing points reported",
		zap.String("report_id", report.ID.String()),
		zap.String("user_id", userID),
		zap.String("order_id", orderID),
		zap.Int64("expected_points", expectedPoints),
	)
	return report, nil
}

func (s *Service) BeginInvestigation(ctx context.Context, reportID snowflake.ID) (domain.MissingPointsReport, error) {
	return s.advance(ctx, reportID, domain.StatusReported, domain.StatusInvestigating, nil)
}

func (s *Service) Resolve(ctx context.Context, reportID snowflake.ID, creditedPoints int64, note string) (domain.MissingPointsReport, error) {
	if creditedPoints <= 0 {
		return domain.MissingPointsReport{}, domain.ErrInvalidCreditedPoints
	}
	return s.advance(ctx, reportID, domain.StatusInvestigating, domain.StatusResolved, func(tx *gorm.DB, report *domain.MissingPointsReport, t *domain.Transition) error {
		key := pointsdomain.CorrectionKey(report.ID)
		orderID := report.OrderID
		res, err := s.ledger.AppendTx(ctx, tx, pointsdomain.PointsLedgerEntry{
			UserID:         report.UserID,
			Kind:           pointsdomain.KindCorrection,
			Points:         creditedPoints,
			SourceOrderID:  &orderID,
			IdempotencyKey: &key,
			Description:    "Missing points for order " + orderID,
		})
		if err != nil {
			return fmt.Errorf("append correction: %w", err)
		}
		entryID := res.Entry.ID
		t.CreditedPoints = creditedPoints
		t.CorrectionEntryID = &entryID
		t.Resolution = strings.TrimSpace(note)
		return nil
	})
}

func (s *Service) Reject(ctx context.Context, reportID snowflake.ID, note string) (domain.MissingPointsReport, error) {
	return s.advance(ctx, reportID, domain.StatusInvestigating, domain.StatusRejected, func(_ *gorm.DB, _ *domain.MissingPointsReport, t *domain.Transition) error {
		t.Resolution = strings.TrimSpace(note)
		return nil
	})
}

// advance runs one report transition under the owner's account lock. Any
// status other than from fails with ErrInvalidStateTransition.
func (s *Service) advance(
	ctx context.Context,
	reportID snowflake.ID,
	from, to domain.Status,
	apply func(tx *gorm.DB, report *domain.MissingPointsReport, t *domain.Transition) error,
) (domain.MissingPointsReport, error) {
	var report domain.MissingPointsReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockReport(ctx, tx, reportID)
		if err != nil {
			return err
		}
		if current.Status != from {
			return domain.ErrInvalidStateTransition
		}

		t := domain.Transition{From: from, To: to, At: s.clock.Now()}
		if apply != nil {
			if err := apply(tx, current, &t); err != nil {
				return err
			}
		}
		ok, err := s.repo.Advance(ctx, tx, current.ID, t)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidStateTransition
		}

		current.Status = to
		switch to {
		case domain.StatusInvestigating:
			current.InvestigationStartedAt = &t.At
		case domain.StatusResolved, domain.StatusRejected:
			current.ResolvedAt = &t.At
			current.CreditedPoints = t.CreditedPoints
			current.CorrectionEntryID = t.CorrectionEntryID
			current.Resolution = t.Resolution
		}
		report = *current
		return s.publish(ctx, tx, report)
	})
	if err != nil {
		return domain.MissingPointsReport{}, err
	}

	s.obsMetrics.RecordReportTransition(ctx, string(to))
	s.log.Info("missing points report advanced",
		zap.String("report_id", report.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int64("credited_points", report.CreditedPoints),
	)
	return report, nil
}

func (s *Service) lockReport(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.MissingPointsReport, error) {
	found, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, domain.ErrReportNotFound
	}
	if _, err := s.accounts.Lock(ctx, tx, found.UserID, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	current, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrReportNotFound
	}
	return current, nil
}

func (s *Service) publish(ctx context.Context, tx *gorm.DB, report domain.MissingPointsReport) error {
	if s.outbox == nil {
		return nil
	}
	eventType := events.TypeReportPrefix + string(report.Status)
	payload := map[string]any{
		"report_id":       report.ID.String(),
		"order_id":        report.OrderID,
		"expected_points": report.ExpectedPoints,
		"status":          string(report.Status),
	}
	if report.Status == domain.StatusResolved {
		payload["credited_points"] = report.CreditedPoints
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		UserID:    report.UserID,
		Type:      eventType,
		Payload:   payload,
		DedupeKey: eventType + ":" + report.ID.String(),
	})
}

func (s *Service) Get(ctx context.Context, reportID snowflake.ID) (domain.MissingPointsReport, error) {
	found, err := s.repo.FindByID(ctx, s.db, reportID)
	if err != nil {
		return domain.MissingPointsReport{}, err
	}
	if found == nil {
		return domain.MissingPointsReport{}, domain.ErrReportNotFound
	}
	return *found, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.MissingPointsReport, error) {
	if err := pointsdomain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	return s.repo.ListByUser(ctx, s.db, userID)
}
