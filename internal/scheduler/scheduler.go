package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/loyalty/internal/clock"
	expirydomain "github.com/smallbiznis/loyalty/internal/expiry/domain"
	"github.com/smallbiznis/loyalty/internal/lock"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobMaterializeExpiry = "materialize_expiry"
	JobExpireVouchers    = "expire_vouchers"
	JobTierReview        = "tier_review"

	lockKeyPrefix = "loyalty:scheduler:"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type ExpiryMaterializer interface {
	MaterializeAll(ctx context.Context, asOf time.Time) (expirydomain.BatchResult, error)
}

type VoucherSweeper interface {
	ExpireStaleVouchers(ctx context.Context, asOf time.Time) (int, error)
}

type TierReviewer interface {
	RecomputeAll(ctx context.Context) (int, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Expiry   ExpiryMaterializer
	Vouchers VoucherSweeper
	Tiers    TierReviewer
	Locker   lock.Locker
	Config   Config                       `optional:"true"`
	Metrics  *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	expiry   ExpiryMaterializer
	vouchers VoucherSweeper
	tiers    TierReviewer
	locker   lock.Locker
	metrics  *obsmetrics.SchedulerMetrics
	cron     *cron.Cron
}

// Job is one cron-driven batch operation.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context, asOf time.Time) (processed int, resource string, err error)
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Expiry == nil || p.Vouchers == nil || p.Tiers == nil || p.Locker == nil {
		return nil, ErrInvalidConfig
	}
	schedMetrics := p.Metrics
	if schedMetrics == nil {
		schedMetrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		expiry:   p.Expiry,
		vouchers: p.Vouchers,
		tiers:    p.Tiers,
		locker:   p.Locker,
		metrics:  schedMetrics,
	}, nil
}

func (s *Scheduler) Jobs() []Job {
	return []Job{
		{Name: JobMaterializeExpiry, Spec: s.cfg.ExpirySpec, Run: s.materializeExpiry},
		{Name: JobExpireVouchers, Spec: s.cfg.VoucherSweepSpec, Run: s.expireVouchers},
		{Name: JobTierReview, Spec: s.cfg.TierReviewSpec, Run: s.tierReview},
	}
}

func (s *Scheduler) materializeExpiry(ctx context.Context, asOf time.Time) (int, string, error) {
	res, err := s.expiry.MaterializeAll(ctx, asOf)
	return res.Materialized, obsmetrics.ResourceAccounts, err
}

func (s *Scheduler) expireVouchers(ctx context.Context, asOf time.Time) (int, string, error) {
	n, err := s.vouchers.ExpireStaleVouchers(ctx, asOf)
	return n, obsmetrics.ResourceVouchers, err
}

func (s *Scheduler) tierReview(ctx context.Context, _ time.Time) (int, string, error) {
	n, err := s.tiers.RecomputeAll(ctx)
	return n, obsmetrics.ResourceAccounts, err
}

// RunJob runs the named job once. It returns without running when another
// holder owns the job lock.
func (s *Scheduler) RunJob(parent context.Context, name string) error {
	for _, job := range s.Jobs() {
		if job.Name == name {
			return s.runJob(parent, job)
		}
	}
	return fmt.Errorf("scheduler: unknown job %q", name)
}

// RunOnce runs every job in order and joins their errors.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, job := range s.Jobs() {
		err = errors.Join(err, s.runJob(parent, job))
	}
	return err
}

func (s *Scheduler) runJob(parent context.Context, job Job) error {
	key := lockKeyPrefix + job.Name
	token, ok, err := s.locker.TryLock(parent, key, s.cfg.LockTTL)
	if err != nil {
		s.metrics.IncJobError(job.Name, err)
		return fmt.Errorf("%s: acquire lock: %w", job.Name, err)
	}
	if !ok {
		s.metrics.IncJobSkipped(job.Name)
		s.log.Info("scheduler.job.skipped", zap.String("job", job.Name), zap.String("reason", "lock_held"))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.Background(), key, token); err != nil {
			s.log.Warn("scheduler lock release failed", zap.String("job", job.Name), zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	asOf := s.clock.Now()
	run := s.newJobRun(job.Name)
	s.logJobStart(run, asOf)
	s.metrics.IncJobRun(job.Name)

	processed, resource, err := job.Run(ctx, asOf)
	run.AddProcessed(processed)
	s.metrics.AddBatchProcessed(job.Name, resource, processed)
	s.metrics.ObserveJobDuration(job.Name, time.Since(run.startedAt))
	s.logJobError(run, err)
	s.logJobFinish(run)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(job.Name, err)
	if errors.Is(err, context.DeadlineExceeded) {
		s.metrics.IncJobTimeout(job.Name)
		s.log.Warn("job timed out",
			zap.String("job", job.Name),
			zap.Duration("timeout", s.cfg.JobTimeout),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", job.Name, err)
}

// Start registers every job on a UTC cron and starts it.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	for _, job := range s.Jobs() {
		if _, err := c.AddFunc(job.Spec, func() {
			if err := s.runJob(ctx, job); err != nil {
				s.log.Warn("scheduler run failed", zap.String("job", job.Name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
		}
		s.log.Info("scheduler.job.registered", zap.String("job", job.Name), zap.String("spec", job.Spec))
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop halts the cron and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
