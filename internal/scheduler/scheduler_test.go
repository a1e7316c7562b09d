package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/loyalty/internal/clock"
	expirydomain "github.com/smallbiznis/loyalty/internal/expiry/domain"
	"github.com/smallbiznis/loyalty/internal/lock"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubExpiry struct {
	calls atomic.Int32
	asOf  atomic.Value
	err   error
}

func (s *stubExpiry) MaterializeAll(_ context.Context, asOf time.Time) (expirydomain.BatchResult, error) {
	s.calls.Add(1)
	s.asOf.Store(asOf)
	return expirydomain.BatchResult{Accounts: 3, Materialized: 2, PointsExpired: 900}, s.err
}

type stubVouchers struct {
	calls atomic.Int32
	block chan struct{}
}

func (s *stubVouchers) ExpireStaleVouchers(ctx context.Context, _ time.Time) (int, error) {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 4, nil
}

type stubTiers struct {
	calls atomic.Int32
}

func (s *stubTiers) RecomputeAll(context.Context) (int, error) {
	s.calls.Add(1)
	return 5, nil
}

type harness struct {
	sched    *Scheduler
	clock    *clock.FakeClock
	expiry   *stubExpiry
	vouchers *stubVouchers
	tiers    *stubTiers
	locker   *lock.LocalLocker
	registry *prometheus.Registry
	logs     *observer.ObservedLogs
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.InfoLevel)
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	registry := prometheus.NewRegistry()
	h := &harness{
		clock:    clk,
		expiry:   &stubExpiry{},
		vouchers: &stubVouchers{},
		tiers:    &stubTiers{},
		locker:   lock.NewLocalLocker(clk.Now),
		registry: registry,
		logs:     logs,
	}
	h.sched, err = New(Params{
		Log:      zap.New(core),
		GenID:    node,
		Clock:    clk,
		Expiry:   h.expiry,
		Vouchers: h.vouchers,
		Tiers:    h.tiers,
		Locker:   h.locker,
		Config:   cfg,
		Metrics:  obsmetrics.NewSchedulerMetricsForRegistry(registry, obsmetrics.Config{}),
	})
	require.NoError(t, err)
	return h
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		got[pair.GetName()] = pair.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceRunsEveryJobAtClockTime(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.sched.RunOnce(context.Background()))

	assert.Equal(t, int32(1), h.expiry.calls.Load())
	assert.Equal(t, int32(1), h.vouchers.calls.Load())
	assert.Equal(t, int32(1), h.tiers.calls.Load())
	assert.Equal(t, h.clock.Now(), h.expiry.asOf.Load())

	for _, job := range []string{JobMaterializeExpiry, JobExpireVouchers, JobTierReview} {
		assert.Equal(t, 1.0, counterValue(t, h.registry, "loyalty_scheduler_job_runs_total", map[string]string{"job": job}), job)
	}
	assert.Equal(t, 4.0, counterValue(t, h.registry, "loyalty_scheduler_batch_processed_total",
		map[string]string{"job": JobExpireVouchers, "resource": obsmetrics.ResourceVouchers}))

	assert.Equal(t, 3, h.logs.FilterMessage("scheduler.job.start").Len())
	finished := h.logs.FilterMessage("scheduler.job.finish").FilterField(zap.String("job", JobMaterializeExpiry)).All()
	require.Len(t, finished, 1)
	assert.Equal(t, int64(2), finished[0].ContextMap()["processed_count"])
}

func TestRunJobSkipsWhenLockHeld(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, ok, err := h.locker.TryLock(ctx, lockKeyPrefix+JobTierReview, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.sched.RunJob(ctx, JobTierReview))
	assert.Zero(t, h.tiers.calls.Load())
	assert.Equal(t, 1.0, counterValue(t, h.registry, "loyalty_scheduler_job_skipped_total", map[string]string{"job": JobTierReview}))
	assert.Equal(t, 1, h.logs.FilterMessage("scheduler.job.skipped").Len())
}

func TestRunJobReleasesLock(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.sched.RunJob(ctx, JobTierReview))
	require.NoError(t, h.sched.RunJob(ctx, JobTierReview))
	assert.Equal(t, int32(2), h.tiers.calls.Load())
}

func TestRunJobSurfacesErrors(t *testing.T) {
	h := newHarness(t, Config{})
	h.expiry.err = errors.New("boom")

	err := h.sched.RunJob(context.Background(), JobMaterializeExpiry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobMaterializeExpiry)
	assert.Equal(t, 1.0, counterValue(t, h.registry, "loyalty_scheduler_job_errors_total",
		map[string]string{"job": JobMaterializeExpiry, "reason": "unknown"}))
	assert.Equal(t, 1, h.logs.FilterMessage("scheduler.job.failed").Len())
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	h := newHarness(t, Config{JobTimeout: 20 * time.Millisecond})
	h.vouchers.block = make(chan struct{})

	require.NoError(t, h.sched.RunJob(context.Background(), JobExpireVouchers))
	assert.Equal(t, 1.0, counterValue(t, h.registry, "loyalty_scheduler_job_timeouts_total", map[string]string{"job": JobExpireVouchers}))
}

func TestRunJobUnknown(t *testing.T) {
	h := newHarness(t, Config{})
	assert.Error(t, h.sched.RunJob(context.Background(), "nope"))
}

func TestStartRejectsBadSpec(t *testing.T) {
	h := newHarness(t, Config{ExpirySpec: "not a cron spec"})
	assert.Error(t, h.sched.Start(context.Background()))
}

func TestStartAndStop(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.sched.Start(context.Background()))
	assert.Equal(t, 3, h.logs.FilterMessage("scheduler.job.registered").Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, h.sched.Stop(ctx))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{JobTimeout: time.Hour}.withDefaults()
	assert.Equal(t, "@daily", cfg.ExpirySpec)
	assert.Equal(t, "0 0 1 1,4,7,10 *", cfg.TierReviewSpec)
	assert.Greater(t, cfg.LockTTL, cfg.JobTimeout)
}
