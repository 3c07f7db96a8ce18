package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	goredis "github.com/redis/go-redis/v9"
	customerrepo "github.com/smallbiznis/milkrun/internal/customer/repository"
	deliverydomain "github.com/smallbiznis/milkrun/internal/delivery/domain"
	monthlydomain "github.com/smallbiznis/milkrun/internal/monthlypayment/domain"
	obsmetrics "github.com/smallbiznis/milkrun/internal/observability/metrics"
	penaltydomain "github.com/smallbiznis/milkrun/internal/penalty/domain"
	redislock "github.com/smallbiznis/milkrun/internal/redis"
	"github.com/smallbiznis/milkrun/internal/status"
	"github.com/smallbiznis/milkrun/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// 2026-03-01 06:00 in Asia/Kolkata.
var testNow = time.Date(2026, time.March, 1, 0, 30, 0, 0, time.UTC)

type calls struct {
	mu    sync.Mutex
	count map[string]int
	args  map[string][]any
}

func newCalls() *calls {
	return &calls{count: map[string]int{}, args: map[string][]any{}}
}

func (c *calls) record(name string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count[name]++
	c.args[name] = append(c.args[name], args...)
}

func (c *calls) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count[name]
}

type fakePenalty struct {
	calls *calls
	err   error
}

func (f *fakePenalty) CheckAndChargePenalties(context.Context) ([]penaltydomain.CustomerPenaltyResult, error) {
	f.calls.record(JobPenaltySweep)
	return []penaltydomain.CustomerPenaltyResult{{Success: true}, {Success: false, Error: "wallet_not_found"}}, f.err
}

func (f *fakePenalty) ImposePenalty(context.Context, penaltydomain.ImposePenaltyRequest) (penaltydomain.CustomerPenaltyResult, error) {
	return penaltydomain.CustomerPenaltyResult{}, nil
}

type fakeMonthly struct {
	calls *calls
}

func (f *fakeMonthly) CreateMonthlyPaymentRecords(_ context.Context, year int, month time.Month) (monthlydomain.CycleResult, error) {
	f.calls.record(JobMonthlyRecords, year, month)
	return monthlydomain.CycleResult{Created: 3}, nil
}

func (f *fakeMonthly) EnforceOverduePayments(_ context.Context, year int, month time.Month) (monthlydomain.CycleResult, error) {
	f.calls.record(JobOverdueEnforcement, year, month)
	return monthlydomain.CycleResult{MarkedOverdue: 1}, nil
}

func (f *fakeMonthly) MarkPaid(context.Context, monthlydomain.MarkPaidRequest) (monthlydomain.MonthlyPayment, error) {
	return monthlydomain.MonthlyPayment{}, nil
}

func (f *fakeMonthly) Get(context.Context, snowflake.ID, int, time.Month) (monthlydomain.MonthlyPayment, error) {
	return monthlydomain.MonthlyPayment{}, nil
}

type fakeDelivery struct {
	calls *calls
}

func (f *fakeDelivery) EnsureDeliveriesForWindow(_ context.Context, req deliverydomain.EnsureWindowRequest) (deliverydomain.EnsureResult, error) {
	f.calls.record(JobEnsureDeliveries, req)
	return deliverydomain.EnsureResult{Created: 2}, nil
}

func (f *fakeDelivery) MarkDelivery(context.Context, deliverydomain.MarkDeliveryRequest) (deliverydomain.MarkDeliveryResult, error) {
	return deliverydomain.MarkDeliveryResult{}, nil
}

func (f *fakeDelivery) List(context.Context, deliverydomain.ListDeliveriesRequest) ([]deliverydomain.Delivery, error) {
	return nil, nil
}

func (f *fakeDelivery) Get(context.Context, snowflake.ID) (deliverydomain.Delivery, error) {
	return deliverydomain.Delivery{}, nil
}

type fakeRefresher struct {
	calls *calls
}

func (f *fakeRefresher) RefreshAll(context.Context) (status.RefreshResult, error) {
	f.calls.record(JobStatusRefresh)
	return status.RefreshResult{Checked: 4}, nil
}

type harness struct {
	*testkit.Fixture
	calls   *calls
	penalty *fakePenalty
}

func newHarness(t *testing.T) *harness {
	return &harness{Fixture: testkit.NewFixture(t, testNow), calls: newCalls()}
}

func (h *harness) scheduler(t *testing.T, locker *redislock.Locker) *Scheduler {
	t.Helper()
	if h.penalty == nil {
		h.penalty = &fakePenalty{calls: h.calls}
	}
	s, err := newScheduler(Params{
		DB:          h.DB,
		Log:         h.Log,
		GenID:       h.Node,
		Clock:       h.Clock,
		Calendar:    h.Calendar,
		Billing:     h.Billing,
		Customers:   customerrepo.Provide(),
		PenaltySvc:  h.penalty,
		MonthlySvc:  &fakeMonthly{calls: h.calls},
		DeliverySvc: &fakeDelivery{calls: h.calls},
		Locker:      locker,
		Config:      Config{EnsureDeliveries: true},
	}, &fakeRefresher{calls: h.calls})
	require.NoError(t, err)
	return s
}

func newLocker(t *testing.T) (*redislock.Locker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.NewLocker(client), mr
}

// Runs first: it swaps the default registry before anything else
// registers scheduler metrics there.
func TestRunJobTimeoutIncrementsTimeoutMetric(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "milkrun",
		Environment: "test",
	})

	h := newHarness(t)
	s := h.scheduler(t, nil)
	s.cfg.JobTimeout = 5 * time.Millisecond
	_, err := s.runJob(context.Background(), job{
		name: "timeout_job",
		run: func(ctx context.Context, _ datatypes.Date) (outcome, error) {
			<-ctx.Done()
			return outcome{}, ctx.Err()
		},
	}, h.Calendar.Today())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	labels := map[string]string{
		"service": "milkrun",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "milkrun_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "milkrun",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "milkrun_scheduler_job_errors_total", errorLabels))
}

func TestRunOnceRunsDueJobsOncePerDay(t *testing.T) {
	h := newHarness(t)
	h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 7})
	h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 8})
	s := h.scheduler(t, nil)
	ctx := context.Background()

	require.NoError(t, s.RunOnce(ctx))
	require.NoError(t, s.RunOnce(ctx))

	assert.Equal(t, 1, h.calls.get(JobPenaltySweep))
	assert.Equal(t, 1, h.calls.get(JobMonthlyRecords))
	assert.Equal(t, []any{2026, time.March}, h.calls.args[JobMonthlyRecords])
	assert.Equal(t, 0, h.calls.get(JobOverdueEnforcement), "day 1 is inside the grace period")
	assert.Equal(t, 2, h.calls.get(JobEnsureDeliveries), "one window per delivery person")
	assert.Equal(t, 1, h.calls.get(JobStatusRefresh))

	req := h.calls.args[JobEnsureDeliveries][0].(deliverydomain.EnsureWindowRequest)
	assert.Equal(t, "2026-03-02", time.Time(req.DayStart).Format("2006-01-02"))
	assert.Equal(t, req.DayStart, req.DayEnd)

	h.AdvanceDays(5)
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, 2, h.calls.get(JobPenaltySweep))
	assert.Equal(t, 2, h.calls.get(JobMonthlyRecords), "customers still missing the month's record are caught up")
	assert.Equal(t, 1, h.calls.get(JobOverdueEnforcement), "day 6 is past the grace day")
	assert.Equal(t, 2, h.calls.get(JobStatusRefresh))
}

func TestMonthlyRecordsCatchUpAfterMissedFirst(t *testing.T) {
	h := newHarness(t)
	h.AdvanceDays(2)
	covered := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 7})
	late := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 7})
	h.SeedCustomer(testkit.CustomerSeed{})
	h.SeedMonthlyPayment(covered.ID, 2026, time.March, monthlydomain.StatusPending)
	s := h.scheduler(t, nil)
	ctx := context.Background()

	assert.True(t, s.monthlyRecordsMissing(ctx, h.Calendar.Today()))
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, 1, h.calls.get(JobMonthlyRecords))
	assert.Equal(t, []any{2026, time.March}, h.calls.args[JobMonthlyRecords])

	h.SeedMonthlyPayment(late.ID, 2026, time.March, monthlydomain.StatusPending)
	h.AdvanceDays(1)
	assert.False(t, s.monthlyRecordsMissing(ctx, h.Calendar.Today()), "unassigned customers are never billed")
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, 1, h.calls.get(JobMonthlyRecords))
}

func TestEnabledJobsFilter(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(t, nil)
	s.cfg.EnabledJobs = []string{"Penalty_Sweep"}

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, h.calls.get(JobPenaltySweep))
	assert.Equal(t, 0, h.calls.get(JobStatusRefresh))
	assert.Equal(t, 0, h.calls.get(JobMonthlyRecords))
}

func TestRedisLockRunsJobOncePerCluster(t *testing.T) {
	h := newHarness(t)
	locker, mr := newLocker(t)
	first := h.scheduler(t, locker)
	second := h.scheduler(t, locker)
	ctx := context.Background()

	require.NoError(t, first.RunOnce(ctx))
	require.NoError(t, second.RunOnce(ctx))

	assert.Equal(t, 1, h.calls.get(JobPenaltySweep))
	assert.Equal(t, 1, h.calls.get(JobStatusRefresh))
	assert.True(t, mr.Exists("milkrun:scheduler:penalty_sweep:2026-03-01"))
	assert.Greater(t, mr.TTL("milkrun:scheduler:penalty_sweep:2026-03-01"), time.Hour, "done marker outlives the lock ttl")

	h.AdvanceDays(1)
	require.NoError(t, second.RunOnce(ctx))
	assert.Equal(t, 2, h.calls.get(JobPenaltySweep), "the next day has a fresh key")
}

func TestFailedJobReleasesLockAndRetries(t *testing.T) {
	h := newHarness(t)
	h.penalty = &fakePenalty{calls: h.calls, err: errors.New("connection reset")}
	locker, mr := newLocker(t)
	s := h.scheduler(t, locker)
	ctx := context.Background()

	err := s.RunOnce(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobPenaltySweep)
	assert.False(t, mr.Exists("milkrun:scheduler:penalty_sweep:2026-03-01"))
	assert.True(t, mr.Exists("milkrun:scheduler:status_refresh:2026-03-01"), "other jobs still complete")

	h.penalty.err = nil
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, 2, h.calls.get(JobPenaltySweep))
	assert.Equal(t, 1, h.calls.get(JobStatusRefresh))
}

func TestRunJobIgnoresSchedule(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(t, nil)
	ctx := context.Background()

	res, err := s.RunJob(ctx, "overdue_enforcement")
	require.NoError(t, err)
	assert.Equal(t, JobOverdueEnforcement, res.Job)
	assert.Equal(t, "2026-03-01", res.Day)
	assert.Equal(t, 1, res.Processed)

	res, err = s.RunJob(ctx, JobPenaltySweep)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)

	_, err = s.RunJob(ctx, "rollup")
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.Equal(t, []string{JobPenaltySweep, JobMonthlyRecords, JobOverdueEnforcement, JobEnsureDeliveries, JobStatusRefresh}, s.Jobs())
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
