package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	"github.com/smallbiznis/milkrun/internal/clock"
	"github.com/smallbiznis/milkrun/internal/config"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	deliverydomain "github.com/smallbiznis/milkrun/internal/delivery/domain"
	monthlydomain "github.com/smallbiznis/milkrun/internal/monthlypayment/domain"
	obsmetrics "github.com/smallbiznis/milkrun/internal/observability/metrics"
	penaltydomain "github.com/smallbiznis/milkrun/internal/penalty/domain"
	redislock "github.com/smallbiznis/milkrun/internal/redis"
	"github.com/smallbiznis/milkrun/internal/status"
	subscriptiondomain "github.com/smallbiznis/milkrun/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	JobPenaltySweep       = "penalty_sweep"
	JobMonthlyRecords     = "monthly_records"
	JobOverdueEnforcement = "overdue_enforcement"
	JobEnsureDeliveries   = "ensure_deliveries"
	JobStatusRefresh      = "status_refresh"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUnknownJob    = billingerror.New(billingerror.ErrNotFound, "scheduler_job_not_found")
)

// StatusRefresher recomputes every customer's status.
type StatusRefresher interface {
	RefreshAll(ctx context.Context) (status.RefreshResult, error)
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Calendar    *clock.Calendar
	Billing     *config.BillingConfigHolder
	Customers   customerdomain.Repository
	PenaltySvc  penaltydomain.Service
	MonthlySvc  monthlydomain.Service
	DeliverySvc deliverydomain.Service
	Status      *status.Engine
	Locker      *redislock.Locker `optional:"true"`
	Config      Config            `optional:"true"`
}

// JobResult summarises one job execution.
type JobResult struct {
	Job       string `json:"job"`
	Day       string `json:"day"`
	RunID     string `json:"run_id"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Detail    any    `json:"detail,omitempty"`
}

type outcome struct {
	processed int
	failed    int
	resource  string
	detail    any
}

type job struct {
	name string
	due  func(ctx context.Context, today datatypes.Date) bool
	run  func(ctx context.Context, today datatypes.Date) (outcome, error)
}

// Scheduler fires the daily billing jobs. Each job runs at most once per
// civil day per process, and once per cluster when a redis locker is
// configured. Every job is idempotent, so the exclusion only saves work.
type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	calendar    *clock.Calendar
	billing     *config.BillingConfigHolder
	customers   customerdomain.Repository
	penaltySvc  penaltydomain.Service
	monthlySvc  monthlydomain.Service
	deliverySvc deliverydomain.Service
	status      StatusRefresher
	locker      *redislock.Locker

	mu      sync.Mutex
	lastRun map[string]string
	jobs    []job
}

func New(p Params) (*Scheduler, error) {
	if p.Status == nil {
		return nil, ErrInvalidConfig
	}
	return newScheduler(p, p.Status)
}

func newScheduler(p Params, refresher StatusRefresher) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Calendar == nil || p.Billing == nil ||
		p.Customers == nil || p.PenaltySvc == nil || p.MonthlySvc == nil || p.DeliverySvc == nil || refresher == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		clock:       p.Clock,
		calendar:    p.Calendar,
		billing:     p.Billing,
		customers:   p.Customers,
		penaltySvc:  p.PenaltySvc,
		monthlySvc:  p.MonthlySvc,
		deliverySvc: p.DeliverySvc,
		status:      refresher,
		locker:      p.Locker,
		lastRun:     map[string]string{},
	}
	s.jobs = []job{
		{name: JobPenaltySweep, due: always, run: s.penaltySweepJob},
		{name: JobMonthlyRecords, due: s.monthlyRecordsMissing, run: s.monthlyRecordsJob},
		{name: JobOverdueEnforcement, due: s.afterGraceDay, run: s.overdueEnforcementJob},
		{name: JobEnsureDeliveries, due: s.ensureDeliveriesEnabled, run: s.ensureDeliveriesJob},
		{name: JobStatusRefresh, due: always, run: s.statusRefreshJob},
	}
	return s, nil
}

// Jobs lists the job names in run order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	return names
}

func (s *Scheduler) runJob(parent context.Context, j job, today datatypes.Date) (JobResult, error) {
	day := clock.Format(today)
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run := s.newJobRun(ctx, j.name, day)
	s.logJobStart(ctx, run)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(j.name)

	out, err := j.run(ctx, today)
	schedMetrics.ObserveJobDuration(j.name, s.clock.Now().Sub(run.startedAt))
	run.AddProcessed(out.processed)
	run.AddErrors(out.failed)
	schedMetrics.AddItemsProcessed(j.name, out.resource, out.processed)
	schedMetrics.AddItemsFailed(j.name, out.resource, out.failed)
	if err != nil && run.errorCount == 0 {
		run.AddErrors(1)
	}
	s.logJobFinish(ctx, run)

	result := JobResult{
		Job:       j.name,
		Day:       day,
		RunID:     run.runID,
		Processed: out.processed,
		Failed:    out.failed,
		Detail:    out.detail,
	}
	if err == nil {
		return result, nil
	}

	schedMetrics.IncJobError(j.name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(j.name)
		s.logger(ctx).Warn("job timed out",
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
	} else {
		s.logSchedulerError(ctx, "scheduler.job.failed", err)
	}
	return result, fmt.Errorf("%s: %w", j.name, err)
}

// RunOnce runs every enabled job that is due today and has not yet run
// today. A failed job is retried on the next tick.
func (s *Scheduler) RunOnce(parent context.Context) error {
	today := s.calendar.Today()
	day := clock.Format(today)
	schedMetrics := obsmetrics.Scheduler()
	var err error

	for _, j := range s.jobs {
		if parent.Err() != nil {
			return errors.Join(err, parent.Err())
		}
		if !s.isJobEnabled(j.name) {
			continue
		}
		if s.ranOn(j.name, day) {
			schedMetrics.IncJobSkipped(j.name, obsmetrics.SchedulerSkipReasonAlreadyRan)
			continue
		}
		if !j.due(parent, today) {
			schedMetrics.IncJobSkipped(j.name, obsmetrics.SchedulerSkipReasonNotDue)
			continue
		}

		key := lockKey(j.name, day)
		token, acquired, lockErr := s.acquire(parent, key)
		if lockErr != nil {
			// the jobs are idempotent, so a broken lock only costs duplicate work
			schedMetrics.IncJobSkipped(j.name, obsmetrics.SchedulerSkipReasonLockFailure)
			s.log.Warn("scheduler lock unavailable, running unlocked", zap.String("job", j.name), zap.Error(lockErr))
		} else if !acquired {
			schedMetrics.IncJobSkipped(j.name, obsmetrics.SchedulerSkipReasonLockHeld)
			continue
		}

		_, runErr := s.runJob(parent, j, today)
		if runErr != nil {
			err = errors.Join(err, runErr)
			if relErr := s.locker.Release(context.Background(), key, token); relErr != nil {
				s.log.Warn("failed to release scheduler lock", zap.String("key", key), zap.Error(relErr))
			}
			continue
		}
		s.markRan(j.name, day)
		if token != "" {
			// keep the key as a done marker for the rest of the day
			if _, extErr := s.locker.Extend(context.Background(), key, token, s.cfg.DoneTTL); extErr != nil {
				s.log.Warn("failed to keep scheduler done marker", zap.String("key", key), zap.Error(extErr))
			}
		}
	}
	return err
}

// RunJob runs one job immediately, ignoring its schedule and the day
// markers. It backs the run-job command and the operator endpoint.
func (s *Scheduler) RunJob(ctx context.Context, name string) (JobResult, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, j := range s.jobs {
		if j.name == name {
			return s.runJob(ctx, j, s.calendar.Today())
		}
	}
	return JobResult{}, ErrUnknownJob
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// an empty list enables every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) ranOn(job, day string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun[job] == day
}

func (s *Scheduler) markRan(job, day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[job] = day
}

// acquire takes the cluster lock for key. Without a locker every call
// succeeds with an empty token.
func (s *Scheduler) acquire(ctx context.Context, key string) (string, bool, error) {
	if s.locker == nil {
		return "", true, nil
	}
	return s.locker.TryLock(ctx, key, s.cfg.LockTTL)
}

func lockKey(job, day string) string {
	return fmt.Sprintf("milkrun:scheduler:%s:%s", job, day)
}

func always(context.Context, datatypes.Date) bool { return true }

// monthlyRecordsMissing is due on the first and on any later day while a
// billable customer still lacks the month's record, so a missed first is
// caught up. A failed lookup counts as due since the job is idempotent.
func (s *Scheduler) monthlyRecordsMissing(ctx context.Context, today datatypes.Date) bool {
	t := time.Time(today)
	if t.Day() == 1 {
		return true
	}
	var missing int64
	err := s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Joins("JOIN customers ON customers.id = subscriptions.customer_id").
		Where("subscriptions.status IN ?", []subscriptiondomain.SubscriptionStatus{
			subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusPaused,
		}).
		Where("customers.delivery_person_id IS NOT NULL AND customers.delivery_person_id <> 0").
		Where("NOT EXISTS (?)", s.db.Model(&monthlydomain.MonthlyPayment{}).
			Select("1").
			Where("monthly_payments.customer_id = subscriptions.customer_id AND monthly_payments.year = ? AND monthly_payments.month = ?",
				t.Year(), int(t.Month()))).
		Count(&missing).Error
	if err != nil {
		s.log.Warn("monthly record lookup failed", zap.String("day", clock.Format(today)), zap.Error(err))
		return true
	}
	return missing > 0
}

func (s *Scheduler) afterGraceDay(_ context.Context, today datatypes.Date) bool {
	return time.Time(today).Day() > s.billing.Get().GracePeriodEndDay
}

func (s *Scheduler) ensureDeliveriesEnabled(context.Context, datatypes.Date) bool {
	return s.cfg.EnsureDeliveries
}
