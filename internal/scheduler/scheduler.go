// Package scheduler wires the periodic maintenance jobs: consistency
// check runs, action-cost rollups, free-credit refills, and quota resets.
// Each job takes a Redis lease, so multiple scheduler replicas can run
// while each tick executes once.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/creditlabs/creditd/internal/actioncost"
	checkerdomain "github.com/creditlabs/creditd/internal/checker/domain"
	"github.com/creditlabs/creditd/internal/config"
	creditdomain "github.com/creditlabs/creditd/internal/credit/domain"
	quotadomain "github.com/creditlabs/creditd/internal/quota/domain"
)

type SchedulerParam struct {
	fx.In

	Log        *zap.Logger
	Config     config.Config
	Checker    checkerdomain.Service
	Credit     creditdomain.Service
	Quota      quotadomain.Service
	ActionCost *actioncost.Service
	Redis      *redis.Client `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        config.Config
	checker    checkerdomain.Service
	credit     creditdomain.Service
	quota      quotadomain.Service
	actionCost *actioncost.Service
	redis      *redis.Client
	cron       *cron.Cron
	instanceID string
}

func NewScheduler(p SchedulerParam) *Scheduler {
	host, _ := os.Hostname()
	return &Scheduler{
		log:        p.Log.Named("scheduler"),
		cfg:        p.Config,
		checker:    p.Checker,
		credit:     p.Credit,
		quota:      p.Quota,
		actionCost: p.ActionCost,
		redis:      p.Redis,
		cron:       cron.New(),
		instanceID: fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

type job struct {
	name string
	spec string
	// leaseTTL should outlast a normal run but expire well before the next
	// tick, so a crashed holder does not block a whole cadence.
	leaseTTL time.Duration
	run      func(ctx context.Context) error
}

func (s *Scheduler) jobs() []job {
	return []job{
		{"quick_checks", s.cfg.QuickCheckCron, 45 * time.Minute, s.runQuickChecks},
		{"slow_checks", s.cfg.SlowCheckCron, 12 * time.Hour, s.runSlowChecks},
		{"action_cost_update", s.cfg.ActionCostCron, 45 * time.Minute, s.runActionCostUpdate},
		{"free_credit_refill", s.cfg.FreeRefillCron, 45 * time.Minute, s.runFreeRefill},
		{"daily_quota_reset", s.cfg.DailyResetCron, 12 * time.Hour, s.runDailyReset},
		{"monthly_quota_reset", s.cfg.MonthlyResetCron, 12 * time.Hour, s.runMonthlyReset},
	}
}

// Start registers every job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, j := range s.jobs() {
		j := j
		_, err := s.cron.AddFunc(j.spec, func() { s.runJob(context.Background(), j) })
		if err != nil {
			return fmt.Errorf("register job %s (%q): %w", j.name, j.spec, err)
		}
		s.log.Info("registered job", zap.String("job", j.name), zap.String("spec", j.spec))
	}
	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runJob(ctx context.Context, j job) {
	if !s.acquireLease(ctx, j.name, j.leaseTTL) {
		return
	}
	defer s.releaseLease(ctx, j.name)

	start := time.Now()
	s.log.Info("job started", zap.String("job", j.name))
	if err := j.run(ctx); err != nil {
		s.log.Error("job failed",
			zap.String("job", j.name),
			zap.Duration("time_cost", time.Since(start)),
			zap.Error(err))
		return
	}
	s.log.Info("job finished",
		zap.String("job", j.name),
		zap.Duration("time_cost", time.Since(start)))
}

func (s *Scheduler) runQuickChecks(ctx context.Context) error {
	_, err := s.checker.RunQuickChecks(ctx)
	return err
}

func (s *Scheduler) runSlowChecks(ctx context.Context) error {
	_, err := s.checker.RunSlowChecks(ctx)
	return err
}

func (s *Scheduler) runActionCostUpdate(ctx context.Context) error {
	_, err := s.actionCost.UpdateAllAgentActionCosts(ctx)
	return err
}

func (s *Scheduler) runDailyReset(ctx context.Context) error {
	return s.quota.ResetDailyQuotas(ctx)
}

func (s *Scheduler) runMonthlyReset(ctx context.Context) error {
	return s.quota.ResetMonthlyQuotas(ctx)
}

func (s *Scheduler) runFreeRefill(ctx context.Context) error {
	refilled, err := s.credit.RefillAllFreeCredits(ctx)
	if err != nil {
		return err
	}
	s.log.Info("free credits refilled", zap.Int("accounts", refilled))
	return nil
}
