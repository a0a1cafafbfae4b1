// Package scheduler runs periodic maintenance over subscriptions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/muanapay/internal/clock"
	obsmetrics "github.com/smallbiznis/muanapay/internal/observability/metrics"
	"github.com/smallbiznis/muanapay/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/muanapay/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobExpireSubscriptions = "expire_subscriptions"

	keyJobLock = "scheduler:job:%s"
)

var ErrInvalidConfig = errors.New("scheduler: invalid config")

type Params struct {
	fx.In

	Log             *zap.Logger
	SubscriptionSvc subscriptiondomain.Service
	GenID           *snowflake.Node
	Clock           clock.Clock
	Config          Config                       `optional:"true"`
	Locker          *ratelimit.Locker            `optional:"true"`
	Metrics         *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	genID           *snowflake.Node
	clock           clock.Clock
	subscriptionSvc subscriptiondomain.Service
	locker          *ratelimit.Locker
	metrics         *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.SubscriptionSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	m := p.Metrics
	if m == nil {
		m = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		genID:           p.GenID,
		clock:           p.Clock,
		subscriptionSvc: p.SubscriptionSvc,
		locker:          p.Locker,
		metrics:         m,
	}, nil
}

// runJob wraps fn with a deadline, the cross-instance job lock, logging and
// metrics. A deadline hit is a soft timeout and not reported as a failure.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	release, ok, err := s.acquire(ctx, name)
	if err != nil {
		s.log.Warn("scheduler job lock failed", zap.String("job", name), zap.Error(err))
		return nil
	}
	if !ok {
		s.log.Debug("scheduler job held by another instance", zap.String("job", name))
		return nil
	}
	defer release()

	run := s.newJobRun(name, s.cfg.BatchSize)
	s.logJobStart(ctx, run)
	schedMetrics := s.metrics
	schedMetrics.IncJobRun(name)

	err = fn(ctx, run)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	schedMetrics.AddProcessed(name, run.processedCount)
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// acquire takes the redis job lock when one is configured. Without redis
// every instance runs the job; the store updates stay conditional.
func (s *Scheduler) acquire(ctx context.Context, name string) (func(), bool, error) {
	if s.locker == nil {
		return func() {}, true, nil
	}
	key := fmt.Sprintf(keyJobLock, name)
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil || !ok {
		return nil, ok, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.log.Warn("scheduler job lock release failed", zap.String("job", name), zap.Error(err))
		}
	}, true, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name string
		Run  func(context.Context, *jobRun) error
	}{
		{JobExpireSubscriptions, s.ExpireSubscriptionsJob},
	}

	var err error
	for _, job := range jobs {
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := s.metrics

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if lag := time.Since(nextRun); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}

// ExpireSubscriptionsJob marks active subscriptions whose period has ended
// as expired, one batch at a time until none remain.
func (s *Scheduler) ExpireSubscriptionsJob(ctx context.Context, run *jobRun) error {
	asOf := s.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.subscriptionSvc.ExpireDue(ctx, asOf, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		run.AddProcessed(n)
		if n < s.cfg.BatchSize {
			return nil
		}
	}
}
