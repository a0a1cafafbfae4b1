package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/muanapay/internal/billingcycle"
	"github.com/smallbiznis/muanapay/internal/clock"
	"github.com/smallbiznis/muanapay/internal/config"
	obsmetrics "github.com/smallbiznis/muanapay/internal/observability/metrics"
	plandomain "github.com/smallbiznis/muanapay/internal/plan/domain"
	profiledomain "github.com/smallbiznis/muanapay/internal/profile/domain"
	"github.com/smallbiznis/muanapay/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/muanapay/internal/subscription/domain"
	"github.com/smallbiznis/muanapay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	keyActivationLock = "subscription:activate:%s"

	activationLockWait = 5 * time.Second
	activationAttempts = 2
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Repo        subscriptiondomain.Repository
	ProfileRepo profiledomain.Repository
	PlanSvc     plandomain.Service

	Locker  *ratelimit.Locker               `optional:"true"`
	Metrics *obsmetrics.VerificationMetrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	clock       clock.Clock
	repo        subscriptiondomain.Repository
	profileRepo profiledomain.Repository
	planSvc     plandomain.Service

	locker    *ratelimit.Locker
	userLocks *ratelimit.KeyedMutex
	lockTTL   time.Duration
	metrics   *obsmetrics.VerificationMetrics
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	lockTTL := p.Config.RateLimit.LockTTL
	if lockTTL <= 0 {
		lockTTL = 15 * time.Second
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		profileRepo: p.ProfileRepo,
		planSvc:     p.PlanSvc,

		locker:    p.Locker,
		userLocks: ratelimit.NewKeyedMutex(),
		lockTTL:   lockTTL,
		metrics:   p.Metrics,
	}
}

// Activate grants req.UserID access to req.PlanID starting now. A payment
// reference buys one period: repeating it returns the row it already paid for,
// whatever that row's status is now. Any other payment restarts the period in place.
func (s *Service) Activate(ctx context.Context, req subscriptiondomain.ActivateRequest) (*subscriptiondomain.Subscription, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		return nil, subscriptiondomain.ErrInvalidPlan
	}

	release, err := s.lockUser(ctx, userID)
	if err != nil {
		s.metrics.IncActivation(obsmetrics.ActivationResultFailed)
		return nil, err
	}
	defer release()

	plan, err := s.planSvc.Get(ctx, planID)
	if err != nil {
		s.metrics.IncActivation(obsmetrics.ActivationResultFailed)
		if errors.Is(err, plandomain.ErrNotFound) || errors.Is(err, plandomain.ErrInvalidID) {
			return nil, subscriptiondomain.ErrPlanNotFound
		}
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if !plan.Active {
		s.metrics.IncActivation(obsmetrics.ActivationResultFailed)
		return nil, subscriptiondomain.ErrPlanInactive
	}
	if req.PaidAmount != nil && *req.PaidAmount < plan.PriceAmount {
		s.metrics.IncActivation(obsmetrics.ActivationResultFailed)
		return nil, subscriptiondomain.ErrInsufficientPayment
	}

	agencyID, err := s.agencyFor(ctx, userID)
	if err != nil {
		s.metrics.IncActivation(obsmetrics.ActivationResultFailed)
		return nil, fmt.Errorf("load profile: %w", err)
	}

	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = subscriptiondomain.DefaultPaymentMethod
	}
	in := activation{
		userID:    userID,
		agencyID:  agencyID,
		planID:    plan.ID,
		cycle:     billingcycle.Cycle(plan.BillingCycle),
		method:    method,
		reference: strings.TrimSpace(req.PaymentReference),
	}

	var (
		sub    *subscriptiondomain.Subscription
		result string
	)
	for attempt := 1; attempt <= activationAttempts; attempt++ {
		sub, result, err = s.applyActivation(ctx, in)
		if err == nil {
			break
		}
		if !db.IsDuplicateKeyErr(err) || attempt == activationAttempts {
			s.metrics.IncActivation(obsmetrics.ActivationResultFailed)
			s.metrics.IncError(err)
			return nil, fmt.Errorf("activate subscription: %w", err)
		}
		s.log.Debug("concurrent activation detected, retrying as update", zap.String("user_id", userID))
	}

	s.metrics.IncActivation(result)
	s.log.Info("subscription activated",
		zap.String("user_id", userID),
		zap.String("plan_id", plan.ID),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("result", result),
	)
	return sub, nil
}

type activation struct {
	userID    string
	agencyID  *string
	planID    string
	cycle     billingcycle.Cycle
	method    string
	reference string
}

func (s *Service) applyActivation(ctx context.Context, in activation) (*subscriptiondomain.Subscription, string, error) {
	var (
		out    *subscriptiondomain.Subscription
		result string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.reference != "" {
			paid, err := s.repo.FindByPaymentReference(ctx, tx, in.userID, in.reference)
			if err != nil {
				return err
			}
			if paid != nil {
				out, result = paid, obsmetrics.ActivationResultUnchanged
				return nil
			}
		}

		current, err := s.repo.FindActiveByUserID(ctx, tx, in.userID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		end := billingcycle.Advance(now, in.cycle)

		if current != nil {
			current.AgencyID = in.agencyID
			current.PlanID = in.planID
			current.StartDate = now
			current.EndDate = end
			current.LastPaymentDate = &now
			current.NextPaymentDate = &end
			current.PaymentMethod = in.method
			current.PaymentReference = optionalString(in.reference)
			current.UpdatedAt = now
			if err := s.repo.UpdatePeriod(ctx, tx, current); err != nil {
				return err
			}
			out, result = current, obsmetrics.ActivationResultExtended
			return nil
		}

		sub := &subscriptiondomain.Subscription{
			ID:               s.genID.Generate(),
			UserID:           in.userID,
			AgencyID:         in.agencyID,
			PlanID:           in.planID,
			Status:           subscriptiondomain.SubscriptionStatusActive,
			StartDate:        now,
			EndDate:          end,
			LastPaymentDate:  &now,
			NextPaymentDate:  &end,
			PaymentMethod:    in.method,
			PaymentReference: optionalString(in.reference),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			return err
		}
		out, result = sub, obsmetrics.ActivationResultCreated
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return out, result, nil
}

func (s *Service) GetActive(ctx context.Context, userID string) (*subscriptiondomain.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	sub, err := s.repo.FindActiveByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrNoActiveSubscription
	}
	return sub, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if id == 0 {
		return nil, subscriptiondomain.ErrNotFound
	}
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrNotFound
	}
	return sub, nil
}

func (s *Service) ExpireDue(ctx context.Context, asOf time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	n, err := s.repo.ExpireDue(ctx, s.db, asOf, limit)
	if err != nil {
		s.metrics.IncError(err)
		return 0, fmt.Errorf("expire subscriptions: %w", err)
	}
	return int(n), nil
}

// lockUser takes the in-process lock and, when redis is configured, the
// cross-instance lock for the same user.
func (s *Service) lockUser(ctx context.Context, userID string) (func(), error) {
	start := time.Now()
	unlock := s.userLocks.Lock(userID)
	if s.locker == nil {
		s.metrics.ObserveLockWait(time.Since(start))
		return unlock, nil
	}

	key := fmt.Sprintf(keyActivationLock, userID)
	token, err := s.locker.Lock(ctx, key, s.lockTTL, activationLockWait)
	s.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		unlock()
		if errors.Is(err, ratelimit.ErrLockTimeout) {
			return nil, subscriptiondomain.ErrActivationBusy
		}
		return nil, fmt.Errorf("acquire activation lock: %w", err)
	}

	return func() {
		// The request context may already be cancelled; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.log.Warn("release activation lock failed", zap.String("user_id", userID), zap.Error(err))
		}
		unlock()
	}, nil
}

func (s *Service) agencyFor(ctx context.Context, userID string) (*string, error) {
	if s.profileRepo == nil {
		return nil, nil
	}
	profile, err := s.profileRepo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, nil
	}
	return profile.AgencyID, nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
