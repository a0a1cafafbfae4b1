package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/muanapay/internal/clock"
	"github.com/smallbiznis/muanapay/internal/config"
	obsmetrics "github.com/smallbiznis/muanapay/internal/observability/metrics"
	"github.com/smallbiznis/muanapay/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/muanapay/internal/payment/domain"
	"github.com/smallbiznis/muanapay/internal/phone"
	plandomain "github.com/smallbiznis/muanapay/internal/plan/domain"
	"github.com/smallbiznis/muanapay/internal/reconciliation/domain"
	"github.com/smallbiznis/muanapay/internal/risk"
	subscriptiondomain "github.com/smallbiznis/muanapay/internal/subscription/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPollAfter      = 10 * time.Second
	defaultMaxWait        = 300 * time.Second
	defaultCandidateLimit = 20
	defaultClaimAttempts  = 3
)

// Statuses searched for a match. Verified rows are included so that the
// owner re-verifying gets the idempotent path instead of not_ready.
var searchStatuses = []paymentdomain.NotificationStatus{
	paymentdomain.StatusPending,
	paymentdomain.StatusUnmatched,
	paymentdomain.StatusVerified,
}

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Config        config.Config
	Repo          paymentdomain.Repository
	Subscriptions subscriptiondomain.Service
	Plans         plandomain.Service

	Policy  *config.VerificationPolicyHolder `optional:"true"`
	Metrics *obsmetrics.VerificationMetrics  `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	repo          paymentdomain.Repository
	subscriptions subscriptiondomain.Service
	plans         plandomain.Service
	policy        *config.VerificationPolicyHolder
	metrics       *obsmetrics.VerificationMetrics
	tracer        trace.Tracer

	pollAfter      time.Duration
	maxWait        time.Duration
	candidateLimit int
	claimAttempts  int
}

func NewService(p Params) domain.Service {
	cfg := p.Config.Verification
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("reconciliation.service"),
		clock:         p.Clock,
		repo:          p.Repo,
		subscriptions: p.Subscriptions,
		plans:         p.Plans,
		policy:        p.Policy,
		metrics:       p.Metrics,
		tracer:        otel.Tracer("muanapay/reconciliation"),

		pollAfter:      positiveDuration(cfg.PollAfter, defaultPollAfter),
		maxWait:        positiveDuration(cfg.MaxWait, defaultMaxWait),
		candidateLimit: positiveInt(cfg.CandidateLimit, defaultCandidateLimit),
		claimAttempts:  positiveInt(cfg.ClaimAttempts, defaultClaimAttempts),
	}
}

func (s *Service) Reconcile(ctx context.Context, req domain.Request) (domain.Result, error) {
	if err := req.Validate(); err != nil {
		return domain.Result{}, err
	}

	kind := string(req.Lookup.Kind())
	ctx, span := s.tracer.Start(ctx, "reconciliation.Reconcile",
		trace.WithAttributes(attribute.String("lookup", kind)))
	defer span.End()

	start := time.Now()
	result, err := s.reconcile(ctx, req)
	outcome := string(result.Outcome)
	if outcome == "" {
		outcome = "error"
	}
	s.metrics.ObserveOutcome(kind, outcome, time.Since(start))

	fields := []zap.Field{
		zap.String("lookup", kind),
		zap.String("user_id", req.UserID),
		zap.String("outcome", outcome),
	}
	if result.Notification != nil {
		fields = append(fields, zap.String("notification_id", result.Notification.ID.String()))
		span.SetAttributes(attribute.String("notification_id", result.Notification.ID.String()))
	}
	span.SetAttributes(tracing.SafeAttributes(attribute.String("outcome", outcome))...)

	if err != nil {
		s.metrics.IncError(err)
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "reconciliation failed")
		s.log.Warn("reconciliation failed", append(fields, zap.Error(err))...)
		return result, err
	}
	s.log.Info("reconciliation decided", fields...)
	return result, nil
}

func (s *Service) reconcile(ctx context.Context, req domain.Request) (domain.Result, error) {
	for attempt := 1; attempt <= s.claimAttempts; attempt++ {
		match, err := s.findMatch(ctx, req)
		if err != nil {
			return domain.Result{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		if match == nil {
			return domain.Result{
				Outcome:   domain.OutcomeNotReady,
				PollAfter: s.pollAfter,
				MaxWait:   s.maxWait,
			}, nil
		}

		switch {
		case match.Status == paymentdomain.StatusVerified && match.OwnedBy(req.UserID):
			return s.reverify(ctx, req, match)

		case match.Status == paymentdomain.StatusVerified:
			return domain.Result{
				Outcome:      domain.OutcomeUsedByOther,
				Notification: match,
				OwnerUserID:  ownerOf(match),
			}, nil

		case !match.Unowned() && !match.OwnedBy(req.UserID):
			return domain.Result{
				Outcome:      domain.OutcomeLockedByOther,
				Notification: match,
				OwnerUserID:  ownerOf(match),
			}, nil
		}

		planID := req.PlanID
		if planID == "" {
			planID = derefString(match.PlanID)
		}
		if err := s.checkPlan(ctx, planID, match); err != nil {
			return domain.Result{}, err
		}

		claimed, assessment, err := s.claim(ctx, req, match)
		if err != nil {
			return domain.Result{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		if !claimed {
			s.metrics.IncClaimConflict()
			s.log.Debug("claim lost to a concurrent write, re-running lookup",
				zap.String("notification_id", match.ID.String()),
				zap.Int("attempt", attempt),
			)
			continue
		}

		return s.activate(ctx, req, domain.Result{
			Outcome:      domain.OutcomeClaimed,
			Notification: match,
			OwnerUserID:  req.UserID,
			Risk:         &assessment,
		}, planID)
	}
	return domain.Result{}, domain.ErrClaimContention
}

func (s *Service) findMatch(ctx context.Context, req domain.Request) (*paymentdomain.PaymentNotification, error) {
	var (
		candidates []paymentdomain.PaymentNotification
		err        error
	)
	switch l := req.Lookup.(type) {
	case domain.ByPhone:
		candidates, err = s.repo.FindByPhoneKey(ctx, s.db, phone.MatchKey(l.Suffix), searchStatuses, s.candidateLimit)
	case domain.ByReference:
		candidates, err = s.repo.FindByReference(ctx, s.db, l.Reference, searchStatuses, s.candidateLimit)
	default:
		return nil, domain.ErrInvalidRequest
	}
	if err != nil {
		return nil, err
	}
	return domain.SelectorFor(s.policy.Get().Selector).Select(candidates, req), nil
}

// claim binds match to the requester with a single conditional update and
// reports false when another write got there first.
func (s *Service) claim(ctx context.Context, req domain.Request, match *paymentdomain.PaymentNotification) (bool, risk.Assessment, error) {
	now := s.clock.Now()
	assessment := risk.Assess(risk.Input{
		Reference: derefString(match.TransactionReference),
		Amount:    match.Amount,
		Currency:  match.Currency,
		Timestamp: match.Timestamp,
		Now:       now,
	}, s.policy.Get().Risk)

	metadata := datatypes.JSONMap{}
	for k, v := range match.Metadata {
		metadata[k] = v
	}
	metadata["verification_method"] = string(req.Lookup.Kind())
	metadata["risk"] = assessment.Metadata()

	var planID *string
	if req.PlanID != "" {
		planID = &req.PlanID
	}

	claimed, err := s.repo.Claim(ctx, s.db, paymentdomain.Claim{
		ID:          match.ID,
		Version:     match.Version,
		OwnerUserID: req.UserID,
		PlanID:      planID,
		VerifiedAt:  now,
		Metadata:    metadata,
	})
	if err != nil || !claimed {
		return claimed, assessment, err
	}

	owner := req.UserID
	match.Status = paymentdomain.StatusVerified
	match.OwnerUserID = &owner
	if planID != nil {
		match.PlanID = planID
	}
	match.VerificationAttempts++
	match.VerifiedAt = &now
	match.Metadata = metadata
	match.Version++
	match.UpdatedAt = now
	return true, assessment, nil
}

// reverify answers the owner asking again about a verified payment. The
// payment stays bound to the plan it was claimed for, and once it has paid for
// a period that period is reported as is.
func (s *Service) reverify(ctx context.Context, req domain.Request, match *paymentdomain.PaymentNotification) (domain.Result, error) {
	bound := derefString(match.PlanID)
	if req.PlanID != "" && bound != "" && req.PlanID != bound {
		return domain.Result{}, domain.ErrPlanMismatch
	}

	result := domain.Result{
		Outcome:      domain.OutcomeAlreadyVerified,
		Notification: match,
		OwnerUserID:  req.UserID,
	}
	if match.Activated() {
		sub, err := s.subscriptions.Get(ctx, *match.SubscriptionID)
		switch {
		case err == nil:
			result.Subscription = sub
			return result, nil
		case !errors.Is(err, subscriptiondomain.ErrNotFound):
			return domain.Result{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
	}

	// Activation never completed for this payment.
	planID := bound
	if planID == "" {
		planID = req.PlanID
	}
	if err := s.checkPlan(ctx, planID, match); err != nil {
		return domain.Result{}, err
	}
	return s.activate(ctx, req, result, planID)
}

// checkPlan rejects a plan the notification cannot pay for, before any write.
func (s *Service) checkPlan(ctx context.Context, planID string, match *paymentdomain.PaymentNotification) error {
	if planID == "" || s.plans == nil {
		return nil
	}
	plan, err := s.plans.Get(ctx, planID)
	if err != nil {
		if errors.Is(err, plandomain.ErrNotFound) || errors.Is(err, plandomain.ErrInvalidID) {
			return subscriptiondomain.ErrPlanNotFound
		}
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if !plan.Active {
		return subscriptiondomain.ErrPlanInactive
	}
	if match.Amount < plan.PriceAmount {
		return subscriptiondomain.ErrInsufficientPayment
	}
	return nil
}

// activate runs the subscription activator for a result the requester owns.
// A failure is returned alongside the result so the caller sees both.
func (s *Service) activate(ctx context.Context, req domain.Request, result domain.Result, planID string) (domain.Result, error) {
	n := result.Notification
	if planID == "" {
		s.log.Debug("no plan on request or notification, skipping activation",
			zap.String("notification_id", n.ID.String()))
		return result, nil
	}

	paid := n.Amount
	sub, err := s.subscriptions.Activate(ctx, subscriptiondomain.ActivateRequest{
		UserID:           req.UserID,
		PlanID:           planID,
		PaymentReference: paymentReference(n),
		PaymentMethod:    subscriptiondomain.DefaultPaymentMethod,
		PaidAmount:       &paid,
	})
	if err != nil {
		return result, fmt.Errorf("%w: %w", domain.ErrActivationFailed, err)
	}
	result.Subscription = sub
	s.markActivated(ctx, n, sub.ID, planID)
	return result, nil
}

func (s *Service) markActivated(ctx context.Context, n *paymentdomain.PaymentNotification, subscriptionID snowflake.ID, planID string) {
	now := s.clock.Now()
	marked, err := s.repo.MarkActivated(ctx, s.db, paymentdomain.Activation{
		ID:             n.ID,
		SubscriptionID: subscriptionID,
		PlanID:         planID,
		At:             now,
	})
	if err != nil {
		s.log.Warn("record activation on notification failed",
			zap.String("notification_id", n.ID.String()),
			zap.String("subscription_id", subscriptionID.String()),
			zap.Error(err),
		)
		return
	}
	if !marked {
		return
	}
	n.SubscriptionID = &subscriptionID
	if n.PlanID == nil {
		n.PlanID = &planID
	}
	n.Version++
	n.UpdatedAt = now
}

func paymentReference(n *paymentdomain.PaymentNotification) string {
	if ref := derefString(n.TransactionReference); ref != "" {
		return ref
	}
	return "notification:" + n.ID.String()
}

func ownerOf(n *paymentdomain.PaymentNotification) string {
	return derefString(n.OwnerUserID)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func positiveDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func positiveInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// IsTransient reports whether the caller may retry the whole request.
func IsTransient(err error) bool {
	return errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrClaimContention)
}
