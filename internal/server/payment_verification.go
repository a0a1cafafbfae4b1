package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/muanapay/internal/observability/context"
	"github.com/smallbiznis/muanapay/internal/observability/logger"
	"github.com/smallbiznis/muanapay/internal/reconciliation/domain"
	reconservice "github.com/smallbiznis/muanapay/internal/reconciliation/service"
	"github.com/smallbiznis/muanapay/internal/risk"
	subscriptiondomain "github.com/smallbiznis/muanapay/internal/subscription/domain"
	"go.uber.org/zap"
)

type verifyPaymentRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	PlanID        string `json:"plan_id"`
	AmountCents   *int64 `json:"amount_cents" binding:"omitempty,gt=0"`
	SenderNumber  string `json:"sender_number" binding:"omitempty,msisdn"`
	TransactionID string `json:"transaction_id"`
}

type verifyPaymentResponse struct {
	Success          bool                             `json:"success"`
	Found            bool                             `json:"found"`
	Verified         bool                             `json:"verified,omitempty"`
	AlreadyVerified  bool                             `json:"already_verified,omitempty"`
	UsedByOther      bool                             `json:"used_by_other,omitempty"`
	Conflict         bool                             `json:"conflict,omitempty"`
	NotReady         bool                             `json:"not_ready,omitempty"`
	OwnerUserID      string                           `json:"owner_user_id,omitempty"`
	TransactionID    string                           `json:"transaction_id,omitempty"`
	Subscription     *subscriptiondomain.Subscription `json:"subscription,omitempty"`
	Message          string                           `json:"message"`
	PollAfterSeconds int64                            `json:"poll_after_seconds,omitempty"`
	MaxWaitSeconds   int64                            `json:"max_wait_seconds,omitempty"`
	Timestamp        time.Time                        `json:"timestamp"`
	Risk             *risk.Assessment                 `json:"risk,omitempty"`
}

const (
	messageClaimed         = "payment verified, subscription activated"
	messageClaimedNoPlan   = "payment verified"
	messageAlreadyVerified = "payment already verified for this account"
	messagePeriodEnded     = "payment already used for a subscription period that has ended"
	messageUsedByOther     = "this payment was already used by another account, contact support"
	messageLockedByOther   = "this payment is being verified by another account, contact support"
	messageNotReady        = "payment not received yet, keep this page open"
)

// VerifyPayment binds an out-of-band payment to the requesting user.
func (s *Server) VerifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	lookup := domain.LookupFrom(req.SenderNumber, req.TransactionID)
	if lookup == nil {
		AbortWithError(c, newValidationError("sender_number", "required", "sender_number or transaction_id is required"))
		return
	}

	userID := strings.TrimSpace(req.UserID)
	ctx := obscontext.WithUserID(c.Request.Context(), userID)
	c.Request = c.Request.WithContext(ctx)
	result, err := s.reconSvc.Reconcile(ctx, domain.Request{
		UserID:         userID,
		PlanID:         strings.TrimSpace(req.PlanID),
		ExpectedAmount: req.AmountCents,
		Lookup:         lookup,
	})
	if result.Outcome != "" {
		c.Set("verification_outcome", string(result.Outcome))
	}
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrActivationFailed):
			logger.FromContext(ctx).Error("payment verified but activation failed",
				zap.String("outcome", string(result.Outcome)),
				zap.Error(err),
			)
		case reconservice.IsTransient(err):
			c.Header("Retry-After", "1")
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, s.verifyResponse(result))
}

func (s *Server) verifyResponse(result domain.Result) verifyPaymentResponse {
	resp := verifyPaymentResponse{
		Success:     result.Success(),
		Found:       result.Outcome != domain.OutcomeNotReady,
		Conflict:    result.Conflict(),
		OwnerUserID: result.OwnerUserID,
		Timestamp:   s.now(),
		Risk:        result.Risk,
	}
	if n := result.Notification; n != nil {
		if n.TransactionReference != nil && *n.TransactionReference != "" {
			resp.TransactionID = *n.TransactionReference
		} else {
			resp.TransactionID = n.ID.String()
		}
	}

	switch result.Outcome {
	case domain.OutcomeClaimed:
		resp.Verified = true
		resp.Subscription = result.Subscription
		resp.Message = messageClaimedNoPlan
		if result.Subscription != nil {
			resp.Message = messageClaimed
		}
	case domain.OutcomeAlreadyVerified:
		resp.Verified = true
		resp.AlreadyVerified = true
		resp.Subscription = result.Subscription
		resp.Message = messageAlreadyVerified
		if sub := result.Subscription; sub != nil && sub.Status != subscriptiondomain.SubscriptionStatusActive {
			resp.Message = messagePeriodEnded
		}
	case domain.OutcomeUsedByOther:
		resp.UsedByOther = true
		resp.Message = messageUsedByOther
	case domain.OutcomeLockedByOther:
		resp.Message = messageLockedByOther
	case domain.OutcomeNotReady:
		resp.NotReady = true
		resp.Message = messageNotReady
		resp.PollAfterSeconds = int64(result.PollAfter / time.Second)
		resp.MaxWaitSeconds = int64(result.MaxWait / time.Second)
	}
	return resp
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}
