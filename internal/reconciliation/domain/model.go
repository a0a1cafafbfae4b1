// Package domain describes verification requests and their reconciliation outcomes.
package domain

import (
	"context"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/muanapay/internal/payment/domain"
	"github.com/smallbiznis/muanapay/internal/phone"
	"github.com/smallbiznis/muanapay/internal/risk"
	subscriptiondomain "github.com/smallbiznis/muanapay/internal/subscription/domain"
)

type Service interface {
	Reconcile(ctx context.Context, req Request) (Result, error)
}

type Request struct {
	UserID         string
	PlanID         string
	ExpectedAmount *int64
	Lookup         Lookup
}

// Validate rejects requests that cannot be looked up.
func (r Request) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrInvalidUser
	}
	if r.ExpectedAmount != nil && *r.ExpectedAmount <= 0 {
		return ErrInvalidAmount
	}
	switch l := r.Lookup.(type) {
	case ByPhone:
		if !phone.Matchable(l.Suffix) {
			return ErrInvalidPhone
		}
	case ByReference:
		if strings.TrimSpace(l.Reference) == "" {
			return ErrInvalidRequest
		}
	default:
		return ErrInvalidRequest
	}
	return nil
}

type Outcome string

const (
	OutcomeClaimed         Outcome = "claimed"
	OutcomeAlreadyVerified Outcome = "already_verified"
	OutcomeUsedByOther     Outcome = "used_by_other"
	OutcomeLockedByOther   Outcome = "locked_by_other"
	OutcomeNotReady        Outcome = "not_ready"
)

type Result struct {
	Outcome      Outcome
	Notification *paymentdomain.PaymentNotification
	OwnerUserID  string
	Subscription *subscriptiondomain.Subscription
	Risk         *risk.Assessment

	// PollAfter and MaxWait are set only for OutcomeNotReady.
	PollAfter time.Duration
	MaxWait   time.Duration
}

// Success reports whether the requester now owns the notification.
func (r Result) Success() bool {
	return r.Outcome == OutcomeClaimed || r.Outcome == OutcomeAlreadyVerified
}

// Conflict reports whether another user holds the notification.
func (r Result) Conflict() bool {
	return r.Outcome == OutcomeUsedByOther || r.Outcome == OutcomeLockedByOther
}
