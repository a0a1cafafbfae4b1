package domain

import "errors"

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrPlanNotFound         = errors.New("plan_not_found")
	ErrPlanInactive         = errors.New("plan_inactive")
	ErrActivationBusy       = errors.New("activation_busy")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrNotFound             = errors.New("subscription_not_found")
	ErrInsufficientPayment  = errors.New("insufficient_payment")
)
