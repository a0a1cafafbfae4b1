package domain

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid_verification_request")
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidPhone   = errors.New("invalid_phone")
	ErrInvalidAmount  = errors.New("invalid_amount")
	ErrPlanMismatch   = errors.New("plan_mismatch")

	ErrStoreUnavailable = errors.New("store_unavailable")
	ErrClaimContention  = errors.New("claim_contention")
	ErrActivationFailed = errors.New("activation_failed")
)
