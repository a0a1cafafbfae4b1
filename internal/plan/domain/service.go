package domain

import (
	"context"
	"errors"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Plan, error)
	Get(ctx context.Context, id string) (*Plan, error)
	List(ctx context.Context, req ListRequest) ([]Plan, error)
}

type CreateRequest struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name" binding:"required"`
	BillingCycle string `json:"billing_cycle" binding:"required"`
	PriceAmount  int64  `json:"price_amount" binding:"gte=0"`
	Currency     string `json:"currency"`
	Active       *bool  `json:"active"`
}

type ListRequest struct {
	ActiveOnly bool
}

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidBillingCycle = errors.New("invalid_billing_cycle")
	ErrInvalidPrice        = errors.New("invalid_price")
	ErrInvalidID           = errors.New("invalid_id")
	ErrDuplicateCode       = errors.New("duplicate_plan_code")
	ErrNotFound            = errors.New("plan_not_found")
)
