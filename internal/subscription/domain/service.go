package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Activate(ctx context.Context, req ActivateRequest) (*Subscription, error)
	GetActive(ctx context.Context, userID string) (*Subscription, error)
	Get(ctx context.Context, id snowflake.ID) (*Subscription, error)
	// ExpireDue flips up to limit active rows whose period ended at or
	// before asOf to expired and reports how many changed.
	ExpireDue(ctx context.Context, asOf time.Time, limit int) (int, error)
}

type ActivateRequest struct {
	UserID           string
	PlanID           string
	PaymentReference string
	PaymentMethod    string
	// PaidAmount, when set, must cover the plan price.
	PaidAmount *int64
}
