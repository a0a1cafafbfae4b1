package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindActiveByUserID(ctx context.Context, db *gorm.DB, userID string) (*Subscription, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	// FindByPaymentReference returns the user's row paid by reference in any status.
	FindByPaymentReference(ctx context.Context, db *gorm.DB, userID, reference string) (*Subscription, error)
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	// UpdatePeriod rewrites plan, dates and payment fields of an existing row.
	UpdatePeriod(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	ExpireDue(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) (int64, error)
}
