// Package domain contains the subscription model activated by verified payments.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

const DefaultPaymentMethod = "mobile_money"

// Subscription grants a user access to a plan for one billing period.
// At most one active row exists per user.
type Subscription struct {
	ID               snowflake.ID       `json:"id" gorm:"primaryKey;autoIncrement:false"`
	UserID           string             `json:"user_id" gorm:"type:text;not null;uniqueIndex:subscriptions_one_active_per_user,where:status = 'active'"`
	AgencyID         *string            `json:"agency_id,omitempty" gorm:"type:text"`
	PlanID           string             `json:"plan_id" gorm:"type:text;not null"`
	Status           SubscriptionStatus `json:"status" gorm:"type:text;not null"`
	StartDate        time.Time          `json:"start_date" gorm:"not null"`
	EndDate          time.Time          `json:"end_date" gorm:"not null"`
	LastPaymentDate  *time.Time         `json:"last_payment_date,omitempty"`
	NextPaymentDate  *time.Time         `json:"next_payment_date,omitempty"`
	PaymentMethod    string             `json:"payment_method" gorm:"type:text;not null"`
	PaymentReference *string            `json:"payment_reference,omitempty" gorm:"type:text"`
	CreatedAt        time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time          `json:"updated_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }
