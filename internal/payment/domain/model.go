// Package domain holds the payment notification model shared by ingestion and reconciliation.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type NotificationStatus string

const (
	StatusUnmatched NotificationStatus = "unmatched"
	StatusPending   NotificationStatus = "pending"
	StatusVerified  NotificationStatus = "verified"
)

// Claimable reports whether a notification in this status may still be bound to a user.
func (s NotificationStatus) Claimable() bool {
	return s == StatusPending || s == StatusUnmatched
}

const DefaultCurrency = "XOF"

// PaymentNotification is one inbound payment signal awaiting reconciliation.
type PaymentNotification struct {
	ID                   snowflake.ID       `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Fingerprint          string             `json:"fingerprint" gorm:"type:text;not null;uniqueIndex"`
	TransactionReference *string            `json:"transaction_reference,omitempty" gorm:"type:text;index"`
	Sender               *string            `json:"sender,omitempty" gorm:"type:text"`
	CounterpartyPhone    *string            `json:"counterparty_phone,omitempty" gorm:"type:text"`
	Message              *string            `json:"message,omitempty" gorm:"type:text"`
	Amount               int64              `json:"amount" gorm:"not null;default:0"`
	Currency             string             `json:"currency" gorm:"type:text;not null"`
	Status               NotificationStatus `json:"status" gorm:"type:text;not null"`
	OwnerUserID          *string            `json:"owner_user_id,omitempty" gorm:"type:text"`
	PlanID               *string            `json:"plan_id,omitempty" gorm:"type:text"`
	SubscriptionID       *snowflake.ID      `json:"subscription_id,omitempty"`
	VerificationAttempts int                `json:"verification_attempts" gorm:"not null;default:0"`
	VerifiedAt           *time.Time         `json:"verified_at,omitempty"`
	Timestamp            time.Time          `json:"timestamp" gorm:"column:timestamp;not null;index"`
	Metadata             datatypes.JSONMap  `json:"metadata,omitempty" gorm:"type:jsonb"`
	Version              int64              `json:"-" gorm:"not null;default:0"`
	CreatedAt            time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time          `json:"updated_at" gorm:"not null"`
}

func (PaymentNotification) TableName() string { return "payment_notifications" }

// OwnedBy reports whether the notification is bound to userID.
func (n PaymentNotification) OwnedBy(userID string) bool {
	return n.OwnerUserID != nil && *n.OwnerUserID == userID
}

// Activated reports whether this payment already paid for a subscription period.
func (n PaymentNotification) Activated() bool {
	return n.SubscriptionID != nil && *n.SubscriptionID != 0
}

// Unowned reports whether no user has been bound yet.
func (n PaymentNotification) Unowned() bool {
	return n.OwnerUserID == nil || *n.OwnerUserID == ""
}

// Claim is the conditional write that binds a notification to a user.
type Claim struct {
	ID          snowflake.ID
	Version     int64
	OwnerUserID string
	PlanID      *string
	VerifiedAt  time.Time
	Metadata    datatypes.JSONMap
}

// Activation links a verified notification to the subscription it paid for.
type Activation struct {
	ID             snowflake.ID
	SubscriptionID snowflake.ID
	PlanID         string
	At             time.Time
}

type IngestRequest struct {
	Sender               string         `json:"sender"`
	Message              string         `json:"message"`
	CounterpartyPhone    string         `json:"counterparty_phone"`
	TransactionReference string         `json:"transaction_reference"`
	Amount               int64          `json:"amount"`
	Currency             string         `json:"currency"`
	Status               string         `json:"status"`
	Timestamp            *time.Time     `json:"timestamp"`
	Metadata             map[string]any `json:"metadata"`
}

type IngestResult struct {
	Notification PaymentNotification `json:"notification"`
	Created      bool                `json:"created"`
}

type ListRequest struct {
	Status    string
	PageToken string
	PageSize  int
}

type ListFilter struct {
	Status   *NotificationStatus
	Before   *time.Time
	BeforeID snowflake.ID
	Limit    int
}

type ListResponse struct {
	Notifications []PaymentNotification `json:"notifications"`
	NextPageToken string                `json:"next_page_token,omitempty"`
	HasMore       bool                  `json:"has_more"`
}
