package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert stores the notification unless its fingerprint is already known.
	Insert(ctx context.Context, db *gorm.DB, notification *PaymentNotification) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentNotification, error)
	FindByFingerprint(ctx context.Context, db *gorm.DB, fingerprint string) (*PaymentNotification, error)
	// FindByPhoneKey returns notifications whose phone or message contains key, newest first.
	FindByPhoneKey(ctx context.Context, db *gorm.DB, key string, statuses []NotificationStatus, limit int) ([]PaymentNotification, error)
	// FindByReference returns notifications with the exact reference, newest first.
	FindByReference(ctx context.Context, db *gorm.DB, reference string, statuses []NotificationStatus, limit int) ([]PaymentNotification, error)
	// Claim applies the conditional binding write and reports whether it won.
	Claim(ctx context.Context, db *gorm.DB, claim Claim) (bool, error)
	// MarkActivated records the subscription a claimed notification paid for.
	// It only writes once and reports whether it did.
	MarkActivated(ctx context.Context, db *gorm.DB, mark Activation) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]PaymentNotification, error)
}
