package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/muanapay/internal/payment/domain"
	"gorm.io/gorm"
)

const notificationColumns = `id, fingerprint, transaction_reference, sender, counterparty_phone, message,
	amount, currency, status, owner_user_id, plan_id, subscription_id, verification_attempts, verified_at,
	timestamp, metadata, version, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, n *domain.PaymentNotification) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_notifications (`+notificationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		n.ID,
		n.Fingerprint,
		n.TransactionReference,
		n.Sender,
		n.CounterpartyPhone,
		n.Message,
		n.Amount,
		n.Currency,
		n.Status,
		n.OwnerUserID,
		n.PlanID,
		n.SubscriptionID,
		n.VerificationAttempts,
		n.VerifiedAt,
		n.Timestamp,
		n.Metadata,
		n.Version,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentNotification, error) {
	return r.findOne(ctx, db, `SELECT `+notificationColumns+` FROM payment_notifications WHERE id = ? LIMIT 1`, id)
}

func (r *repo) FindByFingerprint(ctx context.Context, db *gorm.DB, fingerprint string) (*domain.PaymentNotification, error) {
	return r.findOne(ctx, db, `SELECT `+notificationColumns+` FROM payment_notifications WHERE fingerprint = ? LIMIT 1`, fingerprint)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.PaymentNotification, error) {
	var item domain.PaymentNotification
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByPhoneKey(ctx context.Context, db *gorm.DB, key string, statuses []domain.NotificationStatus, limit int) ([]domain.PaymentNotification, error) {
	pattern := "%" + key + "%"
	var items []domain.PaymentNotification
	err := db.WithContext(ctx).Raw(
		`SELECT `+notificationColumns+`
		 FROM payment_notifications
		 WHERE status IN ?
		   AND (counterparty_phone LIKE ? OR message LIKE ?)
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		statuses,
		pattern,
		pattern,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string, statuses []domain.NotificationStatus, limit int) ([]domain.PaymentNotification, error) {
	var items []domain.PaymentNotification
	err := db.WithContext(ctx).Raw(
		`SELECT `+notificationColumns+`
		 FROM payment_notifications
		 WHERE status IN ? AND transaction_reference = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		statuses,
		reference,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Claim succeeds only while the row still carries the version the caller read,
// is claimable, and is unowned or owned by the claimant.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, claim domain.Claim) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_notifications
		 SET status = ?,
		     owner_user_id = ?,
		     plan_id = COALESCE(?, plan_id),
		     verification_attempts = verification_attempts + 1,
		     verified_at = ?,
		     metadata = ?,
		     version = version + 1,
		     updated_at = ?
		 WHERE id = ?
		   AND version = ?
		   AND status IN ?
		   AND (owner_user_id IS NULL OR owner_user_id = ?)`,
		domain.StatusVerified,
		claim.OwnerUserID,
		claim.PlanID,
		claim.VerifiedAt,
		claim.Metadata,
		claim.VerifiedAt,
		claim.ID,
		claim.Version,
		[]domain.NotificationStatus{domain.StatusPending, domain.StatusUnmatched},
		claim.OwnerUserID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkActivated(ctx context.Context, db *gorm.DB, mark domain.Activation) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_notifications
		 SET subscription_id = ?,
		     plan_id = COALESCE(plan_id, ?),
		     version = version + 1,
		     updated_at = ?
		 WHERE id = ?
		   AND status = ?
		   AND subscription_id IS NULL`,
		mark.SubscriptionID,
		mark.PlanID,
		mark.At,
		mark.ID,
		domain.StatusVerified,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.PaymentNotification, error) {
	query := db.WithContext(ctx).Model(&domain.PaymentNotification{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Before != nil {
		query = query.Where("(timestamp < ? OR (timestamp = ? AND id < ?))", *filter.Before, *filter.Before, filter.BeforeID)
	}

	var items []domain.PaymentNotification
	if err := query.Order("timestamp DESC").Order("id DESC").Limit(filter.Limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
