package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/muanapay/internal/subscription/domain"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, user_id, agency_id, plan_id, status, start_date, end_date,
	last_payment_date, next_payment_date, payment_method, payment_reference, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) FindActiveByUserID(ctx context.Context, db *gorm.DB, userID string) (*subscriptiondomain.Subscription, error) {
	var item subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = ? AND status = ?
		 LIMIT 1`,
		userID,
		subscriptiondomain.SubscriptionStatusActive,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ? LIMIT 1`,
		id,
	)
}

func (r *repo) FindByPaymentReference(ctx context.Context, db *gorm.DB, userID, reference string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = ? AND payment_reference = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		userID,
		reference,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*subscriptiondomain.Subscription, error) {
	var item subscriptiondomain.Subscription
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, s *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.UserID,
		s.AgencyID,
		s.PlanID,
		s.Status,
		s.StartDate,
		s.EndDate,
		s.LastPaymentDate,
		s.NextPaymentDate,
		s.PaymentMethod,
		s.PaymentReference,
		s.CreatedAt,
		s.UpdatedAt,
	).Error
}

func (r *repo) UpdatePeriod(ctx context.Context, db *gorm.DB, s *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?,
		     agency_id = ?,
		     plan_id = ?,
		     start_date = ?,
		     end_date = ?,
		     last_payment_date = ?,
		     next_payment_date = ?,
		     payment_method = ?,
		     payment_reference = ?,
		     updated_at = ?
		 WHERE id = ?`,
		subscriptiondomain.SubscriptionStatusActive,
		s.AgencyID,
		s.PlanID,
		s.StartDate,
		s.EndDate,
		s.LastPaymentDate,
		s.NextPaymentDate,
		s.PaymentMethod,
		s.PaymentReference,
		s.UpdatedAt,
		s.ID,
	).Error
}

func (r *repo) ExpireDue(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = ?
		 WHERE id IN (
		   SELECT id FROM subscriptions
		   WHERE status = ? AND end_date <= ?
		   ORDER BY end_date, id
		   LIMIT ?
		 )
		 AND status = ?`,
		subscriptiondomain.SubscriptionStatusExpired,
		asOf,
		subscriptiondomain.SubscriptionStatusActive,
		asOf,
		limit,
		subscriptiondomain.SubscriptionStatusActive,
	)
	return res.RowsAffected, res.Error
}
