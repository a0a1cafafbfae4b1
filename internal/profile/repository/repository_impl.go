package repository

import (
	"context"

	"github.com/smallbiznis/muanapay/internal/profile/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*domain.Profile, error) {
	var p domain.Profile
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, agency_id, created_at, updated_at FROM profiles WHERE user_id = ?`,
		userID,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, p *domain.Profile) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO profiles (user_id, agency_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET agency_id = excluded.agency_id, updated_at = excluded.updated_at`,
		p.UserID,
		p.AgencyID,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}
