package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Profile links an application user to the agency it subscribes on behalf of.
type Profile struct {
	UserID    string    `json:"user_id" gorm:"primaryKey;type:text"`
	AgencyID  *string   `json:"agency_id,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Profile) TableName() string { return "profiles" }

type Repository interface {
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*Profile, error)
	Upsert(ctx context.Context, db *gorm.DB, profile *Profile) error
}
