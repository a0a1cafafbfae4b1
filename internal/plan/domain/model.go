package domain

import "time"

// Plan is a purchasable subscription offer.
type Plan struct {
	ID           string    `json:"id" gorm:"primaryKey;type:text"`
	Code         string    `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name         string    `json:"name" gorm:"type:text;not null"`
	BillingCycle string    `json:"billing_cycle" gorm:"type:text;not null"`
	PriceAmount  int64     `json:"price_amount" gorm:"not null;default:0"`
	Currency     string    `json:"currency" gorm:"type:text;not null"`
	Active       bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"not null"`
}

func (Plan) TableName() string { return "plans" }
