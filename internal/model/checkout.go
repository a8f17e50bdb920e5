package model

import (
	"time"
)

const (
	CheckoutStatusPending   = "pending"
	CheckoutStatusCompleted = "completed"
	CheckoutStatusExpired   = "expired"
)

var validCheckoutTransitions = map[string][]string{
	CheckoutStatusPending: {CheckoutStatusCompleted, CheckoutStatusExpired},
}

func CanTransitionCheckout(from, to string) bool {
	for _, s := range validCheckoutTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type CheckoutSession struct {
	ID                string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	UserID            string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	PaymentIntent     string    `gorm:"type:varchar(128);index" json:"payment_intent"`
	InternalReference string    `gorm:"type:varchar(128);not null" json:"internal_reference"`
	ProductType       string    `gorm:"type:varchar(32);not null" json:"product_type"`
	AmountCents       int64     `gorm:"not null;default:0" json:"amount_cents"`
	CheckoutURL       string    `gorm:"type:varchar(512)" json:"checkout_url"`
	Status            string    `gorm:"type:varchar(20);index;not null" json:"status"`
	ExpiresAt         time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CheckoutSession) TableName() string {
	return "checkout_sessions"
}
