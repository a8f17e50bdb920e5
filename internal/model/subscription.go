package model

import (
	"time"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusPaused    = "paused"
)

// Subscription is the current entitlement of a user, one row per user.
// History lives in CreditTransaction.
type Subscription struct {
	ID                     int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID                 string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	Tier                   string    `gorm:"type:varchar(32);not null" json:"tier"`
	Status                 string    `gorm:"type:varchar(20);not null" json:"status"`
	Provider               string    `gorm:"type:varchar(32)" json:"provider"`
	ExternalSubscriptionID string    `gorm:"type:varchar(128)" json:"external_subscription_id"`
	CurrentPeriodStart     time.Time `json:"current_period_start"`
	CurrentPeriodEnd       time.Time `json:"current_period_end"`
	CreatedAt              time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
