package model

import (
	"time"
)

const PurchaseStatusCompleted = "completed"

const (
	ProductTypeTopup        = "topup"
	ProductTypeSubscription = "subscription"
	ProductTypeModule       = "module"
	ProductTypeRefund       = "refund"
)

const (
	ProviderThriveCart = "thrivecart"
	ProviderFanbases   = "fanbases"
)

// UserPurchase marks an external charge as consumed. ChargeID is unique, so a
// completed row is the idempotency record for that charge.
type UserPurchase struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      string    `gorm:"type:varchar(64);index:idx_purchase_user_product;not null" json:"user_id"`
	ProductID   string    `gorm:"type:varchar(128);index:idx_purchase_user_product;not null" json:"product_id"`
	ProductType string    `gorm:"type:varchar(32);not null" json:"product_type"`
	AmountCents int64     `gorm:"not null;default:0" json:"amount_cents"`
	ChargeID    string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"charge_id"`
	Provider    string    `gorm:"type:varchar(32);not null" json:"provider"`
	Status      string    `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserPurchase) TableName() string {
	return "user_purchases"
}
