package model

import (
	"time"
)

const (
	CouponTypeTrial    = "trial"
	CouponTypeDiscount = "discount"
)

type Coupon struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Code            string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	Type            string     `gorm:"type:varchar(20);not null" json:"type"`
	Months          int        `gorm:"not null;default:0" json:"months"`
	DiscountPercent int        `gorm:"not null;default:0" json:"discount_percent"`
	MaxUses         int        `gorm:"not null;default:0" json:"max_uses"`
	Uses            int        `gorm:"not null;default:0" json:"uses"`
	ExpiresAt       *time.Time `json:"expires_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Coupon) TableName() string {
	return "coupons"
}

// Valid reports whether the coupon can still be redeemed at now.
func (c *Coupon) Valid(now time.Time) bool {
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return false
	}
	return c.Uses < c.MaxUses
}

// CouponRedemption records one application of a coupon to one charge.
// The (coupon_id, charge_id) pair is unique.
type CouponRedemption struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CouponID  int64     `gorm:"uniqueIndex:idx_coupon_charge;not null" json:"coupon_id"`
	ChargeID  string    `gorm:"type:varchar(128);uniqueIndex:idx_coupon_charge;not null" json:"charge_id"`
	UserID    string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (CouponRedemption) TableName() string {
	return "coupon_redemptions"
}
