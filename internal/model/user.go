package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TierFree = "free"
	TierOne  = "tier1"
	TierTwo  = "tier2"
)

// UserAccount holds a user's credit balance and current entitlement.
// Rows are only ever created or mutated here, never deleted.
type UserAccount struct {
	ID                 string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	Email              string          `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name               string          `gorm:"type:varchar(255)" json:"name"`
	Credits            decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"credits"`
	SubscriptionTier   string          `gorm:"type:varchar(32);not null;default:free" json:"subscription_tier"`
	MonthlyCredits     int64           `gorm:"not null;default:0" json:"monthly_credits"` // monthly allowance of the active tier
	FanbasesCustomerID string          `gorm:"type:varchar(128);index" json:"fanbases_customer_id,omitempty"`
	LastCreditUpdate   *time.Time      `json:"last_credit_update,omitempty"`
	Version            int             `gorm:"not null;default:0" json:"version"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserAccount) TableName() string {
	return "user_accounts"
}
