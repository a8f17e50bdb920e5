package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	TransactionTypePurchase       = "purchase"
	TransactionTypeSubscription   = "subscription"
	TransactionTypeTopup          = "topup"
	TransactionTypeRefund         = "refund"
	TransactionTypeTrial          = "trial"
	TransactionTypeModulePurchase = "module_purchase"
)

// CreditTransaction is the credit audit log.
//
// Rows are append-only: never updated, never deleted. BalanceBefore and
// BalanceAfter make every row checkable against the account balance.
type CreditTransaction struct {
	ID            int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        string            `gorm:"type:varchar(64);index;not null" json:"user_id"`
	ChargeID      string            `gorm:"type:varchar(128);index" json:"charge_id"`
	Amount        decimal.Decimal   `gorm:"type:decimal(20,2);not null" json:"amount"` // signed credit delta
	Type          string            `gorm:"type:varchar(32);not null" json:"type"`
	PaymentMethod string            `gorm:"type:varchar(32)" json:"payment_method"`
	BalanceBefore decimal.Decimal   `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal   `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Metadata      datatypes.JSONMap `json:"metadata"`
	CreatedAt     time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}
