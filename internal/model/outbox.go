package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// Ledger event names published through the outbox.
const (
	EventCreditsGranted     = "credits.granted"
	EventSubscriptionActive = "subscription.activated"
	EventSubscriptionEnded  = "subscription.ended"
	EventModuleUnlocked     = "module.unlocked"
	EventCreditsRefunded    = "credits.refunded"
	EventCouponRedeemed     = "coupon.redeemed"
)

// OutboxMessage is written in the same transaction as the ledger change it
// describes and relayed to Kafka afterwards.
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(128);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// LedgerEvent is the JSON payload of an outbox message.
type LedgerEvent struct {
	Event      string    `json:"event"`
	UserID     string    `json:"user_id"`
	ChargeID   string    `json:"charge_id"`
	Provider   string    `json:"provider,omitempty"`
	ProductRef string    `json:"product_ref,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Balance    string    `json:"balance,omitempty"`
	Tier       string    `json:"tier,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
