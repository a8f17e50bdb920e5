package model

import (
	"time"
)

// Product is the authoritative catalog row keyed by internal reference.
// When present its price overrides the static configuration.
type Product struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	InternalReference string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"internal_reference"`
	ProductType       string    `gorm:"type:varchar(32);not null" json:"product_type"`
	Name              string    `gorm:"type:varchar(255)" json:"name"`
	PriceCents        int64     `gorm:"not null;default:0" json:"price_cents"`
	CreditAmount      int64     `gorm:"not null;default:0" json:"credit_amount"`
	Tier              string    `gorm:"type:varchar(32)" json:"tier"`
	FanbasesProductID string    `gorm:"type:varchar(128)" json:"fanbases_product_id"`
	Active            bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}
