package repository

import (
	"context"
	"errors"

	"coursepay/internal/model"

	"gorm.io/gorm"
)

var ErrDuplicateCharge = errors.New("charge already recorded")

type PurchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// Create inserts the purchase row. A second row for the same charge id
// surfaces as ErrDuplicateCharge.
func (r *PurchaseRepository) Create(ctx context.Context, tx *gorm.DB, purchase *model.UserPurchase) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(purchase).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateCharge
	}
	return err
}

// GetCompletedByChargeID returns nil, nil when the charge has not been applied.
func (r *PurchaseRepository) GetCompletedByChargeID(ctx context.Context, tx *gorm.DB, chargeID string) (*model.UserPurchase, error) {
	if tx == nil {
		tx = r.db
	}
	var purchase model.UserPurchase
	err := tx.WithContext(ctx).
		Where("charge_id = ? AND status = ?", chargeID, model.PurchaseStatusCompleted).
		First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &purchase, nil
}

func (r *PurchaseRepository) GetCompletedByUserAndProduct(ctx context.Context, tx *gorm.DB, userID, productID string) (*model.UserPurchase, error) {
	if tx == nil {
		tx = r.db
	}
	var purchase model.UserPurchase
	err := tx.WithContext(ctx).
		Where("user_id = ? AND product_id = ? AND status = ?", userID, productID, model.PurchaseStatusCompleted).
		First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &purchase, nil
}

func (r *PurchaseRepository) ListByUserID(ctx context.Context, userID string) ([]*model.UserPurchase, error) {
	var purchases []*model.UserPurchase
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&purchases).Error
	return purchases, err
}
