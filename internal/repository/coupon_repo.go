package repository

import (
	"context"
	"errors"
	"strings"

	"coursepay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrCouponNotFound  = errors.New("coupon not found")
	ErrCouponExhausted = errors.New("coupon has no uses left")
	ErrCouponRedeemed  = errors.New("coupon already redeemed for this charge")
)

type CouponRepository struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

func (r *CouponRepository) Create(ctx context.Context, coupon *model.Coupon) error {
	coupon.Code = normalizeCode(coupon.Code)
	return r.db.WithContext(ctx).Create(coupon).Error
}

func (r *CouponRepository) GetByCode(ctx context.Context, tx *gorm.DB, code string) (*model.Coupon, error) {
	if tx == nil {
		tx = r.db
	}
	var coupon model.Coupon
	err := tx.WithContext(ctx).Where("code = ?", normalizeCode(code)).First(&coupon).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return &coupon, nil
}

// IncrementUses bumps the counter only while uses < max_uses, so the
// counter can never pass its limit under concurrent redemptions.
func (r *CouponRepository) IncrementUses(ctx context.Context, tx *gorm.DB, couponID int64) error {
	result := tx.WithContext(ctx).
		Model(&model.Coupon{}).
		Where("id = ? AND uses < max_uses", couponID).
		UpdateColumn("uses", gorm.Expr("uses + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCouponExhausted
	}
	return nil
}

func (r *CouponRepository) GetRedemption(ctx context.Context, tx *gorm.DB, couponID int64, chargeID string) (*model.CouponRedemption, error) {
	if tx == nil {
		tx = r.db
	}
	var redemption model.CouponRedemption
	err := tx.WithContext(ctx).
		Where("coupon_id = ? AND charge_id = ?", couponID, chargeID).
		First(&redemption).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &redemption, nil
}

func (r *CouponRepository) CreateRedemption(ctx context.Context, tx *gorm.DB, redemption *model.CouponRedemption) error {
	err := tx.WithContext(ctx).Create(redemption).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrCouponRedeemed
	}
	return err
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
