package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"coursepay/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidAmount = errors.New("credit amount must be positive")
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.UserAccount) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) GetByID(ctx context.Context, tx *gorm.DB, userID string) (*model.UserAccount, error) {
	if tx == nil {
		tx = r.db
	}
	var user model.UserAccount
	err := tx.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.UserAccount, error) {
	var user model.UserAccount
	err := r.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetByIDForUpdate locks the account row for the rest of tx.
func (r *UserRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.UserAccount, error) {
	var user model.UserAccount
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetOrCreateByEmail returns the account for email, creating a free account
// with zero credits when none exists. Concurrent creators converge on one row.
func (r *UserRepository) GetOrCreateByEmail(ctx context.Context, email, name string) (*model.UserAccount, bool, error) {
	user, err := r.GetByEmail(ctx, email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	newUser := &model.UserAccount{
		ID:               uuid.NewString(),
		Email:            normalizeEmail(email),
		Name:             name,
		Credits:          decimal.Zero,
		SubscriptionTier: model.TierFree,
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoNothing: true,
		}).
		Create(newUser)
	if result.Error != nil {
		return nil, false, result.Error
	}

	user, err = r.GetByEmail(ctx, email)
	if err != nil {
		return nil, false, err
	}
	return user, result.RowsAffected == 1, nil
}

// IncreaseCredits adds amount in a single UPDATE so concurrent grants never
// lose an update.
func (r *UserRepository) IncreaseCredits(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.UserAccount{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"credits":            gorm.Expr("credits + ?", amount),
			"last_credit_update": now,
			"version":            gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DecreaseCreditsFloored subtracts amount, clamping the balance at zero.
func (r *UserRepository) DecreaseCreditsFloored(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.UserAccount{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"credits":            gorm.Expr("CASE WHEN credits > ? THEN credits - ? ELSE 0 END", amount, amount),
			"last_credit_update": now,
			"version":            gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetTier records the subscription tier and its monthly allowance on the account.
func (r *UserRepository) SetTier(ctx context.Context, tx *gorm.DB, userID, tier string, monthlyCredits int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.UserAccount{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"subscription_tier": tier,
			"monthly_credits":   monthlyCredits,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
