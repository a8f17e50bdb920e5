package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursepay/internal/logging"
	"coursepay/internal/metrics"
	"coursepay/internal/model"
	"coursepay/internal/repository"
	"coursepay/pkg/idgen"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CouponResult struct {
	Code            string          `json:"code"`
	Type            string          `json:"type,omitempty"`
	Applied         bool            `json:"applied"`
	AlreadyRedeemed bool            `json:"already_redeemed,omitempty"`
	CreditsAdded    int64           `json:"credits_added,omitempty"`
	Tier            string          `json:"tier,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Balance         decimal.Decimal `json:"-"`
}

// CouponEngine redeems coupons on top of an order that has already been
// granted. A redemption is keyed by (coupon, charge); the uses counter, the
// trial credits and the redemption row commit together.
type CouponEngine struct {
	db              *gorm.DB
	granter         *Granter
	catalog         *Catalog
	logger          *zerolog.Logger
	couponRepo      *repository.CouponRepository
	userRepo        *repository.UserRepository
	transactionRepo *repository.TransactionRepository
	now             func() time.Time
}

func NewCouponEngine(db *gorm.DB, granter *Granter, catalog *Catalog, logger *zerolog.Logger) *CouponEngine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &CouponEngine{
		db:              db,
		granter:         granter,
		catalog:         catalog,
		logger:          logger,
		couponRepo:      repository.NewCouponRepository(db),
		userRepo:        repository.NewUserRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		now:             time.Now,
	}
}

// Apply redeems code for the order identified by chargeID. Rejections are
// reported in the result, not as errors: the order itself already succeeded.
func (e *CouponEngine) Apply(ctx context.Context, userID, code, chargeID string, product *ProductDescriptor) (*CouponResult, error) {
	result := &CouponResult{Code: code}

	coupon, err := e.couponRepo.GetByCode(ctx, nil, code)
	if errors.Is(err, repository.ErrCouponNotFound) {
		return e.reject(result, "coupon not found"), nil
	}
	if err != nil {
		return nil, InternalError("coupon lookup failed", err)
	}
	result.Type = coupon.Type

	// a redelivered order may have used the coupon's last slot itself
	redeemed, err := e.couponRepo.GetRedemption(ctx, nil, coupon.ID, chargeID)
	if err != nil {
		return nil, InternalError("coupon lookup failed", err)
	}
	if redeemed != nil {
		return e.replay(result), nil
	}

	if !coupon.Valid(e.now()) {
		return e.reject(result, "coupon expired or fully used"), nil
	}

	var credits, monthly int64
	var tier string
	switch coupon.Type {
	case model.CouponTypeTrial:
		if product == nil || product.Kind != model.ProductTypeSubscription {
			return e.reject(result, "trial coupons apply to subscriptions only"), nil
		}
		tier = product.Tier
		monthly = e.catalog.MonthlyCredits(tier)
		if monthly <= 0 || coupon.Months <= 0 {
			return e.reject(result, "trial coupon grants nothing"), nil
		}
		credits = monthly * int64(coupon.Months)
	case model.CouponTypeDiscount:
	default:
		return e.reject(result, fmt.Sprintf("unsupported coupon type %q", coupon.Type)), nil
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		redeemed, err := e.couponRepo.GetRedemption(ctx, tx, coupon.ID, chargeID)
		if err != nil {
			return err
		}
		if redeemed != nil {
			return repository.ErrCouponRedeemed
		}
		if err := e.couponRepo.IncrementUses(ctx, tx, coupon.ID); err != nil {
			return err
		}
		if err := e.couponRepo.CreateRedemption(ctx, tx, &model.CouponRedemption{
			CouponID: coupon.ID,
			ChargeID: chargeID,
			UserID:   userID,
		}); err != nil {
			return err
		}

		user, err := e.userRepo.GetByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		result.Balance = user.Credits
		result.Tier = user.SubscriptionTier

		if credits > 0 {
			amount := decimal.NewFromInt(credits)
			if err := e.userRepo.IncreaseCredits(ctx, tx, userID, amount); err != nil {
				return fmt.Errorf("increase credits: %w", err)
			}
			if err := e.userRepo.SetTier(ctx, tx, userID, tier, monthly); err != nil {
				return fmt.Errorf("set tier: %w", err)
			}
			after := user.Credits.Add(amount)
			if err := e.transactionRepo.Create(ctx, tx, &model.CreditTransaction{
				TransactionNo: idgen.GenerateTransactionNo(),
				UserID:        userID,
				ChargeID:      chargeID,
				Amount:        amount,
				Type:          model.TransactionTypeTrial,
				PaymentMethod: "coupon",
				BalanceBefore: user.Credits,
				BalanceAfter:  after,
				Metadata: datatypes.JSONMap{
					"coupon_code": coupon.Code,
					"months":      coupon.Months,
					"tier":        tier,
				},
			}); err != nil {
				return fmt.Errorf("insert trial transaction: %w", err)
			}
			result.Balance = after
			result.Tier = tier
			result.CreditsAdded = credits
		}

		return e.granter.enqueue(ctx, tx, &model.LedgerEvent{
			Event:      model.EventCouponRedeemed,
			UserID:     userID,
			ChargeID:   chargeID,
			ProductRef: coupon.Code,
			Amount:     decimal.NewFromInt(credits).String(),
			Balance:    result.Balance.String(),
			Tier:       result.Tier,
			OccurredAt: e.now().UTC(),
		})
	})

	switch {
	case errors.Is(err, repository.ErrCouponRedeemed):
		return e.replay(result), nil
	case errors.Is(err, repository.ErrCouponExhausted):
		return e.reject(result, "coupon expired or fully used"), nil
	case errors.Is(err, repository.ErrUserNotFound):
		return nil, NotFoundError("user not found")
	case err != nil:
		metrics.IncCouponRedemption(coupon.Type, "failed")
		e.logger.Error().Err(err).Str("coupon", coupon.Code).Str("charge_id", chargeID).Msg("coupon redemption failed")
		return nil, InternalError("coupon redemption failed", err)
	}

	result.Applied = true
	metrics.IncCouponRedemption(coupon.Type, "applied")
	e.logger.Info().
		Str("coupon", coupon.Code).
		Str("type", coupon.Type).
		Str("user_id", userID).
		Int64("credits", credits).
		Msg("coupon redeemed")
	return result, nil
}

func (e *CouponEngine) replay(result *CouponResult) *CouponResult {
	result.AlreadyRedeemed = true
	result.Reason = "coupon already redeemed for this order"
	metrics.IncCouponRedemption(result.Type, "replay")
	return result
}

func (e *CouponEngine) reject(result *CouponResult, reason string) *CouponResult {
	result.Applied = false
	result.Reason = reason
	metrics.IncCouponRedemption(result.Type, "rejected")
	e.logger.Info().Str("coupon", result.Code).Str("reason", reason).Msg("coupon rejected")
	return result
}
