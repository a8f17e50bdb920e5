package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/infrastructure/lock"
	"coursepay/internal/logging"
	"coursepay/internal/metrics"
	"coursepay/internal/model"
	"coursepay/internal/repository"
	"coursepay/pkg/idgen"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GrantRequest is a verified payment to be turned into an entitlement.
type GrantRequest struct {
	UserID                 string
	Product                *ProductDescriptor
	ChargeID               string
	PriceCents             int64
	Provider               string
	TransactionType        string // top-ups only; defaults to topup
	PaymentMethod          string
	ExternalSubscriptionID string
	Metadata               map[string]interface{}
}

type RefundRequest struct {
	UserID     string
	OrderID    string
	Product    *ProductDescriptor
	PriceCents int64
	Provider   string
}

type CancelRequest struct {
	UserID   string
	Status   string // cancelled | paused
	Provider string
	EventID  string
}

type GrantResult struct {
	Success          bool                   `json:"success"`
	Message          string                 `json:"message"`
	Details          map[string]interface{} `json:"details,omitempty"`
	AlreadyProcessed bool                   `json:"already_processed,omitempty"`
	AlreadyOwned     bool                   `json:"already_owned,omitempty"`
	Balance          decimal.Decimal        `json:"-"`
	Tier             string                 `json:"-"`
}

// Granter applies payments to the ledger. Every path runs in one database
// transaction that re-checks the charge id before writing; the unique index
// on user_purchases.charge_id turns a lost race into a replay.
type Granter struct {
	db               *gorm.DB
	locker           lock.Locker
	topic            string
	logger           *zerolog.Logger
	userRepo         *repository.UserRepository
	transactionRepo  *repository.TransactionRepository
	purchaseRepo     *repository.PurchaseRepository
	subscriptionRepo *repository.SubscriptionRepository
	outboxRepo       *repository.OutboxRepository
	now              func() time.Time
}

// NewGranter wires the granter. Ledger events are queued for relay only when
// Kafka brokers are configured.
func NewGranter(db *gorm.DB, locker lock.Locker, cfg *config.Config, logger *zerolog.Logger) *Granter {
	if locker == nil {
		locker = lock.NewRedisLocker(nil, 0)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	topic := ""
	if len(cfg.Kafka.Brokers) > 0 {
		topic = cfg.Kafka.Topic.LedgerEvents
	}
	return &Granter{
		db:               db,
		locker:           locker,
		topic:            topic,
		logger:           logger,
		userRepo:         repository.NewUserRepository(db),
		transactionRepo:  repository.NewTransactionRepository(db),
		purchaseRepo:     repository.NewPurchaseRepository(db),
		subscriptionRepo: repository.NewSubscriptionRepository(db),
		outboxRepo:       repository.NewOutboxRepository(db),
		now:              time.Now,
	}
}

// AlreadyApplied reports whether chargeID has a completed purchase row.
func (g *Granter) AlreadyApplied(ctx context.Context, chargeID string) (bool, error) {
	p, err := g.purchaseRepo.GetCompletedByChargeID(ctx, nil, chargeID)
	if err != nil {
		return false, InternalError("idempotency check failed", err)
	}
	return p != nil, nil
}

// Grant applies a top-up, subscription or module purchase exactly once per charge id.
func (g *Granter) Grant(ctx context.Context, req *GrantRequest) (*GrantResult, error) {
	if req == nil || req.Product == nil {
		return nil, ValidationError("product is required")
	}
	if req.UserID == "" || req.ChargeID == "" {
		return nil, ValidationError("user id and charge id are required")
	}
	kind := req.Product.Kind
	switch kind {
	case model.ProductTypeTopup, model.ProductTypeSubscription:
		if req.Product.CreditAmount <= 0 {
			return nil, ValidationError("product carries no credits")
		}
	case model.ProductTypeModule:
	default:
		return nil, ValidationError(fmt.Sprintf("unsupported product type %q", kind))
	}

	applied, err := g.AlreadyApplied(ctx, req.ChargeID)
	if err != nil {
		return nil, err
	}
	if applied {
		return g.replay(ctx, kind, req.UserID, req.ChargeID)
	}

	release, err := g.acquire(ctx, req.ChargeID)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *GrantResult
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := g.purchaseRepo.GetCompletedByChargeID(ctx, tx, req.ChargeID)
		if err != nil {
			return err
		}
		if existing != nil {
			return repository.ErrDuplicateCharge
		}

		switch kind {
		case model.ProductTypeTopup:
			result, err = g.applyTopup(ctx, tx, req)
		case model.ProductTypeSubscription:
			result, err = g.applySubscription(ctx, tx, req)
		default:
			result, err = g.applyModule(ctx, tx, req)
		}
		return err
	})
	if errors.Is(err, repository.ErrDuplicateCharge) {
		return g.replay(ctx, kind, req.UserID, req.ChargeID)
	}
	if err != nil {
		metrics.IncGrant(kind, "failed")
		return nil, g.wrap(err, "grant failed")
	}

	if result.AlreadyOwned {
		metrics.IncGrant(kind, "owned")
	} else {
		metrics.IncGrant(kind, "applied")
		metrics.AddCreditsGranted(kind, float64(req.Product.CreditAmount))
	}
	g.logger.Info().
		Str("user_id", req.UserID).
		Str("charge_id", req.ChargeID).
		Str("kind", kind).
		Str("product", req.Product.InternalReference).
		Str("balance", result.Balance.String()).
		Bool("already_owned", result.AlreadyOwned).
		Msg("grant applied")
	return result, nil
}

func (g *Granter) applyTopup(ctx context.Context, tx *gorm.DB, req *GrantRequest) (*GrantResult, error) {
	user, err := g.userRepo.GetByIDForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}
	amount := decimal.NewFromInt(req.Product.CreditAmount)
	if err := g.userRepo.IncreaseCredits(ctx, tx, req.UserID, amount); err != nil {
		return nil, fmt.Errorf("increase credits: %w", err)
	}
	after := user.Credits.Add(amount)

	txType := req.TransactionType
	if txType == "" {
		txType = model.TransactionTypeTopup
	}
	if err := g.record(ctx, tx, entry{
		userID:    req.UserID,
		chargeID:  req.ChargeID,
		productID: req.Product.InternalReference,
		kind:      model.ProductTypeTopup,
		txType:    txType,
		provider:  req.Provider,
		method:    req.PaymentMethod,
		cents:     req.PriceCents,
		amount:    amount,
		before:    user.Credits,
		after:     after,
		metadata:  req.Metadata,
		event:     model.EventCreditsGranted,
		tier:      user.SubscriptionTier,
	}); err != nil {
		return nil, err
	}

	return &GrantResult{
		Success: true,
		Message: fmt.Sprintf("Added %d credits", req.Product.CreditAmount),
		Details: map[string]interface{}{
			"credits_added": req.Product.CreditAmount,
			"new_balance":   after.InexactFloat64(),
		},
		Balance: after,
		Tier:    user.SubscriptionTier,
	}, nil
}

// applySubscription adds the monthly allowance to the balance; it never
// resets it. The subscription row is replaced, periods do not stack.
func (g *Granter) applySubscription(ctx context.Context, tx *gorm.DB, req *GrantRequest) (*GrantResult, error) {
	user, err := g.userRepo.GetByIDForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}
	tier := req.Product.Tier
	monthly := req.Product.CreditAmount
	amount := decimal.NewFromInt(monthly)

	if err := g.userRepo.IncreaseCredits(ctx, tx, req.UserID, amount); err != nil {
		return nil, fmt.Errorf("increase credits: %w", err)
	}
	if err := g.userRepo.SetTier(ctx, tx, req.UserID, tier, monthly); err != nil {
		return nil, fmt.Errorf("set tier: %w", err)
	}

	now := g.now()
	sub := &model.Subscription{
		UserID:                 req.UserID,
		Tier:                   tier,
		Status:                 model.SubscriptionStatusActive,
		Provider:               req.Provider,
		ExternalSubscriptionID: req.ExternalSubscriptionID,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.AddDate(0, 1, 0),
	}
	if err := g.subscriptionRepo.Upsert(ctx, tx, sub); err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}

	after := user.Credits.Add(amount)
	if err := g.record(ctx, tx, entry{
		userID:    req.UserID,
		chargeID:  req.ChargeID,
		productID: req.Product.InternalReference,
		kind:      model.ProductTypeSubscription,
		txType:    model.TransactionTypeSubscription,
		provider:  req.Provider,
		method:    req.PaymentMethod,
		cents:     req.PriceCents,
		amount:    amount,
		before:    user.Credits,
		after:     after,
		metadata:  withMeta(req.Metadata, "tier", tier),
		event:     model.EventSubscriptionActive,
		tier:      tier,
	}); err != nil {
		return nil, err
	}

	return &GrantResult{
		Success: true,
		Message: fmt.Sprintf("Subscription %s activated", tier),
		Details: map[string]interface{}{
			"tier":               tier,
			"credits_added":      monthly,
			"new_balance":        after.InexactFloat64(),
			"current_period_end": sub.CurrentPeriodEnd.UTC().Format(time.RFC3339),
		},
		Balance: after,
		Tier:    tier,
	}, nil
}

func (g *Granter) applyModule(ctx context.Context, tx *gorm.DB, req *GrantRequest) (*GrantResult, error) {
	user, err := g.userRepo.GetByID(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}
	owned, err := g.purchaseRepo.GetCompletedByUserAndProduct(ctx, tx, req.UserID, req.Product.InternalReference)
	if err != nil {
		return nil, err
	}
	if owned != nil {
		return &GrantResult{
			Success:      true,
			Message:      "Module already owned",
			AlreadyOwned: true,
			Details:      map[string]interface{}{"module": req.Product.InternalReference},
			Balance:      user.Credits,
			Tier:         user.SubscriptionTier,
		}, nil
	}

	if err := g.record(ctx, tx, entry{
		userID:    req.UserID,
		chargeID:  req.ChargeID,
		productID: req.Product.InternalReference,
		kind:      model.ProductTypeModule,
		txType:    model.TransactionTypeModulePurchase,
		provider:  req.Provider,
		method:    req.PaymentMethod,
		cents:     req.PriceCents,
		amount:    decimal.Zero,
		before:    user.Credits,
		after:     user.Credits,
		metadata:  req.Metadata,
		event:     model.EventModuleUnlocked,
		tier:      user.SubscriptionTier,
	}); err != nil {
		return nil, err
	}

	return &GrantResult{
		Success: true,
		Message: "Module unlocked",
		Details: map[string]interface{}{"module": req.Product.InternalReference},
		Balance: user.Credits,
		Tier:    user.SubscriptionTier,
	}, nil
}

// Refund removes the product's credits, flooring the balance at zero. The
// subscription tier is left as is. A refund is recorded under
// "<order id>:refund" so redelivery is a no-op.
func (g *Granter) Refund(ctx context.Context, req *RefundRequest) (*GrantResult, error) {
	if req == nil || req.Product == nil || req.UserID == "" || req.OrderID == "" {
		return nil, ValidationError("user, order and product are required for a refund")
	}
	chargeID := req.OrderID + ":refund"

	applied, err := g.AlreadyApplied(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if applied {
		return g.replay(ctx, model.ProductTypeRefund, req.UserID, chargeID)
	}

	release, err := g.acquire(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *GrantResult
	requested := decimal.NewFromInt(req.Product.CreditAmount)
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := g.purchaseRepo.GetCompletedByChargeID(ctx, tx, chargeID)
		if err != nil {
			return err
		}
		if existing != nil {
			return repository.ErrDuplicateCharge
		}

		user, err := g.userRepo.GetByIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		after := user.Credits
		if requested.IsPositive() {
			if err := g.userRepo.DecreaseCreditsFloored(ctx, tx, req.UserID, requested); err != nil {
				return fmt.Errorf("decrease credits: %w", err)
			}
			after = decimal.Max(decimal.Zero, user.Credits.Sub(requested))
		}
		removed := user.Credits.Sub(after)

		if err := g.record(ctx, tx, entry{
			userID:    req.UserID,
			chargeID:  chargeID,
			productID: req.Product.InternalReference,
			kind:      model.ProductTypeRefund,
			txType:    model.TransactionTypeRefund,
			provider:  req.Provider,
			cents:     req.PriceCents,
			amount:    removed.Neg(),
			before:    user.Credits,
			after:     after,
			metadata: map[string]interface{}{
				"order_id":          req.OrderID,
				"requested_credits": requested.String(),
			},
			event: model.EventCreditsRefunded,
			tier:  user.SubscriptionTier,
		}); err != nil {
			return err
		}

		result = &GrantResult{
			Success: true,
			Message: fmt.Sprintf("Refunded %s credits", removed.String()),
			Details: map[string]interface{}{
				"credits_removed": removed.InexactFloat64(),
				"new_balance":     after.InexactFloat64(),
			},
			Balance: after,
			Tier:    user.SubscriptionTier,
		}
		return nil
	})
	if errors.Is(err, repository.ErrDuplicateCharge) {
		return g.replay(ctx, model.ProductTypeRefund, req.UserID, chargeID)
	}
	if err != nil {
		metrics.IncGrant(model.ProductTypeRefund, "failed")
		return nil, g.wrap(err, "refund failed")
	}
	metrics.IncGrant(model.ProductTypeRefund, "applied")
	removed, _ := result.Details["credits_removed"].(float64)
	metrics.AddCreditsRefunded(removed)
	g.logger.Info().Str("user_id", req.UserID).Str("charge_id", chargeID).Str("balance", result.Balance.String()).Msg("refund applied")
	return result, nil
}

// Cancel drops the user to the free tier and zeroes the monthly allowance.
// The credit balance is untouched.
func (g *Granter) Cancel(ctx context.Context, req *CancelRequest) (*GrantResult, error) {
	if req == nil || req.UserID == "" {
		return nil, ValidationError("user id is required")
	}
	status := req.Status
	if status != model.SubscriptionStatusPaused {
		status = model.SubscriptionStatusCancelled
	}

	var result *GrantResult
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := g.userRepo.GetByIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if err := g.userRepo.SetTier(ctx, tx, req.UserID, model.TierFree, 0); err != nil {
			return fmt.Errorf("reset tier: %w", err)
		}
		if _, err := g.subscriptionRepo.UpdateStatus(ctx, tx, req.UserID, status); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if err := g.enqueue(ctx, tx, &model.LedgerEvent{
			Event:      model.EventSubscriptionEnded,
			UserID:     req.UserID,
			ChargeID:   req.EventID,
			Provider:   req.Provider,
			Balance:    user.Credits.String(),
			Tier:       model.TierFree,
			OccurredAt: g.now().UTC(),
		}); err != nil {
			return err
		}
		result = &GrantResult{
			Success: true,
			Message: fmt.Sprintf("Subscription %s", status),
			Details: map[string]interface{}{"previous_tier": user.SubscriptionTier, "status": status},
			Balance: user.Credits,
			Tier:    model.TierFree,
		}
		return nil
	})
	if err != nil {
		metrics.IncGrant("cancel", "failed")
		return nil, g.wrap(err, "cancellation failed")
	}
	metrics.IncGrant("cancel", "applied")
	g.logger.Info().Str("user_id", req.UserID).Str("status", status).Msg("subscription ended")
	return result, nil
}

// entry is one ledger write: audit row, purchase row and outbox event.
type entry struct {
	userID    string
	chargeID  string
	productID string
	kind      string
	txType    string
	provider  string
	method    string
	cents     int64
	amount    decimal.Decimal
	before    decimal.Decimal
	after     decimal.Decimal
	metadata  map[string]interface{}
	event     string
	tier      string
}

func (g *Granter) record(ctx context.Context, tx *gorm.DB, e entry) error {
	meta := datatypes.JSONMap{
		"charge_id":  e.chargeID,
		"product_id": e.productID,
		"provider":   e.provider,
	}
	for k, v := range e.metadata {
		meta[k] = v
	}
	method := e.method
	if method == "" {
		method = e.provider
	}

	if err := g.transactionRepo.Create(ctx, tx, &model.CreditTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        e.userID,
		ChargeID:      e.chargeID,
		Amount:        e.amount,
		Type:          e.txType,
		PaymentMethod: method,
		BalanceBefore: e.before,
		BalanceAfter:  e.after,
		Metadata:      meta,
	}); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	if err := g.purchaseRepo.Create(ctx, tx, &model.UserPurchase{
		UserID:      e.userID,
		ProductID:   e.productID,
		ProductType: e.kind,
		AmountCents: e.cents,
		ChargeID:    e.chargeID,
		Provider:    e.provider,
		Status:      model.PurchaseStatusCompleted,
	}); err != nil {
		return err
	}

	return g.enqueue(ctx, tx, &model.LedgerEvent{
		Event:      e.event,
		UserID:     e.userID,
		ChargeID:   e.chargeID,
		Provider:   e.provider,
		ProductRef: e.productID,
		Amount:     e.amount.String(),
		Balance:    e.after.String(),
		Tier:       e.tier,
		OccurredAt: g.now().UTC(),
	})
}

func (g *Granter) enqueue(ctx context.Context, tx *gorm.DB, event *model.LedgerEvent) error {
	if g.topic == "" {
		return nil
	}
	if err := g.outboxRepo.Enqueue(ctx, tx, g.topic, event); err != nil {
		return fmt.Errorf("enqueue ledger event: %w", err)
	}
	return nil
}

// replay answers a charge that has already been applied without writing.
func (g *Granter) replay(ctx context.Context, kind, userID, chargeID string) (*GrantResult, error) {
	metrics.IncGrant(kind, "replay")
	g.logger.Info().Str("charge_id", chargeID).Str("kind", kind).Msg("charge already processed")

	result := &GrantResult{
		Success:          true,
		Message:          "Payment already processed",
		AlreadyProcessed: true,
		Details:          map[string]interface{}{"charge_id": chargeID},
	}
	if user, err := g.userRepo.GetByID(ctx, nil, userID); err == nil {
		result.Balance = user.Credits
		result.Tier = user.SubscriptionTier
	}
	return result, nil
}

func (g *Granter) acquire(ctx context.Context, chargeID string) (func(), error) {
	l, err := g.locker.Acquire(ctx, lock.ChargeLockKey(chargeID), uuid.NewString())
	if err != nil {
		if errors.Is(err, lock.ErrLockFailed) || ctx.Err() != nil {
			return nil, InternalError("charge is being processed, retry later", err)
		}
		g.logger.Warn().Err(err).Str("charge_id", chargeID).Msg("grant lock unavailable, relying on unique charge id")
		return func() {}, nil
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.Unlock(unlockCtx); err != nil {
			g.logger.Warn().Err(err).Str("charge_id", chargeID).Msg("release grant lock")
		}
	}, nil
}

func (g *Granter) wrap(err error, message string) error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, repository.ErrUserNotFound) {
		return NotFoundError("user not found")
	}
	g.logger.Error().Err(err).Msg(message)
	return InternalError(message, err)
}

func withMeta(m map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}
