package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/logging"
	"coursepay/internal/model"
	"coursepay/internal/repository"
	"coursepay/pkg/formx"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	ThriveCartOrderSuccess          = "order.success"
	ThriveCartOrderRefund           = "order.refund"
	ThriveCartSubscriptionPayment   = "order.subscription_payment"
	ThriveCartSubscriptionCancelled = "order.subscription_cancelled"
	ThriveCartSubscriptionPaused    = "order.subscription_paused"
)

// Outcomes reported alongside a webhook result, used for metrics.
const (
	OutcomeGranted = "granted"
	OutcomeReplay  = "replay"
	OutcomeIgnored = "ignored"
)

var thriveCartAliases = map[string]string{
	"subscription.cancelled": ThriveCartSubscriptionCancelled,
	"subscription.paused":    ThriveCartSubscriptionPaused,
	"subscription.payment":   ThriveCartSubscriptionPayment,
	"order.rebill":           ThriveCartSubscriptionPayment,
}

// ThriveCartEvent is one webhook delivery after unflattening.
type ThriveCartEvent struct {
	Event      string
	Email      string
	Name       string
	ProductID  string
	CouponCode string
	OrderID    string
	InvoiceID  string
	Secret     string
}

// ParseThriveCartForm reads a form encoded delivery with bracket keys.
func ParseThriveCartForm(values url.Values) *ThriveCartEvent {
	return ThriveCartEventFromMap(formx.Unflatten(values))
}

// ThriveCartEventFromMap reads an already nested payload, e.g. decoded JSON.
func ThriveCartEventFromMap(m map[string]interface{}) *ThriveCartEvent {
	first := func(paths ...[]string) string {
		for _, p := range paths {
			if v := strings.TrimSpace(formx.Lookup(m, p...)); v != "" {
				return v
			}
		}
		return ""
	}
	return &ThriveCartEvent{
		Event:      first([]string{"event"}),
		Email:      first([]string{"customer", "email"}, []string{"email"}),
		Name:       first([]string{"customer", "name"}, []string{"name"}),
		ProductID:  first([]string{"base_product"}, []string{"product_id"}),
		CouponCode: first([]string{"coupon_code"}, []string{"order", "coupon", "code"}),
		OrderID:    first([]string{"order", "id"}, []string{"order_id"}),
		InvoiceID:  first([]string{"order", "invoice_id"}, []string{"invoice_id"}),
		Secret:     first([]string{"thrivecart_secret"}),
	}
}

// WebhookResult is the body of a successful webhook answer.
type WebhookResult struct {
	Success          bool          `json:"success"`
	Message          string        `json:"message"`
	Credits          *float64      `json:"credits,omitempty"`
	Tier             string        `json:"tier,omitempty"`
	AlreadyProcessed bool          `json:"already_processed,omitempty"`
	AlreadyOwned     bool          `json:"already_owned,omitempty"`
	Coupon           *CouponResult `json:"coupon,omitempty"`
	Outcome          string        `json:"-"`
}

type ThriveCartService struct {
	secret   string
	catalog  *Catalog
	granter  *Granter
	coupons  *CouponEngine
	userRepo *repository.UserRepository
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewThriveCartService(cfg *config.Config, db *gorm.DB, catalog *Catalog, granter *Granter, coupons *CouponEngine, logger *zerolog.Logger) *ThriveCartService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ThriveCartService{
		secret:   cfg.ThriveCart.Secret,
		catalog:  catalog,
		granter:  granter,
		coupons:  coupons,
		userRepo: repository.NewUserRepository(db),
		logger:   logger,
		now:      time.Now,
	}
}

// Handle verifies and applies one delivery. topupOnly restricts grants to
// credit top-up products, for the dedicated top-up endpoint.
func (s *ThriveCartService) Handle(ctx context.Context, ev *ThriveCartEvent, topupOnly bool) (*WebhookResult, error) {
	if s.secret == "" {
		s.logger.Error().Msg("thrivecart secret not configured")
		return nil, ConfigError("webhook secret not configured")
	}
	if subtle.ConstantTimeCompare([]byte(ev.Secret), []byte(s.secret)) != 1 {
		return nil, ForbiddenError("invalid secret")
	}
	if ev.Event == "" {
		return nil, ValidationError("missing event")
	}

	event := ev.Event
	if alias, ok := thriveCartAliases[event]; ok {
		event = alias
	}

	switch event {
	case ThriveCartOrderSuccess, ThriveCartSubscriptionPayment:
		return s.handlePayment(ctx, event, ev, topupOnly)
	case ThriveCartOrderRefund:
		return s.handleRefund(ctx, ev)
	case ThriveCartSubscriptionCancelled, ThriveCartSubscriptionPaused:
		return s.handleCancel(ctx, event, ev)
	default:
		s.logger.Info().Str("event", ev.Event).Msg("thrivecart event ignored")
		return &WebhookResult{Success: true, Message: fmt.Sprintf("Event %s acknowledged", ev.Event), Outcome: OutcomeIgnored}, nil
	}
}

func (s *ThriveCartService) handlePayment(ctx context.Context, event string, ev *ThriveCartEvent, topupOnly bool) (*WebhookResult, error) {
	product, err := s.resolve(ev, topupOnly)
	if err != nil {
		return nil, err
	}
	if ev.OrderID == "" {
		return nil, ValidationError("missing order id")
	}

	user, created, err := s.userRepo.GetOrCreateByEmail(ctx, ev.Email, ev.Name)
	if err != nil {
		return nil, InternalError("resolve user failed", err)
	}
	if created {
		s.logger.Info().Str("user_id", user.ID).Str("email", logging.Redact(ev.Email)).Msg("account created from thrivecart order")
	}

	chargeID := ev.OrderID
	if event == ThriveCartSubscriptionPayment {
		chargeID = RenewalChargeID(ev.OrderID, ev.InvoiceID, s.now())
	}

	grant, err := s.granter.Grant(ctx, &GrantRequest{
		UserID:          user.ID,
		Product:         product,
		ChargeID:        chargeID,
		PriceCents:      product.PriceCents,
		Provider:        model.ProviderThriveCart,
		TransactionType: model.TransactionTypePurchase,
		PaymentMethod:   model.ProviderThriveCart,
		Metadata: map[string]interface{}{
			"thrivecart_product_id": ev.ProductID,
			"event":                 ev.Event,
		},
	})
	if err != nil {
		return nil, err
	}

	result := &WebhookResult{
		Success:          true,
		Message:          grant.Message,
		Tier:             grant.Tier,
		AlreadyProcessed: grant.AlreadyProcessed,
		AlreadyOwned:     grant.AlreadyOwned,
		Outcome:          OutcomeGranted,
	}
	if grant.AlreadyProcessed {
		result.Outcome = OutcomeReplay
	}
	balance := grant.Balance

	if event == ThriveCartOrderSuccess && ev.CouponCode != "" && s.coupons != nil {
		coupon, err := s.coupons.Apply(ctx, user.ID, ev.CouponCode, chargeID, product)
		if err != nil {
			// the order is already granted; a failed coupon must not fail the delivery
			s.logger.Error().Err(err).Str("charge_id", chargeID).Msg("coupon application failed")
		} else {
			result.Coupon = coupon
			if coupon.Applied {
				balance = coupon.Balance
				result.Tier = coupon.Tier
			}
		}
	}

	credits := balance.InexactFloat64()
	result.Credits = &credits
	return result, nil
}

func (s *ThriveCartService) handleRefund(ctx context.Context, ev *ThriveCartEvent) (*WebhookResult, error) {
	product, err := s.resolve(ev, false)
	if err != nil {
		return nil, err
	}
	if ev.OrderID == "" {
		return nil, ValidationError("missing order id")
	}
	user, err := s.userRepo.GetByEmail(ctx, ev.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, NotFoundError("user not found")
		}
		return nil, InternalError("resolve user failed", err)
	}

	refund, err := s.granter.Refund(ctx, &RefundRequest{
		UserID:     user.ID,
		OrderID:    ev.OrderID,
		Product:    product,
		PriceCents: product.PriceCents,
		Provider:   model.ProviderThriveCart,
	})
	if err != nil {
		return nil, err
	}
	credits := refund.Balance.InexactFloat64()
	result := &WebhookResult{
		Success:          true,
		Message:          refund.Message,
		Credits:          &credits,
		Tier:             refund.Tier,
		AlreadyProcessed: refund.AlreadyProcessed,
		Outcome:          OutcomeGranted,
	}
	if refund.AlreadyProcessed {
		result.Outcome = OutcomeReplay
	}
	return result, nil
}

func (s *ThriveCartService) handleCancel(ctx context.Context, event string, ev *ThriveCartEvent) (*WebhookResult, error) {
	if ev.Email == "" {
		return nil, ValidationError("missing customer email")
	}
	user, err := s.userRepo.GetByEmail(ctx, ev.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, NotFoundError("user not found")
		}
		return nil, InternalError("resolve user failed", err)
	}

	status := model.SubscriptionStatusCancelled
	if event == ThriveCartSubscriptionPaused {
		status = model.SubscriptionStatusPaused
	}
	res, err := s.granter.Cancel(ctx, &CancelRequest{
		UserID:   user.ID,
		Status:   status,
		Provider: model.ProviderThriveCart,
		EventID:  ev.OrderID,
	})
	if err != nil {
		return nil, err
	}
	credits := res.Balance.InexactFloat64()
	return &WebhookResult{
		Success: true,
		Message: res.Message,
		Credits: &credits,
		Tier:    res.Tier,
		Outcome: OutcomeGranted,
	}, nil
}

func (s *ThriveCartService) resolve(ev *ThriveCartEvent, topupOnly bool) (*ProductDescriptor, error) {
	if ev.Email == "" {
		return nil, ValidationError("missing customer email")
	}
	if ev.ProductID == "" {
		return nil, ValidationError("missing base_product")
	}
	product, err := s.catalog.ResolveThriveCart(ev.ProductID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ValidationError(fmt.Sprintf("unknown product %s", ev.ProductID))
		}
		return nil, InternalError("resolve product failed", err)
	}
	if topupOnly && product.Kind != model.ProductTypeTopup {
		return nil, ValidationError(fmt.Sprintf("product %s is not a credit top-up", ev.ProductID))
	}
	return product, nil
}

// RenewalChargeID keys a recurring payment so each billing period is its
// own charge: "<order>:<invoice>", or "<order>:<YYYY-MM>" without an invoice.
func RenewalChargeID(orderID, invoiceID string, at time.Time) string {
	if invoiceID != "" {
		return orderID + ":" + invoiceID
	}
	return orderID + ":" + at.UTC().Format("2006-01")
}
