package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/infrastructure/fanbases"
	"coursepay/internal/logging"
	"coursepay/internal/model"
	"coursepay/internal/repository"
	"coursepay/pkg/idgen"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const redirectSucceeded = "succeeded"

const (
	FanbasesPaymentSucceeded     = "payment.succeeded"
	FanbasesChargeSucceeded      = "charge.succeeded"
	FanbasesCheckoutCompleted    = "checkout.completed"
	FanbasesSubscriptionCanceled = "subscription.cancelled"
	FanbasesSubscriptionPaused   = "subscription.paused"
)

type ChargeInput struct {
	ProductType string `json:"product_type"`
	ProductID   string `json:"product_id"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
}

type ChargeResult struct {
	Success  bool         `json:"success"`
	ChargeID string       `json:"charge_id"`
	Message  string       `json:"message"`
	Grant    *GrantResult `json:"-"`
}

type ConfirmInput struct {
	PaymentIntent     string `json:"payment_intent"`
	RedirectStatus    string `json:"redirect_status"`
	ProductType       string `json:"product_type"`
	InternalReference string `json:"internal_reference"`
	FanbasesProductID string `json:"fanbases_product_id"`
	UserID            string `json:"user_id"`
	CheckoutSessionID string `json:"checkout_session_id"`
}

type CheckoutInput struct {
	InternalReference string `json:"internal_reference"`
	ProductType       string `json:"product_type"`
	SuccessURL        string `json:"success_url"`
	CancelURL         string `json:"cancel_url"`
}

type CheckoutResult struct {
	CheckoutURL       string    `json:"checkout_url"`
	CheckoutSessionID string    `json:"checkout_session_id"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// FanbasesWebhook is the JSON body Fanbases posts to /webhooks/fanbases.
type FanbasesWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID                string `json:"id"`
		PaymentIntent     string `json:"payment_intent"`
		UserID            string `json:"user_id"`
		InternalReference string `json:"internal_reference"`
		ProductType       string `json:"product_type"`
		AmountCents       int64  `json:"amount_cents"`
		SubscriptionID    string `json:"subscription_id"`
		CheckoutSessionID string `json:"checkout_session_id"`
	} `json:"data"`
}

type FanbasesService struct {
	cfg             config.FanbasesConfig
	checkoutTimeout time.Duration
	client          *fanbases.Client
	catalog         *Catalog
	granter         *Granter
	userRepo        *repository.UserRepository
	checkoutRepo    *repository.CheckoutRepository
	logger          *zerolog.Logger
	now             func() time.Time
}

func NewFanbasesService(cfg *config.Config, db *gorm.DB, client *fanbases.Client, catalog *Catalog, granter *Granter, logger *zerolog.Logger) *FanbasesService {
	if logger == nil {
		logger = logging.Nop()
	}
	timeout := time.Duration(cfg.Business.CheckoutTimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &FanbasesService{
		cfg:             cfg.Fanbases,
		checkoutTimeout: timeout,
		client:          client,
		catalog:         catalog,
		granter:         granter,
		userRepo:        repository.NewUserRepository(db),
		checkoutRepo:    repository.NewCheckoutRepository(db),
		logger:          logger,
		now:             time.Now,
	}
}

// Charge bills the user's saved Fanbases payment method and grants the
// product when the charge succeeds immediately.
func (s *FanbasesService) Charge(ctx context.Context, userID string, in *ChargeInput) (*ChargeResult, error) {
	if !s.client.Configured() {
		s.logger.Error().Msg("fanbases api key not configured")
		return nil, ConfigError("payment provider not configured")
	}
	if in.ProductType == "" || in.ProductID == "" {
		return nil, ValidationError("product_type and product_id are required")
	}
	if in.AmountCents < 0 {
		return nil, ValidationError("amount_cents must not be negative")
	}

	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.FanbasesCustomerID == "" {
		return nil, NotFoundError("payment customer not found")
	}
	product, err := s.resolve(ctx, in.ProductID, in.ProductType)
	if err != nil {
		return nil, err
	}

	amount := in.AmountCents
	if amount == 0 {
		amount = product.PriceCents
	}
	description := in.Description
	if description == "" {
		description = product.Name
	}

	charge, err := s.client.Charge(ctx, &fanbases.ChargeRequest{
		CustomerID:  user.FanbasesCustomerID,
		AmountCents: amount,
		Description: description,
		Metadata: map[string]string{
			"user_id":            user.ID,
			"internal_reference": product.InternalReference,
			"product_type":       product.Kind,
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("fanbases charge failed")
		return nil, UpstreamError("payment failed", err)
	}
	if charge.Status != fanbases.StatusSucceeded {
		msg := charge.Message
		if msg == "" {
			msg = fmt.Sprintf("payment %s", charge.Status)
		}
		return nil, UpstreamError(msg, nil)
	}

	grant, err := s.granter.Grant(ctx, &GrantRequest{
		UserID:        user.ID,
		Product:       product,
		ChargeID:      charge.ID,
		PriceCents:    amount,
		Provider:      model.ProviderFanbases,
		PaymentMethod: model.ProviderFanbases,
		Metadata:      map[string]interface{}{"source": "charge"},
	})
	if err != nil {
		return nil, err
	}
	return &ChargeResult{Success: true, ChargeID: charge.ID, Message: grant.Message, Grant: grant}, nil
}

// Confirm is called by the browser after the provider redirect. It converges
// on the same grant path as the webhook; the payment intent is the charge id.
func (s *FanbasesService) Confirm(ctx context.Context, tokenUserID string, in *ConfirmInput) (*GrantResult, error) {
	userID := tokenUserID
	if userID == "" {
		userID = strings.TrimSpace(in.UserID)
	}
	if userID == "" {
		return nil, AuthError("authentication required")
	}
	if in.PaymentIntent == "" {
		return nil, ValidationError("payment_intent is required")
	}
	if in.RedirectStatus != redirectSucceeded {
		return nil, ValidationError(fmt.Sprintf("payment not completed: %s", in.RedirectStatus))
	}

	applied, err := s.granter.AlreadyApplied(ctx, in.PaymentIntent)
	if err != nil {
		return nil, err
	}
	if applied {
		s.completeCheckout(ctx, userID, in.CheckoutSessionID, in.PaymentIntent)
		return s.granter.replay(ctx, "confirm", userID, in.PaymentIntent)
	}

	if _, err := s.user(ctx, userID); err != nil {
		return nil, err
	}
	product, err := s.resolve(ctx, in.InternalReference, in.ProductType)
	if err != nil {
		return nil, err
	}

	verified, amount, err := s.verify(ctx, in.PaymentIntent)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		amount = product.PriceCents
	}

	grant, err := s.granter.Grant(ctx, &GrantRequest{
		UserID:        userID,
		Product:       product,
		ChargeID:      in.PaymentIntent,
		PriceCents:    amount,
		Provider:      model.ProviderFanbases,
		PaymentMethod: model.ProviderFanbases,
		Metadata: map[string]interface{}{
			"source":              "confirm",
			"verified":            verified,
			"fanbases_product_id": in.FanbasesProductID,
		},
	})
	if err != nil {
		return nil, err
	}
	s.completeCheckout(ctx, userID, in.CheckoutSessionID, in.PaymentIntent)

	if grant.Details == nil {
		grant.Details = map[string]interface{}{}
	}
	grant.Details["verified"] = verified
	return grant, nil
}

// verify looks the payment up with the provider. Unless verification is
// required, a failed lookup is logged and the grant proceeds.
func (s *FanbasesService) verify(ctx context.Context, paymentIntent string) (bool, int64, error) {
	if !s.client.Configured() {
		if s.cfg.RequireVerification {
			s.logger.Error().Msg("fanbases api key not configured, cannot verify payment")
			return false, 0, ConfigError("payment provider not configured")
		}
		s.logger.Warn().Str("payment_intent", paymentIntent).Msg("payment not verified: provider not configured")
		return false, 0, nil
	}

	txn, err := s.client.GetTransaction(ctx, paymentIntent)
	if err == nil && txn.Succeeded() {
		return true, txn.AmountCents, nil
	}
	if err == nil {
		err = fmt.Errorf("transaction status %q", txn.Status)
	}
	if s.cfg.RequireVerification {
		return false, 0, UpstreamError("payment could not be verified", err)
	}
	s.logger.Warn().Err(err).Str("payment_intent", paymentIntent).Msg("payment verification failed, granting on redirect status")
	return false, 0, nil
}

// CreateCheckout opens a hosted checkout and records it as pending.
func (s *FanbasesService) CreateCheckout(ctx context.Context, userID string, in *CheckoutInput) (*CheckoutResult, error) {
	if !s.client.Configured() {
		s.logger.Error().Msg("fanbases api key not configured")
		return nil, ConfigError("payment provider not configured")
	}
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	product, err := s.resolve(ctx, in.InternalReference, in.ProductType)
	if err != nil {
		return nil, err
	}

	sessionID := idgen.GenerateCheckoutID()
	checkout, err := s.client.CreateCheckout(ctx, &fanbases.CheckoutRequest{
		ProductID:   product.ProviderProductID,
		AmountCents: product.PriceCents,
		SuccessURL:  in.SuccessURL,
		CancelURL:   in.CancelURL,
		Metadata: map[string]string{
			"user_id":             user.ID,
			"internal_reference":  product.InternalReference,
			"product_type":        product.Kind,
			"checkout_session_id": sessionID,
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("fanbases checkout failed")
		return nil, UpstreamError("could not create checkout", err)
	}

	expiresAt := s.now().Add(s.checkoutTimeout)
	if err := s.checkoutRepo.Create(ctx, &model.CheckoutSession{
		ID:                sessionID,
		UserID:            user.ID,
		PaymentIntent:     checkout.PaymentIntent,
		InternalReference: product.InternalReference,
		ProductType:       product.Kind,
		AmountCents:       product.PriceCents,
		CheckoutURL:       checkout.URL,
		Status:            model.CheckoutStatusPending,
		ExpiresAt:         expiresAt,
	}); err != nil {
		return nil, InternalError("save checkout session failed", err)
	}

	return &CheckoutResult{CheckoutURL: checkout.URL, CheckoutSessionID: sessionID, ExpiresAt: expiresAt}, nil
}

// VerifySignature checks "sha256=<hex>" against an HMAC of the raw body.
func (s *FanbasesService) VerifySignature(body []byte, header string) error {
	if s.cfg.WebhookSecret == "" {
		s.logger.Error().Msg("fanbases webhook secret not configured")
		return ConfigError("webhook secret not configured")
	}
	sig := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return AuthError("invalid signature")
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return AuthError("invalid signature")
	}
	return nil
}

// HandleWebhook applies a verified Fanbases event.
func (s *FanbasesService) HandleWebhook(ctx context.Context, ev *FanbasesWebhook) (*WebhookResult, error) {
	switch ev.Event {
	case FanbasesPaymentSucceeded, FanbasesChargeSucceeded, FanbasesCheckoutCompleted:
		chargeID := ev.Data.PaymentIntent
		if chargeID == "" {
			chargeID = ev.Data.ID
		}
		if chargeID == "" {
			return nil, ValidationError("missing payment id")
		}
		user, err := s.user(ctx, ev.Data.UserID)
		if err != nil {
			return nil, err
		}
		product, err := s.resolve(ctx, ev.Data.InternalReference, ev.Data.ProductType)
		if err != nil {
			return nil, err
		}
		amount := ev.Data.AmountCents
		if amount == 0 {
			amount = product.PriceCents
		}
		grant, err := s.granter.Grant(ctx, &GrantRequest{
			UserID:                 user.ID,
			Product:                product,
			ChargeID:               chargeID,
			PriceCents:             amount,
			Provider:               model.ProviderFanbases,
			PaymentMethod:          model.ProviderFanbases,
			ExternalSubscriptionID: ev.Data.SubscriptionID,
			Metadata:               map[string]interface{}{"source": "webhook", "event": ev.Event},
		})
		if err != nil {
			return nil, err
		}
		s.completeCheckout(ctx, user.ID, ev.Data.CheckoutSessionID, chargeID)

		credits := grant.Balance.InexactFloat64()
		result := &WebhookResult{
			Success:          true,
			Message:          grant.Message,
			Credits:          &credits,
			Tier:             grant.Tier,
			AlreadyProcessed: grant.AlreadyProcessed,
			AlreadyOwned:     grant.AlreadyOwned,
			Outcome:          OutcomeGranted,
		}
		if grant.AlreadyProcessed {
			result.Outcome = OutcomeReplay
		}
		return result, nil

	case FanbasesSubscriptionCanceled, FanbasesSubscriptionPaused:
		user, err := s.user(ctx, ev.Data.UserID)
		if err != nil {
			return nil, err
		}
		status := model.SubscriptionStatusCancelled
		if ev.Event == FanbasesSubscriptionPaused {
			status = model.SubscriptionStatusPaused
		}
		res, err := s.granter.Cancel(ctx, &CancelRequest{
			UserID:   user.ID,
			Status:   status,
			Provider: model.ProviderFanbases,
			EventID:  ev.Data.SubscriptionID,
		})
		if err != nil {
			return nil, err
		}
		return &WebhookResult{Success: true, Message: res.Message, Tier: res.Tier, Outcome: OutcomeGranted}, nil
	}

	s.logger.Info().Str("event", ev.Event).Msg("fanbases event ignored")
	return &WebhookResult{Success: true, Message: fmt.Sprintf("Event %s acknowledged", ev.Event), Outcome: OutcomeIgnored}, nil
}

// completeCheckout is best effort; the grant does not depend on it.
func (s *FanbasesService) completeCheckout(ctx context.Context, userID, sessionID, paymentIntent string) {
	changed, err := s.checkoutRepo.CompletePending(ctx, nil, userID, sessionID, paymentIntent)
	if err != nil {
		s.logger.Warn().Err(err).Str("checkout_session_id", sessionID).Msg("complete checkout session")
		return
	}
	if changed {
		s.logger.Debug().Str("checkout_session_id", sessionID).Str("payment_intent", paymentIntent).Msg("checkout session completed")
	}
}

func (s *FanbasesService) user(ctx context.Context, userID string) (*model.UserAccount, error) {
	if userID == "" {
		return nil, ValidationError("missing user id")
	}
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, NotFoundError("user not found")
		}
		return nil, InternalError("load user failed", err)
	}
	return user, nil
}

func (s *FanbasesService) resolve(ctx context.Context, ref, productType string) (*ProductDescriptor, error) {
	product, err := s.catalog.ResolveReference(ctx, ref, productType)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ValidationError(fmt.Sprintf("unknown product %s", ref))
		}
		return nil, InternalError("resolve product failed", err)
	}
	return product, nil
}
