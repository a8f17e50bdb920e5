package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"coursepay/internal/infrastructure/fanbases"
	"coursepay/internal/model"
	"coursepay/internal/repository"
)

// fanbasesStub serves the handful of Fanbases endpoints the service calls.
type fanbasesStub struct {
	txStatus    string
	txAmount    int64
	chargeState string
	lookups     int32
	charges     int32
}

func (f *fanbasesStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/transactions/"):
		atomic.AddInt32(&f.lookups, 1)
		if f.txStatus == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":           strings.TrimPrefix(r.URL.Path, "/transactions/"),
			"status":       f.txStatus,
			"amount_cents": f.txAmount,
		})
	case r.Method == http.MethodPost && r.URL.Path == "/charges":
		n := atomic.AddInt32(&f.charges, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     fmt.Sprintf("ch_%d", n),
			"status": f.chargeState,
		})
	case r.Method == http.MethodPost && r.URL.Path == "/checkout_sessions":
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":             "cs_remote",
			"url":            "https://pay.fanbases.test/cs_remote",
			"payment_intent": "pi_checkout",
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newFanbases(t *testing.T, env *testEnv, stub *fanbasesStub) *FanbasesService {
	t.Helper()
	var client *fanbases.Client
	if stub != nil {
		srv := httptest.NewServer(stub)
		t.Cleanup(srv.Close)
		client = fanbases.NewClient("sk_test", srv.URL, time.Second)
	}
	env.cfg.Fanbases.WebhookSecret = "whsec"
	return NewFanbasesService(env.cfg, env.db, client, env.catalog, env.granter, nil)
}

func confirmInput(intent string) *ConfirmInput {
	return &ConfirmInput{
		PaymentIntent:     intent,
		RedirectStatus:    "succeeded",
		ProductType:       model.ProductTypeTopup,
		InternalReference: "2500_credits",
	}
}

func TestConfirmGrantsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "u1", 0)
	stub := &fanbasesStub{txStatus: "succeeded", txAmount: 2500}
	svc := newFanbases(t, env, stub)

	first, err := svc.Confirm(env.ctx, "u1", confirmInput("pi_1"))
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if first.AlreadyProcessed || first.Details["verified"] != true {
		t.Fatalf("first result %+v", first)
	}

	second, err := svc.Confirm(env.ctx, "u1", confirmInput("pi_1"))
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if !second.AlreadyProcessed {
		t.Fatalf("second confirm should replay, got %+v", second)
	}
	if got := env.credits(t, "u1"); got != 2500 {
		t.Fatalf("credits = %d, want 2500", got)
	}
	if n := atomic.LoadInt32(&stub.lookups); n != 1 {
		t.Fatalf("provider lookups = %d, want 1", n)
	}
}

func TestConfirmRejectsIncompletePayment(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "u1", 100)
	svc := newFanbases(t, env, &fanbasesStub{txStatus: "succeeded"})

	in := confirmInput("pi_1")
	in.RedirectStatus = "failed"
	_, err := svc.Confirm(env.ctx, "u1", in)
	mustKind(t, err, KindValidation)

	_, err = svc.Confirm(env.ctx, "u1", confirmInput(""))
	mustKind(t, err, KindValidation)

	_, err = svc.Confirm(env.ctx, "", confirmInput("pi_1"))
	mustKind(t, err, KindAuth)

	if got := env.credits(t, "u1"); got != 100 {
		t.Fatalf("credits = %d, want 100", got)
	}
	if rows := env.ledgerRows(t); rows != [4]int64{} {
		t.Fatalf("rejected confirm wrote rows %v", rows)
	}
}

func TestConfirmFallsBackToBodyUser(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "u1", 0)
	svc := newFanbases(t, env, nil)

	in := confirmInput("pi_body")
	in.UserID = "u1"
	res, err := svc.Confirm(env.ctx, "", in)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Details["verified"] != false {
		t.Fatalf("unverified grant reported %v", res.Details["verified"])
	}
	if got := env.credits(t, "u1"); got != 2500 {
		t.Fatalf("credits = %d, want 2500", got)
	}
}

func TestConfirmRequiredVerification(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "u1", 0)
	env.cfg.Fanbases.RequireVerification = true

	svc := newFanbases(t, env, &fanbasesStub{})
	_, err := svc.Confirm(env.ctx, "u1", confirmInput("pi_missing"))
	mustKind(t, err, KindUpstream)

	svc = newFanbases(t, env, &fanbasesStub{txStatus: "pending"})
	_, err = svc.Confirm(env.ctx, "u1", confirmInput("pi_pending"))
	mustKind(t, err, KindUpstream)

	svc = newFanbases(t, env, nil)
	_, err = svc.Confirm(env.ctx, "u1", confirmInput("pi_noclient"))
	mustKind(t, err, KindConfig)

	if got := env.credits(t, "u1"); got != 0 {
		t.Fatalf("credits = %d, want 0", got)
	}
}

func TestConfirmUnverifiedStillGrants(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "u1", 0)
	svc := newFanbases(t, env, &fanbasesStub{})

	res, err := svc.Confirm(env.ctx, "u1", confirmInput("pi_unknown"))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Details["verified"] != false {
		t.Fatalf("verified = %v", res.Details["verified"])
	}
	if got := env.credits(t, "u1"); got != 2500 {
		t.Fatalf("credits = %d, want 2500", got)
	}
}

func TestConfirmUnknownProduct(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "u1", 0)
	in := confirmInput("pi_1")
	in.InternalReference = "mystery"
	in.ProductType = ""
	_, err := newFanbases(t, env, nil).Confirm(env.ctx, "u1", in)
	mustKind(t, err, KindValidation)
}

func TestCreateCheckoutAndConfirmCompletesSession(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "u1", 0)
	svc := newFanbases(t, env, &fanbasesStub{txStatus: "succeeded"})

	checkout, err := svc.CreateCheckout(env.ctx, "u1", &CheckoutInput{InternalReference: "tier1", ProductType: model.ProductTypeSubscription})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if checkout.CheckoutURL == "" || !strings.HasPrefix(checkout.CheckoutSessionID, "CHK") {
		t.Fatalf("checkout = %+v", checkout)
	}
	checkouts := repository.NewCheckoutRepository(env.db)
	session, err := checkouts.GetByID(env.ctx, checkout.CheckoutSessionID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != model.CheckoutStatusPending || session.AmountCents != 2900 || session.PaymentIntent != "pi_checkout" {
		t.Fatalf("session = %+v", session)
	}
	if !approx(session.ExpiresAt, time.Now().Add(time.Hour), time.Minute) {
		t.Fatalf("expires_at = %v", session.ExpiresAt)
	}

	in := &ConfirmInput{
		PaymentIntent:     "pi_checkout",
		RedirectStatus:    "succeeded",
		ProductType:       model.ProductTypeSubscription,
		InternalReference: "tier1",
		CheckoutSessionID: checkout.CheckoutSessionID,
	}
	if _, err := svc.Confirm(env.ctx, "u1", in); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	session, _ = checkouts.GetByID(env.ctx, checkout.CheckoutSessionID)
	if session.Status != model.CheckoutStatusCompleted {
		t.Fatalf("session status = %q", session.Status)
	}
	if u := env.user(t, "u1"); u.SubscriptionTier != model.TierOne || u.Credits.IntPart() != 10000 {
		t.Fatalf("user = %+v", u)
	}
}

func TestConfirmLeavesOtherUsersSession(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "u1", 0)
	env.createUser(t, "u2", 0)
	svc := newFanbases(t, env, &fanbasesStub{txStatus: "succeeded"})

	checkout, err := svc.CreateCheckout(env.ctx, "u1", &CheckoutInput{InternalReference: "tier1", ProductType: model.ProductTypeSubscription})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}

	in := confirmInput("pi_u2")
	in.CheckoutSessionID = checkout.CheckoutSessionID
	if _, err := svc.Confirm(env.ctx, "u2", in); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	session, err := repository.NewCheckoutRepository(env.db).GetByID(env.ctx, checkout.CheckoutSessionID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != model.CheckoutStatusPending || session.PaymentIntent != "pi_checkout" {
		t.Fatalf("session of u1 changed by u2: %+v", session)
	}
}

func TestCreateCheckoutUnconfigured(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "u1", 0)
	_, err := newFanbases(t, env, nil).CreateCheckout(env.ctx, "u1", &CheckoutInput{InternalReference: "1000_credits"})
	mustKind(t, err, KindConfig)
}

func TestChargeSavedPaymentMethod(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "u1", 0)
	svc := newFanbases(t, env, &fanbasesStub{chargeState: "succeeded"})

	_, err := svc.Charge(env.ctx, "u1", &ChargeInput{ProductType: model.ProductTypeTopup, ProductID: "1000_credits"})
	mustKind(t, err, KindNotFound)

	u.FanbasesCustomerID = "cus_1"
	if err := env.db.Save(u).Error; err != nil {
		t.Fatalf("save customer id: %v", err)
	}
	res, err := svc.Charge(env.ctx, "u1", &ChargeInput{ProductType: model.ProductTypeTopup, ProductID: "1000_credits"})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !res.Success || res.ChargeID != "ch_1" {
		t.Fatalf("result %+v", res)
	}
	if got := env.credits(t, "u1"); got != 1000 {
		t.Fatalf("credits = %d, want 1000", got)
	}
}

func TestChargeDeclined(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "u1", 0)
	u.FanbasesCustomerID = "cus_1"
	env.db.Save(u)
	svc := newFanbases(t, env, &fanbasesStub{chargeState: "requires_action"})

	_, err := svc.Charge(env.ctx, "u1", &ChargeInput{ProductType: model.ProductTypeTopup, ProductID: "1000_credits"})
	mustKind(t, err, KindUpstream)
	if got := env.credits(t, "u1"); got != 0 {
		t.Fatalf("credits = %d, want 0", got)
	}
}

func TestVerifySignature(t *testing.T) {
	env := newTestEnv(t)
	svc := newFanbases(t, env, nil)
	body := []byte(`{"event":"payment.succeeded"}`)
	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write(body)
	good := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if err := svc.VerifySignature(body, good); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	mustKind(t, svc.VerifySignature(body, "sha256=deadbeef"), KindAuth)
	mustKind(t, svc.VerifySignature(body, ""), KindAuth)
	mustKind(t, svc.VerifySignature(append(body, ' '), good), KindAuth)

	env.cfg.Fanbases.WebhookSecret = ""
	unconfigured := NewFanbasesService(env.cfg, env.db, nil, env.catalog, env.granter, nil)
	mustKind(t, unconfigured.VerifySignature(body, good), KindConfig)
}

func TestFanbasesWebhookGrantAndCancel(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "u1", 0)
	svc := newFanbases(t, env, nil)

	var ev FanbasesWebhook
	ev.Event = FanbasesPaymentSucceeded
	ev.Data.PaymentIntent = "pi_hook"
	ev.Data.UserID = "u1"
	ev.Data.InternalReference = "tier2"
	ev.Data.ProductType = model.ProductTypeSubscription

	res, err := svc.HandleWebhook(env.ctx, &ev)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if res.Outcome != OutcomeGranted || *res.Credits != 40000 || res.Tier != model.TierTwo {
		t.Fatalf("result %+v", res)
	}

	// the browser confirm for the same payment is a replay
	in := confirmInput("pi_hook")
	in.InternalReference, in.ProductType = "tier2", model.ProductTypeSubscription
	again, err := svc.Confirm(env.ctx, "u1", in)
	if err != nil || !again.AlreadyProcessed {
		t.Fatalf("confirm after webhook = %+v, %v", again, err)
	}
	if got := env.credits(t, "u1"); got != 40000 {
		t.Fatalf("credits = %d, want 40000", got)
	}

	var cancel FanbasesWebhook
	cancel.Event = FanbasesSubscriptionCanceled
	cancel.Data.UserID = "u1"
	res, err = svc.HandleWebhook(env.ctx, &cancel)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Tier != model.TierFree || env.credits(t, "u1") != 40000 {
		t.Fatalf("cancel result %+v", res)
	}

	var other FanbasesWebhook
	other.Event = "customer.updated"
	res, err = svc.HandleWebhook(env.ctx, &other)
	if err != nil || res.Outcome != OutcomeIgnored {
		t.Fatalf("ignored event = %+v, %v", res, err)
	}
}
