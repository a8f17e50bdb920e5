package service

import (
	"net/url"
	"testing"
	"time"

	"coursepay/internal/model"
	"coursepay/internal/repository"
)

func newThriveCart(env *testEnv) *ThriveCartService {
	return NewThriveCartService(env.cfg, env.db, env.catalog, env.granter, env.coupons, nil)
}

func orderEvent(event, product, order string) *ThriveCartEvent {
	return &ThriveCartEvent{
		Event:     event,
		Email:     "buyer@example.com",
		Name:      "Buyer",
		ProductID: product,
		OrderID:   order,
		Secret:    "tc-secret",
	}
}

func TestParseThriveCartForm(t *testing.T) {
	values := url.Values{
		"event":             {"order.success"},
		"thrivecart_secret": {"tc-secret"},
		"base_product":      {"9"},
		"customer[email]":   {"Buyer@Example.com"},
		"customer[name]":    {"Buyer"},
		"order[id]":         {"5001"},
		"order[invoice_id]": {"inv-1"},
		"coupon_code":       {"TRIAL3"},
	}
	ev := ParseThriveCartForm(values)
	want := ThriveCartEvent{
		Event: "order.success", Email: "Buyer@Example.com", Name: "Buyer", ProductID: "9",
		CouponCode: "TRIAL3", OrderID: "5001", InvoiceID: "inv-1", Secret: "tc-secret",
	}
	if *ev != want {
		t.Fatalf("parsed %+v, want %+v", *ev, want)
	}
}

func TestThriveCartTopupCreatesAccount(t *testing.T) {
	env := newTestEnv(t)
	svc := newThriveCart(env)

	res, err := svc.Handle(env.ctx, orderEvent(ThriveCartOrderSuccess, "9", "5001"), false)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !res.Success || res.Outcome != OutcomeGranted || res.Credits == nil || *res.Credits != 1000 {
		t.Fatalf("unexpected result %+v", res)
	}

	user, err := env.users.GetByEmail(env.ctx, "buyer@example.com")
	if err != nil {
		t.Fatalf("user not created: %v", err)
	}
	if user.Credits.IntPart() != 1000 || user.SubscriptionTier != model.TierFree {
		t.Fatalf("user = %+v", user)
	}
	if n := env.count(t, &model.CreditTransaction{}, "user_id = ? AND type = ?", user.ID, model.TransactionTypePurchase); n != 1 {
		t.Fatalf("purchase transactions = %d, want 1", n)
	}

	replay, err := svc.Handle(env.ctx, orderEvent(ThriveCartOrderSuccess, "9", "5001"), false)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.AlreadyProcessed || replay.Outcome != OutcomeReplay || *replay.Credits != 1000 {
		t.Fatalf("replay result %+v", replay)
	}
}

func TestThriveCartRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(ev *ThriveCartEvent)
		topupOnly bool
		kind      Kind
	}{
		{"bad secret", func(ev *ThriveCartEvent) { ev.Secret = "nope" }, false, KindForbidden},
		{"missing secret", func(ev *ThriveCartEvent) { ev.Secret = "" }, false, KindForbidden},
		{"missing event", func(ev *ThriveCartEvent) { ev.Event = "" }, false, KindValidation},
		{"missing email", func(ev *ThriveCartEvent) { ev.Email = "" }, false, KindValidation},
		{"missing product", func(ev *ThriveCartEvent) { ev.ProductID = "" }, false, KindValidation},
		{"unknown product", func(ev *ThriveCartEvent) { ev.ProductID = "11" }, false, KindValidation},
		{"missing order", func(ev *ThriveCartEvent) { ev.OrderID = "" }, false, KindValidation},
		{"subscription on topup endpoint", func(ev *ThriveCartEvent) { ev.ProductID = "8" }, true, KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ev := orderEvent(ThriveCartOrderSuccess, "9", "5001")
			tt.mutate(ev)

			_, err := newThriveCart(env).Handle(env.ctx, ev, tt.topupOnly)
			mustKind(t, err, tt.kind)
			if rows := env.ledgerRows(t); rows != [4]int64{} {
				t.Fatalf("rejected delivery wrote rows %v", rows)
			}
			if n := env.count(t, &model.UserAccount{}, ""); n != 0 {
				t.Fatalf("rejected delivery created %d accounts", n)
			}
		})
	}
}

func TestThriveCartUnconfiguredSecret(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.ThriveCart.Secret = ""
	_, err := newThriveCart(env).Handle(env.ctx, orderEvent(ThriveCartOrderSuccess, "9", "5001"), false)
	mustKind(t, err, KindConfig)
}

func TestThriveCartIgnoresUnknownEvents(t *testing.T) {
	env := newTestEnv(t)
	res, err := newThriveCart(env).Handle(env.ctx, orderEvent("affiliate.commission_earned", "9", "5001"), false)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !res.Success || res.Outcome != OutcomeIgnored {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := env.count(t, &model.UserAccount{}, ""); n != 0 {
		t.Fatalf("ignored event created %d accounts", n)
	}
}

func TestThriveCartRenewalsAreDistinctCharges(t *testing.T) {
	env := newTestEnv(t)
	svc := newThriveCart(env)

	if _, err := svc.Handle(env.ctx, orderEvent(ThriveCartOrderSuccess, "7", "7001"), false); err != nil {
		t.Fatalf("initial order: %v", err)
	}
	renewal := orderEvent(ThriveCartSubscriptionPayment, "7", "7001")
	renewal.InvoiceID = "inv-2"
	res, err := svc.Handle(env.ctx, renewal, false)
	if err != nil {
		t.Fatalf("renewal: %v", err)
	}
	if res.AlreadyProcessed || *res.Credits != 20000 {
		t.Fatalf("renewal result %+v", res)
	}

	res, err = svc.Handle(env.ctx, renewal, false)
	if err != nil {
		t.Fatalf("renewal replay: %v", err)
	}
	if !res.AlreadyProcessed || *res.Credits != 20000 {
		t.Fatalf("renewal replay result %+v", res)
	}
	if n := env.count(t, &model.UserPurchase{}, "charge_id = ?", "7001:inv-2"); n != 1 {
		t.Fatalf("renewal purchases = %d, want 1", n)
	}
}

func TestRenewalChargeID(t *testing.T) {
	at := time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)
	if got := RenewalChargeID("7001", "inv-9", at); got != "7001:inv-9" {
		t.Fatalf("with invoice = %q", got)
	}
	if got := RenewalChargeID("7001", "", at); got != "7001:2026-03" {
		t.Fatalf("without invoice = %q", got)
	}
}

func TestThriveCartRefundAndCancel(t *testing.T) {
	env := newTestEnv(t)
	svc := newThriveCart(env)

	if _, err := svc.Handle(env.ctx, orderEvent(ThriveCartOrderSuccess, "8", "8001"), false); err != nil {
		t.Fatalf("order: %v", err)
	}

	refund, err := svc.Handle(env.ctx, orderEvent(ThriveCartOrderRefund, "12", "8001"), false)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if *refund.Credits != 35000 || refund.Tier != model.TierTwo {
		t.Fatalf("refund result %+v", refund)
	}

	cancel, err := svc.Handle(env.ctx, orderEvent("subscription.cancelled", "8", "8001"), false)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if *cancel.Credits != 35000 || cancel.Tier != model.TierFree {
		t.Fatalf("cancel result %+v", cancel)
	}
	user, _ := env.users.GetByEmail(env.ctx, "buyer@example.com")
	sub, err := repository.NewSubscriptionRepository(env.db).GetByUserID(env.ctx, nil, user.ID)
	if err != nil {
		t.Fatalf("load subscription: %v", err)
	}
	if sub.Status != model.SubscriptionStatusCancelled {
		t.Fatalf("subscription status = %q", sub.Status)
	}
}

func TestThriveCartRefundUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	svc := newThriveCart(env)

	_, err := svc.Handle(env.ctx, orderEvent(ThriveCartOrderRefund, "9", "5001"), false)
	mustKind(t, err, KindNotFound)
	_, err = svc.Handle(env.ctx, orderEvent(ThriveCartSubscriptionPaused, "7", "5001"), false)
	mustKind(t, err, KindNotFound)
	if n := env.count(t, &model.UserAccount{}, ""); n != 0 {
		t.Fatalf("refund created %d accounts", n)
	}
}

func TestThriveCartOrderWithTrialCoupon(t *testing.T) {
	env := newTestEnv(t)
	seedCoupon(t, env, &model.Coupon{Code: "TRIAL2", Type: model.CouponTypeTrial, Months: 2, MaxUses: 10})

	ev := orderEvent(ThriveCartOrderSuccess, "7", "9001")
	ev.CouponCode = "trial2"
	res, err := newThriveCart(env).Handle(env.ctx, ev, false)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Coupon == nil || !res.Coupon.Applied {
		t.Fatalf("coupon not applied: %+v", res.Coupon)
	}
	// 10000 from the subscription plus 2 months of trial credits
	if *res.Credits != 30000 || res.Tier != model.TierOne {
		t.Fatalf("result %+v", res)
	}
}

func TestThriveCartBadCouponStillGrants(t *testing.T) {
	env := newTestEnv(t)
	ev := orderEvent(ThriveCartOrderSuccess, "10", "9002")
	ev.CouponCode = "MISSING"
	res, err := newThriveCart(env).Handle(env.ctx, ev, false)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if *res.Credits != 2500 || res.Coupon == nil || res.Coupon.Applied {
		t.Fatalf("result %+v coupon %+v", res, res.Coupon)
	}
}
