package job

import (
	"context"
	"testing"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/model"
	"coursepay/internal/repository"

	"gorm.io/gorm"
)

func createSession(t *testing.T, db *gorm.DB, id, intent string, expiresAt time.Time) {
	t.Helper()
	err := repository.NewCheckoutRepository(db).Create(context.Background(), &model.CheckoutSession{
		ID:                id,
		UserID:            "u1",
		PaymentIntent:     intent,
		InternalReference: "2500_credits",
		ProductType:       model.ProductTypeTopup,
		AmountCents:       2500,
		Status:            model.CheckoutStatusPending,
		ExpiresAt:         expiresAt,
	})
	if err != nil {
		t.Fatalf("create session %s: %v", id, err)
	}
}

func sessionStatus(t *testing.T, db *gorm.DB, id string) string {
	t.Helper()
	s, err := repository.NewCheckoutRepository(db).GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load session %s: %v", id, err)
	}
	return s.Status
}

func TestCheckoutTimeoutExpiresOnlyPastDeadline(t *testing.T) {
	db := openDB(t)
	now := time.Now()
	createSession(t, db, "CHK-old", "", now.Add(-2*time.Hour))
	createSession(t, db, "CHK-new", "", now.Add(2*time.Hour))

	job := NewCheckoutTimeoutJob(db, nil)
	if n := job.expireSessions(context.Background()); n != 1 {
		t.Fatalf("expired %d sessions, want 1", n)
	}
	if s := sessionStatus(t, db, "CHK-old"); s != model.CheckoutStatusExpired {
		t.Fatalf("old session = %s", s)
	}
	if s := sessionStatus(t, db, "CHK-new"); s != model.CheckoutStatusPending {
		t.Fatalf("new session = %s", s)
	}
	if n := job.expireSessions(context.Background()); n != 0 {
		t.Fatalf("second run expired %d sessions", n)
	}
}

func TestCheckoutReconcileCompletesGrantedPayments(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	now := time.Now()
	createSession(t, db, "CHK-paid", "pi_paid", now.Add(time.Hour))
	createSession(t, db, "CHK-open", "pi_open", now.Add(time.Hour))

	err := repository.NewPurchaseRepository(db).Create(ctx, db, &model.UserPurchase{
		UserID:      "u1",
		ProductID:   "2500_credits",
		ProductType: model.ProductTypeTopup,
		AmountCents: 2500,
		ChargeID:    "pi_paid",
		Provider:    model.ProviderFanbases,
		Status:      model.PurchaseStatusCompleted,
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}

	job := NewCheckoutReconcileJob(db, config.Default(), nil)
	job.now = func() time.Time { return now.Add(time.Hour) }

	if n := job.reconcile(ctx); n != 1 {
		t.Fatalf("reconciled %d sessions, want 1", n)
	}
	if s := sessionStatus(t, db, "CHK-paid"); s != model.CheckoutStatusCompleted {
		t.Fatalf("paid session = %s", s)
	}
	if s := sessionStatus(t, db, "CHK-open"); s != model.CheckoutStatusPending {
		t.Fatalf("open session = %s", s)
	}
}
