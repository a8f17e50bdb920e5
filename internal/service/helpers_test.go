package service

import (
	"context"
	"testing"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/infrastructure/database"
	"coursepay/internal/model"
	"coursepay/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type testEnv struct {
	ctx      context.Context
	cfg      *config.Config
	db       *gorm.DB
	catalog  *Catalog
	granter  *Granter
	coupons  *CouponEngine
	users    *repository.UserRepository
	products *repository.ProductRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite"}, false)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	cfg := config.Default()
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.ThriveCart.Secret = "tc-secret"

	products := repository.NewProductRepository(db)
	catalog := NewCatalog(cfg.Tiers, products)
	granter := NewGranter(db, nil, cfg, nil)
	return &testEnv{
		ctx:      context.Background(),
		cfg:      cfg,
		db:       db,
		catalog:  catalog,
		granter:  granter,
		coupons:  NewCouponEngine(db, granter, catalog, nil),
		users:    repository.NewUserRepository(db),
		products: products,
	}
}

func (e *testEnv) createUser(t *testing.T, id string, credits int64) *model.UserAccount {
	t.Helper()
	u := &model.UserAccount{
		ID:               id,
		Email:            id + "@example.com",
		Credits:          decimal.NewFromInt(credits),
		SubscriptionTier: model.TierFree,
	}
	if err := e.users.Create(e.ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *testEnv) user(t *testing.T, id string) *model.UserAccount {
	t.Helper()
	u, err := e.users.GetByID(e.ctx, nil, id)
	if err != nil {
		t.Fatalf("load user %s: %v", id, err)
	}
	return u
}

func (e *testEnv) credits(t *testing.T, id string) int64 {
	t.Helper()
	return e.user(t, id).Credits.IntPart()
}

func (e *testEnv) count(t *testing.T, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := e.db.Model(m)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// ledgerRows counts every table a grant writes to.
func (e *testEnv) ledgerRows(t *testing.T) [4]int64 {
	t.Helper()
	return [4]int64{
		e.count(t, &model.CreditTransaction{}, ""),
		e.count(t, &model.UserPurchase{}, ""),
		e.count(t, &model.Subscription{}, ""),
		e.count(t, &model.OutboxMessage{}, ""),
	}
}

func topup(credits int64) *ProductDescriptor {
	return topupDescriptor(credits)
}

func mustKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("error kind = %s, want %s (%v)", got, want, err)
	}
}

func approx(a, b time.Time, tolerance time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
