package handler

import (
	"net/http"
	"strconv"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/infrastructure/database"
	"coursepay/internal/infrastructure/fanbases"
	"coursepay/internal/infrastructure/lock"
	"coursepay/internal/logging"
	"coursepay/internal/repository"
	"coursepay/internal/service"
	"coursepay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Handler holds every service the HTTP layer calls into.
type Handler struct {
	db         *gorm.DB
	logger     *zerolog.Logger
	verifier   *TokenVerifier
	accounts   *service.AccountService
	thrivecart *service.ThriveCartService
	fanbases   *service.FanbasesService
	now        func() time.Time
}

// NewHandler wires the ledger services. rdb may be nil, in which case the
// grant lock is skipped and the unique charge id alone guards replays.
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, logger *zerolog.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}

	ttl := time.Duration(cfg.Business.LockTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	locker := lock.NewRedisLocker(rdb, ttl)

	catalog := service.NewCatalog(cfg.Tiers, repository.NewProductRepository(db))
	granter := service.NewGranter(db, locker, cfg, logger)
	coupons := service.NewCouponEngine(db, granter, catalog, logger)

	var client *fanbases.Client
	if cfg.Fanbases.APIKey != "" {
		client = fanbases.NewClient(cfg.Fanbases.APIKey, cfg.Fanbases.BaseURL, cfg.Fanbases.Timeout())
	}

	return &Handler{
		db:         db,
		logger:     logger,
		verifier:   NewTokenVerifier(cfg.Auth.JWTSecret),
		accounts:   service.NewAccountService(db),
		thrivecart: service.NewThriveCartService(cfg, db, catalog, granter, coupons, logger),
		fanbases:   service.NewFanbasesService(cfg, db, client, catalog, granter, logger),
		now:        time.Now,
	}
}

// writeError maps a service error onto the provider's response policy.
// Rejections keep their status; processing failures may be answered with
// 200 for providers that would otherwise redeliver.
func (h *Handler) writeError(c *gin.Context, p response.Provider, err error) {
	se := service.AsError(err)
	status := se.Kind.HTTPStatus()

	switch se.Kind {
	case service.KindInternal, service.KindUpstream:
		h.logger.Error().Err(se.Err).Str("provider", string(p)).Str("path", c.FullPath()).Msg(se.Message)
	case service.KindConfig:
		h.logger.Error().Str("provider", string(p)).Str("path", c.FullPath()).Msg(se.Message)
	}

	if se.Kind.Rejects() {
		response.Reject(c, status, se.Message)
		return
	}
	response.Fail(c, p, status, se.Message)
}

// Health reports liveness and whether the ledger store answers.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"timestamp":         h.now().UTC().Format(time.RFC3339),
		"supabaseConnected": database.Ping(h.db),
	})
}

// GetBalance returns the caller's credits and tier.
// GET /api/ledger/balance
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.accounts.GetBalance(c.Request.Context(), userIDFrom(c))
	if err != nil {
		h.writeError(c, response.ProviderAPI, err)
		return
	}
	fields := gin.H{
		"user_id":         balance.UserID,
		"credits":         balance.Credits.InexactFloat64(),
		"tier":            balance.Tier,
		"monthly_credits": balance.MonthlyCredits,
	}
	if balance.Subscription != nil {
		fields["subscription"] = gin.H{
			"tier":               balance.Subscription.Tier,
			"status":             balance.Subscription.Status,
			"provider":           balance.Subscription.Provider,
			"current_period_end": balance.Subscription.CurrentPeriodEnd.UTC().Format(time.RFC3339),
		}
	}
	response.Success(c, fields)
}

// ListTransactions pages through the caller's credit history.
// GET /api/ledger/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		response.ParamError(c, "page must be a number")
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil {
		response.ParamError(c, "page_size must be a number")
		return
	}

	list, total, err := h.accounts.ListTransactions(c.Request.Context(), userIDFrom(c), page, pageSize)
	if err != nil {
		h.writeError(c, response.ProviderAPI, err)
		return
	}

	items := make([]gin.H, 0, len(list))
	for _, t := range list {
		items = append(items, gin.H{
			"transaction_no": t.TransactionNo,
			"amount":         t.Amount.InexactFloat64(),
			"type":           t.Type,
			"payment_method": t.PaymentMethod,
			"balance_after":  t.BalanceAfter.InexactFloat64(),
			"metadata":       t.Metadata,
			"created_at":     t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	response.Success(c, gin.H{
		"total":        total,
		"page":         page,
		"transactions": items,
	})
}

// ListPurchases returns the caller's completed purchases.
// GET /api/ledger/purchases
func (h *Handler) ListPurchases(c *gin.Context) {
	list, err := h.accounts.ListPurchases(c.Request.Context(), userIDFrom(c))
	if err != nil {
		h.writeError(c, response.ProviderAPI, err)
		return
	}
	response.Success(c, gin.H{"purchases": list})
}
