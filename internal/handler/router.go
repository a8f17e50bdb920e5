package handler

import (
	"coursepay/internal/config"
	"coursepay/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// SetupRouter builds the HTTP surface: provider webhooks, the browser
// facing Fanbases API, ledger reads, health and metrics.
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	switch cfg.Server.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(cfg.Server.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg, logger)

	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/thrivecart", h.ThriveCartWebhook)
		webhooks.GET("/thrivecart", h.ThriveCartHealth)
		webhooks.HEAD("/thrivecart", h.ThriveCartHead)
		webhooks.POST("/topup", h.TopupWebhook)
		webhooks.POST("/fanbases", h.FanbasesWebhook)
	}

	limiter := NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	api := r.Group("/api")
	{
		fb := api.Group("/fanbases", limiter.Middleware())
		{
			fb.POST("/charge", AuthMiddleware(h.verifier, true), h.Charge)
			fb.POST("/checkout", AuthMiddleware(h.verifier, true), h.CreateCheckout)
			fb.POST("/confirm", AuthMiddleware(h.verifier, false), h.Confirm)
		}

		ledger := api.Group("/ledger", AuthMiddleware(h.verifier, true))
		{
			ledger.GET("/balance", h.GetBalance)
			ledger.GET("/transactions", h.ListTransactions)
			ledger.GET("/purchases", h.ListPurchases)
		}
	}

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
