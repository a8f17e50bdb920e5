package job

import (
	"context"
	"errors"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/logging"
	"coursepay/internal/model"
	"coursepay/internal/repository"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// CheckoutTimeoutJob expires pending checkout sessions past their deadline.
type CheckoutTimeoutJob struct {
	checkoutRepo *repository.CheckoutRepository
	logger       *zerolog.Logger
	stopCh       chan struct{}
	interval     time.Duration
	batchSize    int
	now          func() time.Time
}

func NewCheckoutTimeoutJob(db *gorm.DB, logger *zerolog.Logger) *CheckoutTimeoutJob {
	if logger == nil {
		logger = logging.Nop()
	}
	return &CheckoutTimeoutJob{
		checkoutRepo: repository.NewCheckoutRepository(db),
		logger:       logger,
		stopCh:       make(chan struct{}),
		interval:     time.Minute,
		batchSize:    100,
		now:          time.Now,
	}
}

func (j *CheckoutTimeoutJob) Start(ctx context.Context) {
	j.logger.Info().Str("job", "checkout_timeout").Msg("job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopCh:
			j.logger.Info().Str("job", "checkout_timeout").Msg("job stopped")
			return
		case <-ticker.C:
			j.expireSessions(ctx)
		}
	}
}

func (j *CheckoutTimeoutJob) Stop() {
	close(j.stopCh)
}

func (j *CheckoutTimeoutJob) expireSessions(ctx context.Context) int {
	sessions, err := j.checkoutRepo.GetExpiredPending(ctx, j.now(), j.batchSize)
	if err != nil {
		j.logger.Error().Err(err).Msg("load expired checkout sessions")
		return 0
	}

	expired := 0
	for _, s := range sessions {
		err := j.checkoutRepo.UpdateStatus(ctx, s.ID, model.CheckoutStatusPending, model.CheckoutStatusExpired)
		if errors.Is(err, repository.ErrCheckoutStatusInvalid) {
			// completed by a grant in the meantime
			continue
		}
		if err != nil {
			j.logger.Error().Err(err).Str("checkout_session_id", s.ID).Msg("expire checkout session")
			continue
		}
		expired++
		j.logger.Info().Str("checkout_session_id", s.ID).Str("user_id", s.UserID).Str("reference", s.InternalReference).Msg("checkout session expired")
	}
	return expired
}

// CheckoutReconcileJob completes pending sessions whose payment was already
// granted, e.g. through the webhook while the browser never came back.
type CheckoutReconcileJob struct {
	checkoutRepo *repository.CheckoutRepository
	purchaseRepo *repository.PurchaseRepository
	staleAfter   time.Duration
	logger       *zerolog.Logger
	stopCh       chan struct{}
	interval     time.Duration
	batchSize    int
	now          func() time.Time
}

func NewCheckoutReconcileJob(db *gorm.DB, cfg *config.Config, logger *zerolog.Logger) *CheckoutReconcileJob {
	if logger == nil {
		logger = logging.Nop()
	}
	staleAfter := time.Duration(cfg.Business.CheckoutTimeoutMinutes) * time.Minute / 12
	if staleAfter < time.Minute {
		staleAfter = time.Minute
	}
	return &CheckoutReconcileJob{
		checkoutRepo: repository.NewCheckoutRepository(db),
		purchaseRepo: repository.NewPurchaseRepository(db),
		staleAfter:   staleAfter,
		logger:       logger,
		stopCh:       make(chan struct{}),
		interval:     30 * time.Second,
		batchSize:    50,
		now:          time.Now,
	}
}

func (j *CheckoutReconcileJob) Start(ctx context.Context) {
	j.logger.Info().Str("job", "checkout_reconcile").Msg("job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopCh:
			j.logger.Info().Str("job", "checkout_reconcile").Msg("job stopped")
			return
		case <-ticker.C:
			j.reconcile(ctx)
		}
	}
}

func (j *CheckoutReconcileJob) Stop() {
	close(j.stopCh)
}

func (j *CheckoutReconcileJob) reconcile(ctx context.Context) int {
	sessions, err := j.checkoutRepo.GetStalePending(ctx, j.now().Add(-j.staleAfter), j.batchSize)
	if err != nil {
		j.logger.Error().Err(err).Msg("load stale checkout sessions")
		return 0
	}

	completed := 0
	for _, s := range sessions {
		purchase, err := j.purchaseRepo.GetCompletedByChargeID(ctx, nil, s.PaymentIntent)
		if err != nil {
			j.logger.Error().Err(err).Str("checkout_session_id", s.ID).Msg("look up purchase for checkout")
			continue
		}
		if purchase == nil {
			continue
		}
		changed, err := j.checkoutRepo.CompletePending(ctx, nil, s.UserID, s.ID, s.PaymentIntent)
		if err != nil {
			j.logger.Error().Err(err).Str("checkout_session_id", s.ID).Msg("complete checkout session")
			continue
		}
		if changed {
			completed++
			j.logger.Info().Str("checkout_session_id", s.ID).Str("payment_intent", s.PaymentIntent).Msg("checkout session reconciled")
		}
	}
	return completed
}
