package job

import (
	"context"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/infrastructure/mq"
	"coursepay/internal/logging"
	"coursepay/internal/metrics"
	"coursepay/internal/model"
	"coursepay/internal/repository"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// OutboxSender relays ledger events written by the granter to Kafka.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	maxRetries int
	logger     *zerolog.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config, logger *zerolog.Logger) *OutboxSender {
	if logger == nil {
		logger = logging.Nop()
	}
	maxRetries := cfg.Business.MaxRetryCount
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		maxRetries: maxRetries,
		logger:     logger,
		stopCh:     make(chan struct{}),
		interval:   500 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info().Str("job", "outbox_sender").Msg("job started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Str("job", "outbox_sender").Msg("context done, job exiting")
			return
		case <-s.stopCh:
			s.logger.Info().Str("job", "outbox_sender").Msg("job stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.FetchPending(ctx, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("load pending outbox messages")
		return
	}
	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	log := s.logger.With().Int64("id", msg.ID).Str("topic", msg.Topic).Logger()

	if err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload); err != nil {
		metrics.IncOutbox("retry")
		log.Warn().Err(err).Int("retry_count", msg.RetryCount).Msg("outbox publish failed")

		parked, err := s.outboxRepo.RecordFailure(ctx, msg.ID, s.maxRetries)
		if err != nil {
			log.Error().Err(err).Msg("record outbox failure")
			return
		}
		if parked {
			metrics.IncOutbox("failed")
			log.Error().Msg("outbox message exceeded max retries")
		}
		return
	}

	metrics.IncOutbox("sent")
	if err := s.outboxRepo.MarkSent(ctx, msg.ID); err != nil {
		log.Error().Err(err).Msg("mark outbox message sent")
		return
	}
	log.Debug().Str("key", msg.MessageKey).Msg("outbox message sent")
}
