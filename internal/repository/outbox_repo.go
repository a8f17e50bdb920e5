package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"coursepay/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue stores a ledger event for later relay. Keyed by user so consumers
// see one user's events in order.
func (r *OutboxRepository) Enqueue(ctx context.Context, tx *gorm.DB, topic string, event *model.LedgerEvent) error {
	if tx == nil {
		tx = r.db
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	return tx.WithContext(ctx).Create(&model.OutboxMessage{
		MessageKey: event.UserID,
		Topic:      topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}).Error
}

// FetchPending returns up to limit pending messages, oldest first.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending).
		Update("status", model.OutboxStatusSent).Error
}

// RecordFailure counts one failed publish and parks the message as failed
// once it has used maxRetries attempts. It reports whether it was parked.
func (r *OutboxRepository) RecordFailure(ctx context.Context, id int64, maxRetries int) (bool, error) {
	db := r.db.WithContext(ctx)
	err := db.Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
	if err != nil {
		return false, err
	}
	result := db.Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ? AND retry_count >= ?", id, model.OutboxStatusPending, maxRetries).
		Update("status", model.OutboxStatusFailed)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
