package repository

import (
	"context"
	"errors"
	"time"

	"coursepay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrCheckoutNotFound      = errors.New("checkout session not found")
	ErrCheckoutStatusInvalid = errors.New("checkout session status transition not allowed")
)

type CheckoutRepository struct {
	db *gorm.DB
}

func NewCheckoutRepository(db *gorm.DB) *CheckoutRepository {
	return &CheckoutRepository{db: db}
}

func (r *CheckoutRepository) Create(ctx context.Context, session *model.CheckoutSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *CheckoutRepository) GetByID(ctx context.Context, id string) (*model.CheckoutSession, error) {
	var session model.CheckoutSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCheckoutNotFound
		}
		return nil, err
	}
	return &session, nil
}

// CompletePending marks userID's pending session matching id (or, when id is
// empty, the payment intent) as completed. It reports whether a row changed.
func (r *CheckoutRepository) CompletePending(ctx context.Context, tx *gorm.DB, userID, id, paymentIntent string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	if userID == "" {
		return false, nil
	}
	query := tx.WithContext(ctx).
		Model(&model.CheckoutSession{}).
		Where("user_id = ? AND status = ?", userID, model.CheckoutStatusPending)
	switch {
	case id != "":
		query = query.Where("id = ?", id)
	case paymentIntent != "":
		query = query.Where("payment_intent = ?", paymentIntent)
	default:
		return false, nil
	}

	updates := map[string]interface{}{"status": model.CheckoutStatusCompleted}
	if paymentIntent != "" {
		updates["payment_intent"] = paymentIntent
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *CheckoutRepository) UpdateStatus(ctx context.Context, id, fromStatus, toStatus string) error {
	if !model.CanTransitionCheckout(fromStatus, toStatus) {
		return ErrCheckoutStatusInvalid
	}
	result := r.db.WithContext(ctx).
		Model(&model.CheckoutSession{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Update("status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCheckoutStatusInvalid
	}
	return nil
}

func (r *CheckoutRepository) GetExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.CheckoutSession, error) {
	var sessions []*model.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.CheckoutStatusPending, now).
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// GetStalePending returns pending sessions with a known payment intent that
// were last touched before the given time.
func (r *CheckoutRepository) GetStalePending(ctx context.Context, before time.Time, limit int) ([]*model.CheckoutSession, error) {
	var sessions []*model.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_intent <> '' AND updated_at < ?", model.CheckoutStatusPending, before).
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}
