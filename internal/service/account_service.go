package service

import (
	"context"
	"errors"

	"coursepay/internal/model"
	"coursepay/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AccountService struct {
	userRepo         *repository.UserRepository
	transactionRepo  *repository.TransactionRepository
	purchaseRepo     *repository.PurchaseRepository
	subscriptionRepo *repository.SubscriptionRepository
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{
		userRepo:         repository.NewUserRepository(db),
		transactionRepo:  repository.NewTransactionRepository(db),
		purchaseRepo:     repository.NewPurchaseRepository(db),
		subscriptionRepo: repository.NewSubscriptionRepository(db),
	}
}

type Balance struct {
	UserID         string              `json:"user_id"`
	Credits        decimal.Decimal     `json:"credits"`
	Tier           string              `json:"tier"`
	MonthlyCredits int64               `json:"monthly_credits"`
	Subscription   *model.Subscription `json:"subscription,omitempty"`
}

func (s *AccountService) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, NotFoundError("user not found")
		}
		return nil, InternalError("load user failed", err)
	}

	sub, err := s.subscriptionRepo.GetByUserID(ctx, nil, userID)
	if err != nil && !errors.Is(err, repository.ErrSubscriptionNotFound) {
		return nil, InternalError("load subscription failed", err)
	}

	return &Balance{
		UserID:         user.ID,
		Credits:        user.Credits,
		Tier:           user.SubscriptionTier,
		MonthlyCredits: user.MonthlyCredits,
		Subscription:   sub,
	}, nil
}

const maxPageSize = 100

// ListTransactions returns one page of the user's credit history, newest first.
func (s *AccountService) ListTransactions(ctx context.Context, userID string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = 20
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}
	list, total, err := s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, InternalError("list transactions failed", err)
	}
	return list, total, nil
}

func (s *AccountService) ListPurchases(ctx context.Context, userID string) ([]*model.UserPurchase, error) {
	list, err := s.purchaseRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, InternalError("list purchases failed", err)
	}
	return list, nil
}
