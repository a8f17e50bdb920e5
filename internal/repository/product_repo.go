package repository

import (
	"context"
	"errors"

	"coursepay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetByReference returns nil, nil when no active row exists for ref.
func (r *ProductRepository) GetByReference(ctx context.Context, ref string) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).
		Where("internal_reference = ? AND active = ?", ref, true).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

// Upsert is used by seeding and admin tooling to keep the catalog current.
func (r *ProductRepository) Upsert(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "internal_reference"}},
			DoUpdates: clause.AssignmentColumns([]string{"product_type", "name", "price_cents", "credit_amount", "tier", "fanbases_product_id", "active", "updated_at"}),
		}).
		Create(product).Error
}
