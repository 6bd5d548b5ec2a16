package plans

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/pkg/db/models"
)

// Repository reads billing plans. Plans are administered elsewhere; the
// engine only needs their app list and monthly credit pool.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id string) (*models.BillingPlan, error)
	FindByPriceID(ctx context.Context, priceID string) (*models.BillingPlan, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByID returns nil, nil when the plan does not exist.
func (r *repository) FindByID(ctx context.Context, id string) (*models.BillingPlan, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	return r.first(ctx, "id = ?", id)
}

// FindByPriceID resolves a plan from the gateway price reference.
func (r *repository) FindByPriceID(ctx context.Context, priceID string) (*models.BillingPlan, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return nil, nil
	}
	return r.first(ctx, "stripe_price_id = ?", priceID)
}

func (r *repository) first(ctx context.Context, query string, args ...any) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	err := r.db.WithContext(ctx).Where(query, args...).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}
