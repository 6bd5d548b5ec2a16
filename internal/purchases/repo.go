package purchases

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
)

const maxErrorLength = 1024

type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx, now: r.now}
}

// FindByID returns nil, nil when the purchase does not exist.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.first(ctx, "id = ?", id)
}

// FindByExternalRef returns nil, nil when no purchase carries ref.
func (r *Repository) FindByExternalRef(ctx context.Context, ref string) (*models.Purchase, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	return r.first(ctx, "external_ref = ?", ref)
}

// UpsertPending returns the stored purchase for p, inserting it as pending
// when neither its id nor its external reference is known yet.
func (r *Repository) UpsertPending(ctx context.Context, p *models.Purchase) (*models.Purchase, error) {
	if p == nil {
		return nil, errors.New("purchase required")
	}
	if p.ID != uuid.Nil {
		existing, err := r.FindByID(ctx, p.ID)
		if err != nil || existing != nil {
			return existing, err
		}
	}
	if p.ExternalRef == nil && p.ID == uuid.Nil {
		return nil, errors.New("purchase id or external ref required")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Status = enums.PurchaseStatusPending
	p.ItemsApplied = false

	query := r.db.WithContext(ctx)
	if p.ExternalRef != nil {
		query = query.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_ref"}},
			DoNothing: true,
		})
	}
	if err := query.Create(p).Error; err != nil {
		return nil, err
	}
	if p.ExternalRef != nil {
		return r.FindByExternalRef(ctx, *p.ExternalRef)
	}
	return r.FindByID(ctx, p.ID)
}

// MarkCompleted flips the purchase to completed exactly once. False means the
// items were already applied.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID) (bool, error) {
	now := r.now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id = ? AND items_applied = ?", id, false).
		Updates(map[string]any{
			"status":         string(enums.PurchaseStatusCompleted),
			"items_applied":  true,
			"completed_at":   now,
			"failure_reason": nil,
			"last_error":     nil,
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkProvisioningFailed records a failed provisioning attempt. items_applied
// stays false so the purchase remains retryable.
func (r *Repository) MarkProvisioningFailed(ctx context.Context, id uuid.UUID, cause string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id = ? AND items_applied = ?", id, false).
		Updates(map[string]any{
			"status":         string(enums.PurchaseStatusFailed),
			"failure_reason": string(enums.PurchaseFailureProvisioning),
			"last_error":     truncate(cause),
			"attempt_count":  gorm.Expr("attempt_count + 1"),
			"updated_at":     r.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkPaymentFailed fails a purchase that has not completed.
func (r *Repository) MarkPaymentFailed(ctx context.Context, id uuid.UUID, cause string) (bool, error) {
	values := map[string]any{
		"status":         string(enums.PurchaseStatusFailed),
		"failure_reason": string(enums.PurchaseFailurePayment),
		"updated_at":     r.now().UTC(),
	}
	if cause != "" {
		values["last_error"] = truncate(cause)
	}
	res := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id = ? AND status <> ?", id, string(enums.PurchaseStatusCompleted)).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListRetryable returns provisioning failures still under maxAttempts, oldest
// first.
func (r *Repository) ListRetryable(ctx context.Context, limit, maxAttempts int) ([]models.Purchase, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).
		Where("status = ? AND failure_reason = ? AND items_applied = ?",
			string(enums.PurchaseStatusFailed), string(enums.PurchaseFailureProvisioning), false)
	if maxAttempts > 0 {
		query = query.Where("attempt_count < ?", maxAttempts)
	}
	var rows []models.Purchase
	err := query.Order("updated_at ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) first(ctx context.Context, query string, args ...any) (*models.Purchase, error) {
	var p models.Purchase
	err := r.db.WithContext(ctx).Where(query, args...).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func truncate(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	return msg[:maxErrorLength]
}
