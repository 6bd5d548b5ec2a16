package invoices

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/billing-engine/pkg/db/models"
)

// Repository stores gateway invoices. Rows are append-only apart from paid_at.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// InsertIfAbsent writes invoice unless its external reference exists. It
// reports whether the row was inserted.
func (r *Repository) InsertIfAbsent(ctx context.Context, invoice *models.Invoice) (bool, error) {
	if invoice == nil {
		return false, errors.New("invoice required")
	}
	if invoice.ID == uuid.Nil {
		invoice.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_invoice_ref"}},
			DoNothing: true,
		}).
		Create(invoice)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkPaid fills paid_at once. Later calls leave the first timestamp.
func (r *Repository) MarkPaid(ctx context.Context, externalRef string, paidAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("external_invoice_ref = ? AND paid_at IS NULL", externalRef).
		Update("paid_at", paidAt)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FindByExternalRef returns nil, nil when the invoice is unknown.
func (r *Repository) FindByExternalRef(ctx context.Context, externalRef string) (*models.Invoice, error) {
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return nil, nil
	}
	var invoice models.Invoice
	err := r.db.WithContext(ctx).Where("external_invoice_ref = ?", externalRef).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *Repository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Invoice, error) {
	var rows []models.Invoice
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("issued_at DESC").
		Find(&rows).Error
	return rows, err
}
