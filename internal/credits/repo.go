package credits

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/billing-engine/pkg/db/models"
)

// Repository reads and appends credit ledger entries. Entries are never
// updated or deleted.
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

// Exists reports whether an entry with the dedupe key is already recorded.
func (r *Repository) Exists(ctx context.Context, dedupeKey string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditLedgerEntry{}).
		Where("dedupe_key = ?", dedupeKey).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Insert appends entry unless its dedupe key exists. It reports whether a row
// was written.
func (r *Repository) Insert(ctx context.Context, entry *models.CreditLedgerEntry) (bool, error) {
	if entry == nil {
		return false, errors.New("ledger entry required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Balance sums every entry of the user.
func (r *Repository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditLedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Scan(&total).Error
	return total, err
}

// ListByEvent returns the entries written for one source event.
func (r *Repository) ListByEvent(ctx context.Context, eventID string) ([]models.CreditLedgerEntry, error) {
	var rows []models.CreditLedgerEntry
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("user_id ASC").
		Find(&rows).Error
	return rows, err
}
