package stripewebhook

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/billing-engine/pkg/db/models"
)

// ProcessedRepository persists the ids of fully handled gateway events.
type ProcessedRepository struct {
	db *gorm.DB
}

func NewProcessedRepository(db *gorm.DB) *ProcessedRepository {
	return &ProcessedRepository{db: db}
}

func (r *ProcessedRepository) WithTx(tx *gorm.DB) *ProcessedRepository {
	if tx == nil {
		return r
	}
	return &ProcessedRepository{db: tx}
}

// Find returns nil, nil when the event id has not been processed.
func (r *ProcessedRepository) Find(ctx context.Context, eventID string) (*models.ProcessedEvent, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, nil
	}
	var row models.ProcessedEvent
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Insert records row once; a concurrent insert of the same id is a no-op.
// It reports whether this call wrote the row.
func (r *ProcessedRepository) Insert(ctx context.Context, row *models.ProcessedEvent) (bool, error) {
	if row == nil || strings.TrimSpace(row.EventID) == "" {
		return false, errors.New("processed event id required")
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
