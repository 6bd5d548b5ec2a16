package models

import (
	"time"

	"github.com/angelmondragon/billing-engine/pkg/enums"
)

// ProcessedEvent marks a gateway event id as fully applied. Rows are never updated.
type ProcessedEvent struct {
	EventID     string             `gorm:"column:event_id;primaryKey"`
	EventType   string             `gorm:"column:event_type;not null"`
	Outcome     enums.EventOutcome `gorm:"column:outcome;not null"`
	ProcessedAt time.Time          `gorm:"column:processed_at;not null"`
}
