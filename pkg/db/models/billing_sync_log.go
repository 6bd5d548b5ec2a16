package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billing-engine/pkg/enums"
)

// BillingSyncLog is the append-only audit trail of what each event did.
type BillingSyncLog struct {
	ID         uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	EventID    string               `gorm:"column:event_id;not null;index"`
	EventType  string               `gorm:"column:event_type;not null"`
	EntityType enums.SyncEntityType `gorm:"column:entity_type;not null"`
	EntityID   string               `gorm:"column:entity_id"`
	Action     string               `gorm:"column:action;not null"`
	Outcome    enums.EventOutcome   `gorm:"column:outcome;not null"`
	Details    json.RawMessage      `gorm:"column:details;type:jsonb"`
	CreatedAt  time.Time            `gorm:"column:created_at;autoCreateTime"`
}
