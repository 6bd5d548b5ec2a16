package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billing-engine/pkg/enums"
)

// CreditLedgerEntry is one signed movement of a user's credits. The balance is
// the sum of a user's entries; rows are never updated or deleted.
type CreditLedgerEntry struct {
	ID         uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	UserID     uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	TenantID   *uuid.UUID             `gorm:"column:tenant_id;type:uuid"`
	Amount     int64                  `gorm:"column:amount;not null"`
	Reason     string                 `gorm:"column:reason;not null"`
	SourceType enums.CreditSourceType `gorm:"column:source_type;type:credit_source_type;not null"`
	EventID    string                 `gorm:"column:event_id;not null"`
	DedupeKey  string                 `gorm:"column:dedupe_key;not null;uniqueIndex"`
	CreatedAt  time.Time              `gorm:"column:created_at;autoCreateTime"`
}
