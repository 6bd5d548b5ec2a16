package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/angelmondragon/billing-engine/pkg/enums"
)

// Purchase is a one-time credit pack or marketplace item purchase.
type Purchase struct {
	ID            uuid.UUID                    `gorm:"column:id;type:uuid;primaryKey"`
	TenantID      uuid.UUID                    `gorm:"column:tenant_id;type:uuid;not null;index"`
	UserID        *uuid.UUID                   `gorm:"column:user_id;type:uuid"`
	Kind          enums.PurchaseKind           `gorm:"column:kind;type:purchase_kind;not null"`
	Status        enums.PurchaseStatus         `gorm:"column:status;type:purchase_status;not null;default:'pending'"`
	ExternalRef   *string                      `gorm:"column:external_ref;uniqueIndex"`
	ItemsApplied  bool                         `gorm:"column:items_applied;not null;default:false"`
	ItemRefs      pq.StringArray               `gorm:"column:item_refs;type:text[]"`
	Credits       int64                        `gorm:"column:credits;not null;default:0"`
	FailureReason *enums.PurchaseFailureReason `gorm:"column:failure_reason"`
	LastError     *string                      `gorm:"column:last_error"`
	AttemptCount  int                          `gorm:"column:attempt_count;not null;default:0"`
	CompletedAt   *time.Time                   `gorm:"column:completed_at"`
	CreatedAt     time.Time                    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                    `gorm:"column:updated_at;autoUpdateTime"`
}
