package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billing-engine/pkg/enums"
)

// TenantMember links a user to a tenant. Written by the account service; read here.
type TenantMember struct {
	TenantID  uuid.UUID              `gorm:"column:tenant_id;type:uuid;primaryKey"`
	UserID    uuid.UUID              `gorm:"column:user_id;type:uuid;primaryKey"`
	Status    enums.MembershipStatus `gorm:"column:status;type:membership_status;not null"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
