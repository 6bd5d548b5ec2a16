package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billing-engine/pkg/enums"
)

// AppLicense entitles a tenant to an app; unique on (tenant_id, app_slug).
type AppLicense struct {
	TenantID  uuid.UUID           `gorm:"column:tenant_id;type:uuid;primaryKey"`
	AppSlug   string              `gorm:"column:app_slug;primaryKey"`
	IsActive  bool                `gorm:"column:is_active;not null;default:false"`
	Source    enums.LicenseSource `gorm:"column:source;type:license_source;not null"`
	GrantedBy *string             `gorm:"column:granted_by"`
	UpdatedAt time.Time           `gorm:"column:updated_at"`
}
