package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billing-engine/pkg/enums"
)

// Subscription is the single subscription row a tenant owns, keyed by tenant_id.
type Subscription struct {
	ID                      uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	TenantID                uuid.UUID                `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex"`
	PlanID                  string                   `gorm:"column:plan_id;not null"`
	Status                  enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'none'"`
	BillingCycle            enums.BillingCycle       `gorm:"column:billing_cycle;type:billing_cycle;not null;default:'monthly'"`
	ExternalSubscriptionRef *string                  `gorm:"column:external_subscription_ref;uniqueIndex"`
	ExternalCustomerRef     *string                  `gorm:"column:external_customer_ref"`
	PeriodStart             *time.Time               `gorm:"column:period_start"`
	PeriodEnd               *time.Time               `gorm:"column:period_end"`
	CanceledAt              *time.Time               `gorm:"column:canceled_at"`
	LastEventID             *string                  `gorm:"column:last_event_id"`
	CreatedAt               time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
