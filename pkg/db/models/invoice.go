package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Invoice is an append-only record of a gateway invoice. Only PaidAt may be
// filled in after insert.
type Invoice struct {
	ID                      uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	TenantID                uuid.UUID       `gorm:"column:tenant_id;type:uuid;not null;index"`
	ExternalInvoiceRef      string          `gorm:"column:external_invoice_ref;not null;uniqueIndex"`
	ExternalSubscriptionRef *string         `gorm:"column:external_subscription_ref"`
	Amount                  decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency                string          `gorm:"column:currency;not null"`
	Status                  string          `gorm:"column:status;not null"`
	IssuedAt                time.Time       `gorm:"column:issued_at;not null"`
	PaidAt                  *time.Time      `gorm:"column:paid_at"`
	DocumentURL             *string         `gorm:"column:document_url"`
	HostedURL               *string         `gorm:"column:hosted_url"`
	CreatedAt               time.Time       `gorm:"column:created_at;autoCreateTime"`
}
