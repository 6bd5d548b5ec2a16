package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/billing-engine/pkg/enums"
)

// SubscriptionStatusChangedEvent is emitted on every applied lifecycle transition.
type SubscriptionStatusChangedEvent struct {
	SubscriptionID uuid.UUID                `json:"subscription_id" validate:"required"`
	TenantID       uuid.UUID                `json:"tenant_id"`
	PlanID         string                   `json:"plan_id"`
	From           enums.SubscriptionStatus `json:"from"`
	To             enums.SubscriptionStatus `json:"to" validate:"required"`
	Trigger        string                   `json:"trigger"`
	PeriodEnd      *time.Time               `json:"period_end,omitempty"`
}

// CreditRecipient is one ledger entry inside a grant.
type CreditRecipient struct {
	UserID uuid.UUID `json:"user_id"`
	Amount int64     `json:"amount"`
}

// CreditsGrantedEvent reports the entries written for one gateway event.
type CreditsGrantedEvent struct {
	TenantID   *uuid.UUID             `json:"tenant_id,omitempty"`
	SourceType enums.CreditSourceType `json:"source_type" validate:"required"`
	EventID    string                 `json:"event_id" validate:"required"`
	Total      int64                  `json:"total"`
	Recipients []CreditRecipient      `json:"recipients"`
}

// InvoiceRecordedEvent is emitted the first time an invoice is stored.
type InvoiceRecordedEvent struct {
	InvoiceID          uuid.UUID       `json:"invoice_id" validate:"required"`
	TenantID           uuid.UUID       `json:"tenant_id"`
	ExternalInvoiceRef string          `json:"external_invoice_ref" validate:"required"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
}

// PurchaseCompletedEvent is emitted once items or credits are provisioned.
type PurchaseCompletedEvent struct {
	PurchaseID  uuid.UUID          `json:"purchase_id" validate:"required"`
	TenantID    uuid.UUID          `json:"tenant_id"`
	UserID      *uuid.UUID         `json:"user_id,omitempty"`
	Kind        enums.PurchaseKind `json:"kind" validate:"required"`
	Credits     int64              `json:"credits,omitempty"`
	ItemRefs    []string           `json:"item_refs,omitempty"`
	CompletedAt time.Time          `json:"completed_at"`
}

// PurchaseFailedEvent is emitted when payment or provisioning fails.
type PurchaseFailedEvent struct {
	PurchaseID    uuid.UUID                   `json:"purchase_id" validate:"required"`
	TenantID      uuid.UUID                   `json:"tenant_id"`
	Kind          enums.PurchaseKind          `json:"kind"`
	FailureReason enums.PurchaseFailureReason `json:"failure_reason"`
	LastError     string                      `json:"last_error,omitempty"`
	AttemptCount  int                         `json:"attempt_count"`
}
