package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/internal/audit"
	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
	"github.com/angelmondragon/billing-engine/pkg/outbox"
	"github.com/angelmondragon/billing-engine/pkg/outbox/payloads"
)

type RecordParams struct {
	Source                  audit.Source
	TenantID                uuid.UUID
	ExternalInvoiceRef      string
	ExternalSubscriptionRef string
	Amount                  decimal.Decimal
	Currency                string
	Status                  string
	IssuedAt                time.Time
	PaidAt                  *time.Time
	DocumentURL             string
	HostedURL               string
}

type RecordResult struct {
	Invoice  *models.Invoice
	Inserted bool
	Paid     bool
}

type Service struct {
	repo  *Repository
	audit *audit.Writer
}

func NewService(repo *Repository, writer *audit.Writer) (*Service, error) {
	if repo == nil {
		return nil, errors.New("invoice repository required")
	}
	if writer == nil {
		return nil, errors.New("audit writer required")
	}
	return &Service{repo: repo, audit: writer}, nil
}

// Record stores the invoice once per external reference and stamps paid_at.
// Replays of the same invoice leave exactly one row.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, params RecordParams) (*RecordResult, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	ref := strings.TrimSpace(params.ExternalInvoiceRef)
	if ref == "" {
		return nil, errors.New("external invoice ref required")
	}
	issuedAt := params.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	status := strings.TrimSpace(params.Status)
	if status == "" {
		status = "paid"
	}
	repo := s.repo.WithTx(tx)

	invoice := &models.Invoice{
		TenantID:                params.TenantID,
		ExternalInvoiceRef:      ref,
		ExternalSubscriptionRef: optional(params.ExternalSubscriptionRef),
		Amount:                  params.Amount,
		Currency:                currency,
		Status:                  status,
		IssuedAt:                issuedAt,
		DocumentURL:             optional(params.DocumentURL),
		HostedURL:               optional(params.HostedURL),
	}
	inserted, err := repo.InsertIfAbsent(ctx, invoice)
	if err != nil {
		return nil, fmt.Errorf("insert invoice: %w", err)
	}
	result := &RecordResult{Inserted: inserted}
	if params.PaidAt != nil {
		paid, err := repo.MarkPaid(ctx, ref, params.PaidAt.UTC())
		if err != nil {
			return nil, fmt.Errorf("mark invoice paid: %w", err)
		}
		result.Paid = paid
	}
	stored, err := repo.FindByExternalRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("reload invoice: %w", err)
	}
	if stored == nil {
		return nil, errors.New("invoice missing after insert")
	}
	result.Invoice = stored

	outcome := enums.EventOutcomeApplied
	if !inserted && !result.Paid {
		outcome = enums.EventOutcomeSkipped
	}
	err = s.audit.Record(ctx, tx, audit.Entry{
		Source:     params.Source,
		EntityType: enums.SyncEntityInvoice,
		EntityID:   ref,
		Action:     "invoice.record",
		Outcome:    outcome,
		Details: map[string]any{
			"inserted": inserted,
			"paid":     result.Paid,
			"amount":   stored.Amount.String(),
			"currency": stored.Currency,
		},
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		return result, nil
	}

	err = s.audit.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInvoiceRecorded,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   stored.ID,
		Source:        params.Source.Ref(),
		Data: payloads.InvoiceRecordedEvent{
			InvoiceID:          stored.ID,
			TenantID:           stored.TenantID,
			ExternalInvoiceRef: stored.ExternalInvoiceRef,
			Amount:             stored.Amount,
			Currency:           stored.Currency,
			PaidAt:             stored.PaidAt,
		},
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
