package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/internal/audit"
	"github.com/angelmondragon/billing-engine/internal/credits"
	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/billing-engine/pkg/errors"
	"github.com/angelmondragon/billing-engine/pkg/logger"
	"github.com/angelmondragon/billing-engine/pkg/outbox"
	"github.com/angelmondragon/billing-engine/pkg/outbox/payloads"
)

const retryEventType = "cron.purchase_provisioning_retry"

var errAlreadyApplied = errors.New("purchase already applied")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Request is a paid one-time checkout. PurchaseID is the id minted by the
// storefront when present; ExternalRef is the checkout session id.
type Request struct {
	Source      audit.Source
	PurchaseID  uuid.UUID
	ExternalRef string
	TenantID    uuid.UUID
	UserID      *uuid.UUID
	Kind        enums.PurchaseKind
	Credits     int64
	ItemRefs    []string
}

// PaymentFailure identifies a purchase whose payment did not go through.
type PaymentFailure struct {
	Source      audit.Source
	PurchaseID  uuid.UUID
	ExternalRef string
	Reason      string
}

type Result struct {
	Purchase *models.Purchase
	Outcome  enums.EventOutcome
}

// RetryReport summarises one RetryProvisioning pass.
type RetryReport struct {
	Candidates int
	Completed  int
	Failed     int
}

type ServiceParams struct {
	DB          txRunner
	Repo        *Repository
	Credits     *credits.Service
	Provisioner Provisioner
	Audit       *audit.Writer
	Logger      *logger.Logger
}

type Service struct {
	db          txRunner
	repo        *Repository
	credits     *credits.Service
	provisioner Provisioner
	audit       *audit.Writer
	logg        *logger.Logger
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Repo == nil {
		return nil, errors.New("purchase repository required")
	}
	if params.Credits == nil {
		return nil, errors.New("credit service required")
	}
	if params.Provisioner == nil {
		return nil, errors.New("provisioner required")
	}
	if params.Audit == nil {
		return nil, errors.New("audit writer required")
	}
	return &Service{
		db:          params.DB,
		repo:        params.Repo,
		credits:     params.Credits,
		provisioner: params.Provisioner,
		audit:       params.Audit,
		logg:        params.Logger,
		now:         time.Now,
	}, nil
}

// Apply records the purchase and provisions it. The pending row commits on
// its own so a provisioning failure is still persisted when the caller's
// event is retried. A completed purchase is never provisioned twice.
func (s *Service) Apply(ctx context.Context, req Request) (*Result, error) {
	if req.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase tenant id is required")
	}
	if !req.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase kind is invalid")
	}

	var purchase *models.Purchase
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		row := &models.Purchase{
			ID:          req.PurchaseID,
			TenantID:    req.TenantID,
			UserID:      req.UserID,
			Kind:        req.Kind,
			ExternalRef: optional(req.ExternalRef),
			ItemRefs:    pq.StringArray(req.ItemRefs),
			Credits:     req.Credits,
		}
		stored, err := s.repo.WithTx(tx).UpsertPending(ctx, row)
		if err != nil {
			return err
		}
		purchase = stored
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert purchase: %w", err)
	}
	if purchase == nil {
		return nil, errors.New("purchase missing after upsert")
	}
	if purchase.Status == enums.PurchaseStatusCompleted && purchase.ItemsApplied {
		return &Result{Purchase: purchase, Outcome: enums.EventOutcomeSkipped}, nil
	}
	return s.provision(ctx, req.Source, purchase)
}

// MarkPaymentFailed fails a purchase that has not completed. Unknown
// purchases and completed ones are skipped.
func (s *Service) MarkPaymentFailed(ctx context.Context, tx *gorm.DB, failure PaymentFailure) (*Result, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	repo := s.repo.WithTx(tx)
	purchase, err := repo.FindByID(ctx, failure.PurchaseID)
	if err != nil {
		return nil, fmt.Errorf("load purchase: %w", err)
	}
	if purchase == nil {
		purchase, err = repo.FindByExternalRef(ctx, failure.ExternalRef)
		if err != nil {
			return nil, fmt.Errorf("load purchase: %w", err)
		}
	}
	if purchase == nil {
		entityID := failure.ExternalRef
		if failure.PurchaseID != uuid.Nil {
			entityID = failure.PurchaseID.String()
		}
		err := s.audit.Record(ctx, tx, audit.Entry{
			Source:     failure.Source,
			EntityType: enums.SyncEntityPurchase,
			EntityID:   entityID,
			Action:     "purchase.payment_failed",
			Outcome:    enums.EventOutcomeSkipped,
			Details:    map[string]any{"reason": "purchase not found"},
		})
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: enums.EventOutcomeSkipped}, nil
	}

	updated, err := repo.MarkPaymentFailed(ctx, purchase.ID, failure.Reason)
	if err != nil {
		return nil, fmt.Errorf("mark payment failed: %w", err)
	}
	outcome := enums.EventOutcomeApplied
	if !updated {
		outcome = enums.EventOutcomeSkipped
	}
	err = s.audit.Record(ctx, tx, audit.Entry{
		Source:     failure.Source,
		EntityType: enums.SyncEntityPurchase,
		EntityID:   purchase.ID.String(),
		Action:     "purchase.payment_failed",
		Outcome:    outcome,
		Details: map[string]any{
			"status": purchase.Status,
			"reason": failure.Reason,
		},
	})
	if err != nil {
		return nil, err
	}
	stored, err := repo.FindByID(ctx, purchase.ID)
	if err != nil {
		return nil, fmt.Errorf("reload purchase: %w", err)
	}
	if !updated {
		return &Result{Purchase: stored, Outcome: outcome}, nil
	}
	if err := s.emitFailed(ctx, tx, failure.Source, stored); err != nil {
		return nil, err
	}
	return &Result{Purchase: stored, Outcome: outcome}, nil
}

// RetryProvisioning re-runs provisioning for failed purchases under the
// attempt cap. Errors of individual purchases are combined.
func (s *Service) RetryProvisioning(ctx context.Context, limit, maxAttempts int) (RetryReport, error) {
	report := RetryReport{}
	candidates, err := s.repo.ListRetryable(ctx, limit, maxAttempts)
	if err != nil {
		return report, fmt.Errorf("list retryable purchases: %w", err)
	}
	report.Candidates = len(candidates)

	var errs error
	for i := range candidates {
		purchase := &candidates[i]
		src := audit.Source{
			EventID:   fmt.Sprintf("retry:%s:%d", purchase.ID, purchase.AttemptCount+1),
			EventType: retryEventType,
		}
		if _, err := s.provision(ctx, src, purchase); err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("purchase %s: %w", purchase.ID, err))
			continue
		}
		report.Completed++
	}
	return report, errs
}

func (s *Service) provision(ctx context.Context, src audit.Source, purchase *models.Purchase) (*Result, error) {
	var completed *models.Purchase
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.provisionItems(ctx, tx, src, purchase); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		marked, err := repo.MarkCompleted(ctx, purchase.ID)
		if err != nil {
			return fmt.Errorf("mark purchase completed: %w", err)
		}
		if !marked {
			return errAlreadyApplied
		}
		stored, err := repo.FindByID(ctx, purchase.ID)
		if err != nil {
			return fmt.Errorf("reload purchase: %w", err)
		}
		completed = stored
		if err := s.audit.Record(ctx, tx, audit.Entry{
			Source:     src,
			EntityType: enums.SyncEntityPurchase,
			EntityID:   purchase.ID.String(),
			Action:     "purchase.complete",
			Outcome:    enums.EventOutcomeApplied,
			Details: map[string]any{
				"kind":    purchase.Kind,
				"credits": purchase.Credits,
				"items":   len(purchase.ItemRefs),
			},
		}); err != nil {
			return err
		}
		return s.audit.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPurchaseCompleted,
			AggregateType: enums.AggregatePurchase,
			AggregateID:   stored.ID,
			Source:        src.Ref(),
			Data: payloads.PurchaseCompletedEvent{
				PurchaseID:  stored.ID,
				TenantID:    stored.TenantID,
				UserID:      stored.UserID,
				Kind:        stored.Kind,
				Credits:     stored.Credits,
				ItemRefs:    []string(stored.ItemRefs),
				CompletedAt: s.now().UTC(),
			},
		})
	})
	if errors.Is(err, errAlreadyApplied) {
		stored, loadErr := s.repo.FindByID(ctx, purchase.ID)
		if loadErr != nil {
			return nil, fmt.Errorf("reload purchase: %w", loadErr)
		}
		return &Result{Purchase: stored, Outcome: enums.EventOutcomeSkipped}, nil
	}
	if err != nil {
		return nil, s.recordProvisioningFailure(ctx, src, purchase, err)
	}
	return &Result{Purchase: completed, Outcome: enums.EventOutcomeApplied}, nil
}

func (s *Service) provisionItems(ctx context.Context, tx *gorm.DB, src audit.Source, purchase *models.Purchase) error {
	switch purchase.Kind {
	case enums.PurchaseKindCreditPack:
		if purchase.UserID == nil {
			return errors.New("credit pack purchase has no user")
		}
		tenantID := purchase.TenantID
		_, err := s.credits.Grant(ctx, tx, credits.GrantParams{
			Source:       src,
			DedupeSource: "purchase:" + purchase.ID.String(),
			TenantID:     &tenantID,
			UserID:       *purchase.UserID,
			Amount:       purchase.Credits,
			SourceType:   enums.CreditSourceCreditPack,
			Reason:       "credit pack purchase",
		})
		return err
	case enums.PurchaseKindMarketplaceItem:
		return s.provisioner.CopyPurchasedItems(ctx, tx, purchase.TenantID, purchase.UserID, []string(purchase.ItemRefs))
	default:
		return fmt.Errorf("unsupported purchase kind %q", purchase.Kind)
	}
}

// recordProvisioningFailure persists the failure in its own transaction and
// returns the dependency error reported to the caller.
func (s *Service) recordProvisioningFailure(ctx context.Context, src audit.Source, purchase *models.Purchase, cause error) error {
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"purchase_id":   purchase.ID.String(),
			"tenant_id":     purchase.TenantID.String(),
			"purchase_kind": purchase.Kind,
		})
		s.logg.Error(logCtx, "purchase provisioning failed", cause)
	}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.MarkProvisioningFailed(ctx, purchase.ID, cause.Error()); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, audit.Entry{
			Source:     src,
			EntityType: enums.SyncEntityPurchase,
			EntityID:   purchase.ID.String(),
			Action:     "purchase.provision",
			Outcome:    enums.EventOutcomeFailed,
			Details:    map[string]any{"error": cause.Error()},
		}); err != nil {
			return err
		}
		stored, err := repo.FindByID(ctx, purchase.ID)
		if err != nil || stored == nil {
			return err
		}
		return s.emitFailed(ctx, tx, src, stored)
	})
	if err != nil {
		cause = multierr.Append(cause, fmt.Errorf("record provisioning failure: %w", err))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "purchase provisioning failed")
}

func (s *Service) emitFailed(ctx context.Context, tx *gorm.DB, src audit.Source, purchase *models.Purchase) error {
	event := payloads.PurchaseFailedEvent{
		PurchaseID:   purchase.ID,
		TenantID:     purchase.TenantID,
		Kind:         purchase.Kind,
		AttemptCount: purchase.AttemptCount,
	}
	if purchase.FailureReason != nil {
		event.FailureReason = *purchase.FailureReason
	}
	if purchase.LastError != nil {
		event.LastError = *purchase.LastError
	}
	return s.audit.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPurchaseFailed,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   purchase.ID,
		Source:        src.Ref(),
		Data:          event,
	})
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
