package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/internal/audit"
	"github.com/angelmondragon/billing-engine/internal/licenses"
	"github.com/angelmondragon/billing-engine/internal/plans"
	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
	"github.com/angelmondragon/billing-engine/pkg/logger"
	"github.com/angelmondragon/billing-engine/pkg/outbox"
	"github.com/angelmondragon/billing-engine/pkg/outbox/payloads"
)

// ActivateParams carries a completed subscription checkout.
type ActivateParams struct {
	Source          audit.Source
	TenantID        uuid.UUID
	PlanID          string
	BillingCycle    enums.BillingCycle
	SubscriptionRef string
	CustomerRef     string
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
}

// RenewParams carries a paid invoice for an existing subscription.
type RenewParams struct {
	Source          audit.Source
	SubscriptionRef string
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
}

// Result describes what a lifecycle call did. Plan is set whenever the
// subscription ended in active and its plan exists.
type Result struct {
	Subscription *models.Subscription
	Plan         *models.BillingPlan
	From         enums.SubscriptionStatus
	To           enums.SubscriptionStatus
	Outcome      enums.EventOutcome
	Licenses     *licenses.ResyncResult
}

// Applied reports whether the subscription row was written.
func (r *Result) Applied() bool {
	return r != nil && r.Outcome == enums.EventOutcomeApplied
}

type ServiceParams struct {
	Repo     *Repository
	Plans    plans.Repository
	Licenses *licenses.Repository
	Audit    *audit.Writer
	Logger   *logger.Logger
}

// Service applies gateway lifecycle signals to tenant subscriptions. Every
// method runs inside the caller's transaction.
type Service struct {
	repo     *Repository
	plans    plans.Repository
	licenses *licenses.Repository
	audit    *audit.Writer
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("subscription repository required")
	}
	if params.Plans == nil {
		return nil, errors.New("plan repository required")
	}
	if params.Licenses == nil {
		return nil, errors.New("license repository required")
	}
	if params.Audit == nil {
		return nil, errors.New("audit writer required")
	}
	return &Service{
		repo:     params.Repo,
		plans:    params.Plans,
		licenses: params.Licenses,
		audit:    params.Audit,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

// FindByExternalRef returns nil, nil when no subscription carries ref.
func (s *Service) FindByExternalRef(ctx context.Context, tx *gorm.DB, ref string) (*models.Subscription, error) {
	return s.repo.WithTx(tx).FindByExternalRef(ctx, ref)
}

// Activate moves the tenant into active from none or canceled and resyncs
// licenses to the plan's apps.
func (s *Service) Activate(ctx context.Context, tx *gorm.DB, params ActivateParams) (*Result, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if params.TenantID == uuid.Nil {
		return nil, errors.New("tenant id required")
	}
	repo := s.repo.WithTx(tx)

	plan, err := s.plans.WithTx(tx).FindByID(ctx, params.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		return s.skip(ctx, tx, params.Source, params.TenantID.String(), "subscription.activate", map[string]any{
			"reason":  "plan not found",
			"plan_id": params.PlanID,
		})
	}

	existing, err := repo.FindByTenant(ctx, params.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	from := enums.SubscriptionStatusNone
	if existing != nil {
		from = existing.Status
	}
	to, ok := Transition(from, TriggerCheckoutCompleted)
	if !ok {
		return s.reject(ctx, tx, params.Source, existing, TriggerCheckoutCompleted, from)
	}

	cycle := params.BillingCycle
	if !cycle.IsValid() {
		cycle = enums.BillingCycleMonthly
	}
	eventID := params.Source.EventID
	sub := &models.Subscription{
		TenantID:                params.TenantID,
		PlanID:                  plan.ID,
		Status:                  to,
		BillingCycle:            cycle,
		ExternalSubscriptionRef: optional(params.SubscriptionRef),
		ExternalCustomerRef:     optional(params.CustomerRef),
		PeriodStart:             params.PeriodStart,
		PeriodEnd:               params.PeriodEnd,
		LastEventID:             &eventID,
	}
	if existing != nil {
		sub.ID = existing.ID
	}
	written, err := repo.UpsertActivation(ctx, sub, AllowedFrom(TriggerCheckoutCompleted))
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	if !written {
		return s.rejectConcurrent(ctx, tx, params.Source, params.TenantID, TriggerCheckoutCompleted)
	}
	stored, err := repo.FindByTenant(ctx, params.TenantID)
	if err != nil {
		return nil, fmt.Errorf("reload subscription: %w", err)
	}
	if stored == nil {
		return nil, errors.New("subscription missing after upsert")
	}

	result := &Result{Subscription: stored, Plan: plan, From: from, To: to, Outcome: enums.EventOutcomeApplied}
	resync, err := s.licenses.WithTx(tx).Resync(ctx, stored.TenantID, plan.Limits.Apps, params.Source.EventID)
	if err != nil {
		return nil, fmt.Errorf("resync licenses: %w", err)
	}
	result.Licenses = resync
	if err := s.applied(ctx, tx, params.Source, TriggerCheckoutCompleted, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Renew applies a paid invoice: active stays active with the new period and
// past_due recovers to active. Licenses are resynced to the plan either way.
func (s *Service) Renew(ctx context.Context, tx *gorm.DB, params RenewParams) (*Result, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	sub, result, err := s.load(ctx, tx, params.Source, params.SubscriptionRef, TriggerInvoicePaid, "subscription.renew")
	if err != nil || result != nil {
		return result, err
	}
	to, _ := Transition(sub.Status, TriggerInvoicePaid)
	written, err := s.repo.WithTx(tx).UpdateStatus(ctx, StatusUpdate{
		ID:          sub.ID,
		From:        AllowedFrom(TriggerInvoicePaid),
		To:          to,
		PeriodStart: params.PeriodStart,
		PeriodEnd:   params.PeriodEnd,
		EventID:     params.Source.EventID,
	})
	if err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	if !written {
		return s.rejectConcurrent(ctx, tx, params.Source, sub.TenantID, TriggerInvoicePaid)
	}

	result, err = s.reloaded(ctx, tx, sub, to)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.WithTx(tx).FindByID(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{"plan_id": sub.PlanID, "tenant_id": sub.TenantID.String()})
			s.logg.Warn(logCtx, "subscription plan missing; licenses left unchanged")
		}
	} else {
		result.Plan = plan
		resync, err := s.licenses.WithTx(tx).Resync(ctx, sub.TenantID, plan.Limits.Apps, params.Source.EventID)
		if err != nil {
			return nil, fmt.Errorf("resync licenses: %w", err)
		}
		result.Licenses = resync
	}
	if err := s.applied(ctx, tx, params.Source, TriggerInvoicePaid, result); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkPastDue moves an active subscription to past_due. Licenses are left
// untouched.
func (s *Service) MarkPastDue(ctx context.Context, tx *gorm.DB, src audit.Source, subscriptionRef string) (*Result, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	sub, result, err := s.load(ctx, tx, src, subscriptionRef, TriggerPaymentFailed, "subscription.past_due")
	if err != nil || result != nil {
		return result, err
	}
	to, _ := Transition(sub.Status, TriggerPaymentFailed)
	written, err := s.repo.WithTx(tx).UpdateStatus(ctx, StatusUpdate{
		ID:      sub.ID,
		From:    AllowedFrom(TriggerPaymentFailed),
		To:      to,
		EventID: src.EventID,
	})
	if err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	if !written {
		return s.rejectConcurrent(ctx, tx, src, sub.TenantID, TriggerPaymentFailed)
	}
	result, err = s.reloaded(ctx, tx, sub, to)
	if err != nil {
		return nil, err
	}
	if err := s.applied(ctx, tx, src, TriggerPaymentFailed, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel ends the subscription and deactivates every subscription-sourced
// license of the tenant.
func (s *Service) Cancel(ctx context.Context, tx *gorm.DB, src audit.Source, subscriptionRef string) (*Result, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	sub, result, err := s.load(ctx, tx, src, subscriptionRef, TriggerCanceled, "subscription.cancel")
	if err != nil || result != nil {
		return result, err
	}
	to, _ := Transition(sub.Status, TriggerCanceled)
	canceledAt := s.now().UTC()
	written, err := s.repo.WithTx(tx).UpdateStatus(ctx, StatusUpdate{
		ID:         sub.ID,
		From:       AllowedFrom(TriggerCanceled),
		To:         to,
		CanceledAt: &canceledAt,
		EventID:    src.EventID,
	})
	if err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	if !written {
		return s.rejectConcurrent(ctx, tx, src, sub.TenantID, TriggerCanceled)
	}
	result, err = s.reloaded(ctx, tx, sub, to)
	if err != nil {
		return nil, err
	}
	deactivated, err := s.licenses.WithTx(tx).DeactivateSubscription(ctx, sub.TenantID)
	if err != nil {
		return nil, fmt.Errorf("deactivate licenses: %w", err)
	}
	result.Licenses = &licenses.ResyncResult{Deactivated: deactivated}
	if err := s.applied(ctx, tx, src, TriggerCanceled, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListPeriodLapsed returns active or past_due subscriptions whose period
// needs to be read back from the gateway.
func (s *Service) ListPeriodLapsed(ctx context.Context, limit int) ([]models.Subscription, error) {
	return s.repo.ListPeriodLapsed(ctx, s.now(), limit)
}

// RefreshPeriod stores the gateway's current period for sub. Only the period
// moves; a subscription that left active or past_due meanwhile is skipped.
func (s *Service) RefreshPeriod(ctx context.Context, tx *gorm.DB, src audit.Source, sub *models.Subscription, start, end time.Time) (*Result, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if sub == nil {
		return nil, errors.New("subscription required")
	}
	if !end.After(start) {
		return s.skip(ctx, tx, src, sub.ID.String(), "subscription.refresh_period", map[string]any{
			"reason": "gateway period empty",
		})
	}
	billable := []enums.SubscriptionStatus{enums.SubscriptionStatusActive, enums.SubscriptionStatusPastDue}
	written, err := s.repo.WithTx(tx).UpdatePeriod(ctx, sub.ID, billable, start, end)
	if err != nil {
		return nil, fmt.Errorf("update subscription period: %w", err)
	}
	if !written {
		return s.skip(ctx, tx, src, sub.ID.String(), "subscription.refresh_period", map[string]any{
			"reason": "subscription no longer billable",
		})
	}
	stored, err := s.repo.WithTx(tx).FindByTenant(ctx, sub.TenantID)
	if err != nil {
		return nil, fmt.Errorf("reload subscription: %w", err)
	}
	err = s.audit.Record(ctx, tx, audit.Entry{
		Source:     src,
		EntityType: enums.SyncEntitySubscription,
		EntityID:   sub.ID.String(),
		Action:     "subscription.refresh_period",
		Outcome:    enums.EventOutcomeApplied,
		Details: map[string]any{
			"period_start": start.UTC(),
			"period_end":   end.UTC(),
		},
	})
	if err != nil {
		return nil, err
	}
	return &Result{Subscription: stored, From: sub.Status, To: sub.Status, Outcome: enums.EventOutcomeApplied}, nil
}

// load resolves the subscription for ref and checks the transition. A non-nil
// Result means the call ends there (skipped or rejected).
func (s *Service) load(ctx context.Context, tx *gorm.DB, src audit.Source, ref string, trigger Trigger, action string) (*models.Subscription, *Result, error) {
	sub, err := s.repo.WithTx(tx).FindByExternalRef(ctx, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		res, err := s.skip(ctx, tx, src, ref, action, map[string]any{
			"reason":           "subscription not found",
			"subscription_ref": ref,
		})
		return nil, res, err
	}
	if _, ok := Transition(sub.Status, trigger); !ok {
		res, err := s.reject(ctx, tx, src, sub, trigger, sub.Status)
		return nil, res, err
	}
	return sub, nil, nil
}

func (s *Service) reloaded(ctx context.Context, tx *gorm.DB, sub *models.Subscription, to enums.SubscriptionStatus) (*Result, error) {
	stored, err := s.repo.WithTx(tx).FindByTenant(ctx, sub.TenantID)
	if err != nil {
		return nil, fmt.Errorf("reload subscription: %w", err)
	}
	if stored == nil {
		return nil, errors.New("subscription missing after update")
	}
	return &Result{Subscription: stored, From: sub.Status, To: to, Outcome: enums.EventOutcomeApplied}, nil
}

func (s *Service) skip(ctx context.Context, tx *gorm.DB, src audit.Source, entityID, action string, details map[string]any) (*Result, error) {
	err := s.audit.Record(ctx, tx, audit.Entry{
		Source:     src,
		EntityType: enums.SyncEntitySubscription,
		EntityID:   entityID,
		Action:     action,
		Outcome:    enums.EventOutcomeSkipped,
		Details:    details,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Outcome: enums.EventOutcomeSkipped}, nil
}

func (s *Service) reject(ctx context.Context, tx *gorm.DB, src audit.Source, sub *models.Subscription, trigger Trigger, from enums.SubscriptionStatus) (*Result, error) {
	entityID := ""
	if sub != nil {
		entityID = sub.ID.String()
	}
	err := s.audit.Record(ctx, tx, audit.Entry{
		Source:     src,
		EntityType: enums.SyncEntitySubscription,
		EntityID:   entityID,
		Action:     "subscription.transition",
		Outcome:    enums.EventOutcomeRejected,
		Details: map[string]any{
			"from":    from,
			"trigger": trigger,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Result{Subscription: sub, From: from, To: from, Outcome: enums.EventOutcomeRejected}, nil
}

// rejectConcurrent handles a compare-and-set that matched no row because
// another delivery changed the status after it was read.
func (s *Service) rejectConcurrent(ctx context.Context, tx *gorm.DB, src audit.Source, tenantID uuid.UUID, trigger Trigger) (*Result, error) {
	current, err := s.repo.WithTx(tx).FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("reload subscription: %w", err)
	}
	from := enums.SubscriptionStatusNone
	if current != nil {
		from = current.Status
	}
	return s.reject(ctx, tx, src, current, trigger, from)
}

func (s *Service) applied(ctx context.Context, tx *gorm.DB, src audit.Source, trigger Trigger, result *Result) error {
	sub := result.Subscription
	details := map[string]any{
		"from":    result.From,
		"to":      result.To,
		"trigger": trigger,
		"plan_id": sub.PlanID,
	}
	if result.Licenses != nil {
		details["licenses_activated"] = result.Licenses.Activated
		details["licenses_deactivated"] = result.Licenses.Deactivated
	}
	err := s.audit.Record(ctx, tx, audit.Entry{
		Source:     src,
		EntityType: enums.SyncEntitySubscription,
		EntityID:   sub.ID.String(),
		Action:     "subscription." + trigger.String(),
		Outcome:    enums.EventOutcomeApplied,
		Details:    details,
	})
	if err != nil {
		return err
	}
	if result.From == result.To {
		return nil
	}
	return s.audit.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSubscriptionStatusChanged,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Source:        src.Ref(),
		OccurredAt:    s.now().UTC(),
		Data: payloads.SubscriptionStatusChangedEvent{
			SubscriptionID: sub.ID,
			TenantID:       sub.TenantID,
			PlanID:         sub.PlanID,
			From:           result.From,
			To:             result.To,
			Trigger:        trigger.String(),
			PeriodEnd:      sub.PeriodEnd,
		},
	})
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
