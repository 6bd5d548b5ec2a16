package stripewebhook

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/internal/audit"
	"github.com/angelmondragon/billing-engine/internal/credits"
	"github.com/angelmondragon/billing-engine/internal/invoices"
	"github.com/angelmondragon/billing-engine/internal/purchases"
	"github.com/angelmondragon/billing-engine/internal/subscriptions"
	"github.com/angelmondragon/billing-engine/pkg/enums"
)

func (r *Router) checkoutSubscription(ctx context.Context, src audit.Source, ev CheckoutSubscription) (enums.EventOutcome, error) {
	periodStart, periodEnd := r.fetchPeriod(ctx, ev.SubscriptionRef)

	var outcome enums.EventOutcome
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		result, err := r.subs.Activate(ctx, tx, subscriptions.ActivateParams{
			Source:          src,
			TenantID:        ev.TenantID,
			PlanID:          ev.PlanID,
			BillingCycle:    ev.BillingCycle,
			SubscriptionRef: ev.SubscriptionRef,
			CustomerRef:     ev.CustomerRef,
			PeriodStart:     periodStart,
			PeriodEnd:       periodEnd,
		})
		if err != nil {
			return err
		}
		outcome = result.Outcome
		if !result.Applied() || result.Plan == nil {
			return nil
		}
		_, err = r.credits.GrantPool(ctx, tx, credits.GrantPoolParams{
			Source:     src,
			TenantID:   ev.TenantID,
			Pool:       result.Plan.Limits.CreditsMonthly,
			SourceType: enums.CreditSourceSubscriptionActivation,
			Reason:     fmt.Sprintf("%s plan activation", result.Plan.ID),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("activate subscription: %w", err)
	}
	return outcome, nil
}

func (r *Router) creditPack(ctx context.Context, src audit.Source, ev CheckoutCreditPack) (enums.EventOutcome, error) {
	userID := ev.UserID
	result, err := r.purchases.Apply(ctx, purchases.Request{
		Source:      src,
		PurchaseID:  ev.PurchaseID,
		ExternalRef: ev.SessionID,
		TenantID:    ev.TenantID,
		UserID:      &userID,
		Kind:        enums.PurchaseKindCreditPack,
		Credits:     ev.Credits,
	})
	if err != nil {
		return "", err
	}
	return result.Outcome, nil
}

func (r *Router) legacyPurchase(ctx context.Context, src audit.Source, ev CheckoutLegacyPurchase) (enums.EventOutcome, error) {
	result, err := r.purchases.Apply(ctx, purchases.Request{
		Source:      src,
		PurchaseID:  ev.PurchaseID,
		ExternalRef: ev.SessionID,
		TenantID:    ev.TenantID,
		UserID:      ev.UserID,
		Kind:        enums.PurchaseKindMarketplaceItem,
		ItemRefs:    ev.ItemRefs,
	})
	if err != nil {
		return "", err
	}
	return result.Outcome, nil
}

func (r *Router) subscriptionCanceled(ctx context.Context, src audit.Source, ev SubscriptionCanceled) (enums.EventOutcome, error) {
	var outcome enums.EventOutcome
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		result, err := r.subs.Cancel(ctx, tx, src, ev.SubscriptionRef)
		if err != nil {
			return err
		}
		outcome = result.Outcome
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("cancel subscription: %w", err)
	}
	return outcome, nil
}

// pastDue handles both subscription updates and failed invoices.
func (r *Router) pastDue(ctx context.Context, src audit.Source, subscriptionRef string) (enums.EventOutcome, error) {
	var outcome enums.EventOutcome
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		result, err := r.subs.MarkPastDue(ctx, tx, src, subscriptionRef)
		if err != nil {
			return err
		}
		outcome = result.Outcome
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("mark subscription past due: %w", err)
	}
	return outcome, nil
}

// invoicePaid records the invoice against the subscription's tenant, renews
// the subscription and grants the monthly credits of a renewal cycle.
func (r *Router) invoicePaid(ctx context.Context, env *Envelope, src audit.Source, inv Invoice) (enums.EventOutcome, error) {
	periodStart, periodEnd := inv.PeriodStart, inv.PeriodEnd
	if periodEnd == nil {
		periodStart, periodEnd = r.fetchPeriod(ctx, inv.SubscriptionRef)
	}
	paidAt := inv.PaidAt
	if paidAt == nil {
		occurred := env.OccurredAt
		paidAt = &occurred
	}

	var outcome enums.EventOutcome
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		sub, err := r.subs.FindByExternalRef(ctx, tx, inv.SubscriptionRef)
		if err != nil {
			return err
		}
		if sub == nil {
			outcome = enums.EventOutcomeSkipped
			return r.audit.Record(ctx, tx, audit.Entry{
				Source:     src,
				EntityType: enums.SyncEntityInvoice,
				EntityID:   inv.ID,
				Action:     "invoice.record",
				Outcome:    enums.EventOutcomeSkipped,
				Details: map[string]any{
					"reason":           "subscription not found",
					"subscription_ref": inv.SubscriptionRef,
				},
			})
		}

		if _, err := r.invoices.Record(ctx, tx, invoices.RecordParams{
			Source:                  src,
			TenantID:                sub.TenantID,
			ExternalInvoiceRef:      inv.ID,
			ExternalSubscriptionRef: inv.SubscriptionRef,
			Amount:                  inv.Amount,
			Currency:                inv.Currency,
			Status:                  inv.Status,
			IssuedAt:                inv.IssuedAt,
			PaidAt:                  paidAt,
			DocumentURL:             inv.DocumentURL,
			HostedURL:               inv.HostedURL,
		}); err != nil {
			return err
		}

		result, err := r.subs.Renew(ctx, tx, subscriptions.RenewParams{
			Source:          src,
			SubscriptionRef: inv.SubscriptionRef,
			PeriodStart:     periodStart,
			PeriodEnd:       periodEnd,
		})
		if err != nil {
			return err
		}
		outcome = result.Outcome
		if !result.Applied() || result.Plan == nil || inv.BillingReason != BillingReasonSubscriptionCycle {
			return nil
		}
		_, err = r.credits.GrantPool(ctx, tx, credits.GrantPoolParams{
			Source:       src,
			DedupeSource: "invoice:" + inv.ID,
			TenantID:     sub.TenantID,
			Pool:         result.Plan.Limits.CreditsMonthly,
			SourceType:   enums.CreditSourceSubscriptionRenewal,
			Reason:       fmt.Sprintf("%s plan renewal", result.Plan.ID),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("apply paid invoice: %w", err)
	}
	return outcome, nil
}

func (r *Router) purchasePaymentFailed(ctx context.Context, src audit.Source, ev PurchasePaymentFailed) (enums.EventOutcome, error) {
	var outcome enums.EventOutcome
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		result, err := r.purchases.MarkPaymentFailed(ctx, tx, purchases.PaymentFailure{
			Source:      src,
			PurchaseID:  ev.PurchaseID,
			ExternalRef: ev.ExternalRef,
			Reason:      ev.Reason,
		})
		if err != nil {
			return err
		}
		outcome = result.Outcome
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("mark purchase payment failed: %w", err)
	}
	return outcome, nil
}

func (r *Router) ignored(ctx context.Context, src audit.Source, ev Ignored) (enums.EventOutcome, error) {
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		return r.audit.Record(ctx, tx, audit.Entry{
			Source:     src,
			EntityType: enums.SyncEntityEvent,
			EntityID:   src.EventID,
			Action:     "event.ignore",
			Outcome:    enums.EventOutcomeIgnored,
			Details:    map[string]any{"reason": ev.Reason},
		})
	})
	if err != nil {
		return "", fmt.Errorf("record ignored event: %w", err)
	}
	return enums.EventOutcomeIgnored, nil
}

// fetchPeriod reads the current period back from the gateway. Failures only
// cost the period columns, so they are logged and swallowed.
func (r *Router) fetchPeriod(ctx context.Context, subscriptionRef string) (*time.Time, *time.Time) {
	if r.fetcher == nil || subscriptionRef == "" {
		return nil, nil
	}
	snapshot, err := r.fetcher.FetchSubscription(ctx, subscriptionRef)
	if err != nil {
		if r.logg != nil {
			logCtx := r.logg.WithField(ctx, "subscription_ref", subscriptionRef)
			r.logg.Warn(logCtx, fmt.Sprintf("subscription period fetch failed: %v", err))
		}
		return nil, nil
	}
	if snapshot == nil {
		return nil, nil
	}
	return snapshot.PeriodStart, snapshot.PeriodEnd
}
