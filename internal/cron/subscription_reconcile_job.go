package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/internal/audit"
	"github.com/angelmondragon/billing-engine/internal/subscriptions"
	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/logger"
	"github.com/angelmondragon/billing-engine/pkg/stripe"
)

const (
	defaultReconcileLimit = 100
	reconcileEventType    = "cron.subscription_period_reconcile"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type periodRefresher interface {
	ListPeriodLapsed(ctx context.Context, limit int) ([]models.Subscription, error)
	RefreshPeriod(ctx context.Context, tx *gorm.DB, src audit.Source, sub *models.Subscription, start, end time.Time) (*subscriptions.Result, error)
}

// SubscriptionReconcileJobParams configures the period reconciliation job.
type SubscriptionReconcileJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Subscriptions periodRefresher
	Gateway       stripe.SubscriptionFetcher
	Limit         int
}

// NewSubscriptionReconcileJob reads lapsed billing periods back from the
// gateway. It never changes a subscription's status; only webhooks do.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &subscriptionReconcileJob{
		logg:    params.Logger,
		db:      params.DB,
		subs:    params.Subscriptions,
		gateway: params.Gateway,
		limit:   limit,
	}, nil
}

type subscriptionReconcileJob struct {
	logg    *logger.Logger
	db      txRunner
	subs    periodRefresher
	gateway stripe.SubscriptionFetcher
	limit   int
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-period-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	lapsed, err := j.subs.ListPeriodLapsed(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("list lapsed subscriptions: %w", err)
	}
	var errs error
	refreshed := 0
	for i := range lapsed {
		ok, err := j.reconcile(ctx, &lapsed[i])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			refreshed++
		}
	}
	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(lapsed),
		"refreshed":  refreshed,
	})
	j.logg.Info(reportCtx, "subscription period reconcile complete")
	return errs
}

func (j *subscriptionReconcileJob) reconcile(ctx context.Context, sub *models.Subscription) (bool, error) {
	if sub.ExternalSubscriptionRef == nil {
		return false, nil
	}
	ref := *sub.ExternalSubscriptionRef
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"subscription_id":  sub.ID.String(),
		"subscription_ref": ref,
	})
	snapshot, err := j.gateway.FetchSubscription(logCtx, ref)
	if err != nil {
		return false, fmt.Errorf("fetch subscription %s: %w", ref, err)
	}
	if snapshot == nil || snapshot.PeriodStart == nil || snapshot.PeriodEnd == nil {
		j.logg.Info(logCtx, "gateway returned no period; skipping")
		return false, nil
	}
	if sub.PeriodEnd != nil && !snapshot.PeriodEnd.After(*sub.PeriodEnd) {
		return false, nil
	}

	src := audit.Source{
		EventID:   fmt.Sprintf("reconcile:%s:%d", sub.ID, snapshot.PeriodEnd.Unix()),
		EventType: reconcileEventType,
	}
	var applied bool
	err = j.db.WithTx(logCtx, func(tx *gorm.DB) error {
		result, err := j.subs.RefreshPeriod(logCtx, tx, src, sub, *snapshot.PeriodStart, *snapshot.PeriodEnd)
		if err != nil {
			return err
		}
		applied = result.Applied()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("refresh subscription %s: %w", sub.ID, err)
	}
	return applied, nil
}
