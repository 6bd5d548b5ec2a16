package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/internal/audit"
	"github.com/angelmondragon/billing-engine/internal/subscriptions"
	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
	"github.com/angelmondragon/billing-engine/pkg/stripe"
)

type nilTxRunner struct{}

func (nilTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type refreshCall struct {
	src        audit.Source
	subID      uuid.UUID
	start, end time.Time
}

type fakeRefresher struct {
	lapsed  []models.Subscription
	listErr error
	calls   []refreshCall
}

func (f *fakeRefresher) ListPeriodLapsed(context.Context, int) ([]models.Subscription, error) {
	return f.lapsed, f.listErr
}

func (f *fakeRefresher) RefreshPeriod(_ context.Context, _ *gorm.DB, src audit.Source, sub *models.Subscription, start, end time.Time) (*subscriptions.Result, error) {
	f.calls = append(f.calls, refreshCall{src: src, subID: sub.ID, start: start, end: end})
	return &subscriptions.Result{Outcome: enums.EventOutcomeApplied}, nil
}

type fakeGateway struct {
	snapshots map[string]*stripe.SubscriptionSnapshot
	errs      map[string]error
}

func (f *fakeGateway) FetchSubscription(_ context.Context, ref string) (*stripe.SubscriptionSnapshot, error) {
	if err := f.errs[ref]; err != nil {
		return nil, err
	}
	return f.snapshots[ref], nil
}

func lapsedSub(ref string, periodEnd *time.Time) models.Subscription {
	return models.Subscription{
		ID:                      uuid.New(),
		TenantID:                uuid.New(),
		PlanID:                  "pro",
		Status:                  enums.SubscriptionStatusActive,
		ExternalSubscriptionRef: &ref,
		PeriodEnd:               periodEnd,
	}
}

func TestSubscriptionReconcileJobRefreshesNewerPeriods(t *testing.T) {
	stale := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	next := stale.AddDate(0, 1, 0)
	refresher := &fakeRefresher{lapsed: []models.Subscription{
		lapsedSub("sub_new", &stale),
		lapsedSub("sub_same", &stale),
		lapsedSub("sub_none", nil),
		lapsedSub("sub_down", nil),
	}}
	gateway := &fakeGateway{
		snapshots: map[string]*stripe.SubscriptionSnapshot{
			"sub_new":  {Ref: "sub_new", PeriodStart: &stale, PeriodEnd: &next},
			"sub_same": {Ref: "sub_same", PeriodStart: &stale, PeriodEnd: &stale},
			"sub_none": {Ref: "sub_none"},
		},
		errs: map[string]error{"sub_down": errors.New("gateway timeout")},
	}
	job, err := NewSubscriptionReconcileJob(SubscriptionReconcileJobParams{
		Logger:        testLogger(),
		DB:            nilTxRunner{},
		Subscriptions: refresher,
		Gateway:       gateway,
	})
	require.NoError(t, err)
	assert.Equal(t, "subscription-period-reconcile", job.Name())

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sub_down")

	require.Len(t, refresher.calls, 1)
	call := refresher.calls[0]
	assert.Equal(t, refresher.lapsed[0].ID, call.subID)
	assert.True(t, next.Equal(call.end))
	assert.Equal(t, reconcileEventType, call.src.EventType)
	assert.Contains(t, call.src.EventID, refresher.lapsed[0].ID.String())
}

func TestSubscriptionReconcileJobPropagatesListError(t *testing.T) {
	job, err := NewSubscriptionReconcileJob(SubscriptionReconcileJobParams{
		Logger:        testLogger(),
		DB:            nilTxRunner{},
		Subscriptions: &fakeRefresher{listErr: errors.New("db down")},
		Gateway:       &fakeGateway{},
	})
	require.NoError(t, err)
	assert.Error(t, job.Run(context.Background()))
}

func TestNewSubscriptionReconcileJobValidates(t *testing.T) {
	_, err := NewSubscriptionReconcileJob(SubscriptionReconcileJobParams{
		Logger:        testLogger(),
		DB:            nilTxRunner{},
		Subscriptions: &fakeRefresher{},
	})
	assert.Error(t, err)
}
