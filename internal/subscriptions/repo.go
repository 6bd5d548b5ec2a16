package subscriptions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
)

const upsertActivationSQL = `
INSERT INTO subscriptions (
  id, tenant_id, plan_id, status, billing_cycle,
  external_subscription_ref, external_customer_ref,
  period_start, period_end, canceled_at, last_event_id,
  created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)
ON CONFLICT (tenant_id) DO UPDATE SET
  plan_id = excluded.plan_id,
  status = excluded.status,
  billing_cycle = excluded.billing_cycle,
  external_subscription_ref = excluded.external_subscription_ref,
  external_customer_ref = excluded.external_customer_ref,
  period_start = excluded.period_start,
  period_end = excluded.period_end,
  canceled_at = NULL,
  last_event_id = excluded.last_event_id,
  updated_at = excluded.updated_at
WHERE subscriptions.status IN ?`

// StatusUpdate is a compare-and-set status change on one subscription.
type StatusUpdate struct {
	ID          uuid.UUID
	From        []enums.SubscriptionStatus
	To          enums.SubscriptionStatus
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	CanceledAt  *time.Time
	EventID     string
}

type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx, now: r.now}
}

func (r *Repository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error) {
	return r.first(ctx, "tenant_id = ?", tenantID)
}

func (r *Repository) FindByExternalRef(ctx context.Context, ref string) (*models.Subscription, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	return r.first(ctx, "external_subscription_ref = ?", ref)
}

// UpsertActivation inserts the tenant's subscription or overwrites it when
// its current status is one of from. It reports whether a row was written.
func (r *Repository) UpsertActivation(ctx context.Context, sub *models.Subscription, from []enums.SubscriptionStatus) (bool, error) {
	if sub == nil {
		return false, errors.New("subscription required")
	}
	if len(from) == 0 {
		return false, errors.New("allowed statuses required")
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := r.now().UTC()
	res := r.db.WithContext(ctx).Exec(upsertActivationSQL,
		sub.ID,
		sub.TenantID,
		sub.PlanID,
		string(sub.Status),
		string(sub.BillingCycle),
		sub.ExternalSubscriptionRef,
		sub.ExternalCustomerRef,
		sub.PeriodStart,
		sub.PeriodEnd,
		sub.LastEventID,
		now,
		now,
		statusStrings(from),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateStatus applies update only while the row is still in one of
// update.From. Zero rows means a concurrent writer moved the subscription.
func (r *Repository) UpdateStatus(ctx context.Context, update StatusUpdate) (bool, error) {
	if len(update.From) == 0 {
		return false, errors.New("allowed statuses required")
	}
	values := map[string]any{
		"status":     string(update.To),
		"updated_at": r.now().UTC(),
	}
	if update.PeriodStart != nil {
		values["period_start"] = *update.PeriodStart
	}
	if update.PeriodEnd != nil {
		values["period_end"] = *update.PeriodEnd
	}
	if update.CanceledAt != nil {
		values["canceled_at"] = *update.CanceledAt
	}
	if update.EventID != "" {
		values["last_event_id"] = update.EventID
	}
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status IN ?", update.ID, statusStrings(update.From)).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) first(ctx context.Context, query string, args ...any) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where(query, args...).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func statusStrings(statuses []enums.SubscriptionStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

// ListPeriodLapsed returns billable subscriptions whose stored period ended
// before now or was never recorded, oldest first.
func (r *Repository) ListPeriodLapsed(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	billable := statusStrings([]enums.SubscriptionStatus{enums.SubscriptionStatusActive, enums.SubscriptionStatusPastDue})
	var rows []models.Subscription
	err := r.db.WithContext(ctx).
		Where("status IN ?", billable).
		Where("external_subscription_ref IS NOT NULL").
		Where("(period_end IS NULL OR period_end < ?)", now.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// UpdatePeriod overwrites the period columns while the subscription is still
// in one of from. Status is never touched here.
func (r *Repository) UpdatePeriod(ctx context.Context, id uuid.UUID, from []enums.SubscriptionStatus, start, end time.Time) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("allowed statuses required")
	}
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Updates(map[string]any{
			"period_start": start.UTC(),
			"period_end":   end.UTC(),
			"updated_at":   r.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
