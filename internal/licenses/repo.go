package licenses

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
)

// upsertSubscriptionLicense activates an app for the tenant. Licenses granted
// by a purchase or by hand keep their source unless they are inactive.
const upsertSubscriptionLicense = `
INSERT INTO app_licenses (tenant_id, app_slug, is_active, source, granted_by, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, app_slug) DO UPDATE
SET is_active = excluded.is_active,
    source = excluded.source,
    granted_by = excluded.granted_by,
    updated_at = excluded.updated_at
WHERE app_licenses.source = ? OR app_licenses.is_active = ?`

// ResyncResult summarizes a license resync.
type ResyncResult struct {
	Deactivated int64
	Activated   []string
	Kept        []string
}

// Repository exposes app license persistence operations.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository constructs a license repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// WithTx returns a copy of the repository that writes through tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx, now: r.now}
}

// Resync makes the tenant's subscription licenses exactly equal to apps:
// every subscription-sourced license is deactivated, then each app is
// activated. Apps held through another active source are reported as kept.
func (r *Repository) Resync(ctx context.Context, tenantID uuid.UUID, apps []string, grantedBy string) (*ResyncResult, error) {
	now := r.now().UTC()
	res := &ResyncResult{}

	deactivated, err := r.deactivate(ctx, tenantID, now)
	if err != nil {
		return nil, err
	}
	res.Deactivated = deactivated

	var granter *string
	if grantedBy != "" {
		granter = &grantedBy
	}
	for _, slug := range normalizeApps(apps) {
		result := r.db.WithContext(ctx).Exec(upsertSubscriptionLicense,
			tenantID, slug, true, enums.LicenseSourceSubscription.String(), granter, now,
			enums.LicenseSourceSubscription.String(), false,
		)
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			res.Kept = append(res.Kept, slug)
			continue
		}
		res.Activated = append(res.Activated, slug)
	}
	return res, nil
}

// DeactivateSubscription turns off every subscription-sourced license of the tenant.
func (r *Repository) DeactivateSubscription(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return r.deactivate(ctx, tenantID, r.now().UTC())
}

// ListActive returns the tenant's active licenses ordered by app slug.
func (r *Repository) ListActive(ctx context.Context, tenantID uuid.UUID) ([]models.AppLicense, error) {
	var rows []models.AppLicense
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Order("app_slug ASC").
		Find(&rows).Error
	return rows, err
}

// List returns every license row of the tenant ordered by app slug.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID) ([]models.AppLicense, error) {
	var rows []models.AppLicense
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("app_slug ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) deactivate(ctx context.Context, tenantID uuid.UUID, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.AppLicense{}).
		Where("tenant_id = ? AND source = ? AND is_active = ?", tenantID, enums.LicenseSourceSubscription, true).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}

func normalizeApps(apps []string) []string {
	seen := make(map[string]struct{}, len(apps))
	out := make([]string, 0, len(apps))
	for _, app := range apps {
		slug := strings.ToLower(strings.TrimSpace(app))
		if slug == "" {
			continue
		}
		if _, ok := seen[slug]; ok {
			continue
		}
		seen[slug] = struct{}{}
		out = append(out, slug)
	}
	return out
}
