package licenses

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/billing-engine/pkg/db/dbtest"
	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
)

func activeSlugs(t *testing.T, repo *Repository, tenantID uuid.UUID) []string {
	t.Helper()
	rows, err := repo.ListActive(context.Background(), tenantID)
	require.NoError(t, err)
	slugs := make([]string, 0, len(rows))
	for _, row := range rows {
		slugs = append(slugs, row.AppSlug)
	}
	return slugs
}

func TestResyncIsTotal(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	tenantID := uuid.New()

	_, err := repo.Resync(ctx, tenantID, []string{"b", "c"}, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, activeSlugs(t, repo, tenantID))

	res, err := repo.Resync(ctx, tenantID, []string{"a", "b"}, "evt_2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Deactivated)
	assert.Equal(t, []string{"a", "b"}, res.Activated)
	assert.Equal(t, []string{"a", "b"}, activeSlugs(t, repo, tenantID))

	all, err := repo.List(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[2].AppSlug)
	assert.False(t, all[2].IsActive)
}

func TestResyncKeepsPurchasedLicenses(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	tenantID := uuid.New()

	require.NoError(t, conn.Create(&models.AppLicense{
		TenantID: tenantID,
		AppSlug:  "analytics",
		IsActive: true,
		Source:   enums.LicenseSourcePurchase,
	}).Error)

	res, err := repo.Resync(ctx, tenantID, []string{" CRM ", "analytics", "crm", ""}, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"crm"}, res.Activated)
	assert.Equal(t, []string{"analytics"}, res.Kept)

	rows, err := repo.List(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, enums.LicenseSourcePurchase, rows[0].Source)
	assert.True(t, rows[0].IsActive)

	n, err := repo.DeactivateSubscription(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"analytics"}, activeSlugs(t, repo, tenantID))
}

func TestResyncTakesOverInactiveLicense(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	tenantID := uuid.New()

	require.NoError(t, conn.Create(&models.AppLicense{
		TenantID: tenantID,
		AppSlug:  "finance",
		IsActive: false,
		Source:   enums.LicenseSourceGrant,
	}).Error)

	res, err := repo.WithTx(conn).Resync(context.Background(), tenantID, []string{"finance"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"finance"}, res.Activated)

	rows, err := repo.ListActive(context.Background(), tenantID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.LicenseSourceSubscription, rows[0].Source)
	assert.Nil(t, rows[0].GrantedBy)
}
