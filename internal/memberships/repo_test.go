package memberships

import (
	"context"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/billing-engine/pkg/db/dbtest"
	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
)

func TestListActiveUserIDsFiltersAndOrders(t *testing.T) {
	conn := dbtest.Open(t)
	tenantID := uuid.New()
	otherTenant := uuid.New()

	active := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range active {
		require.NoError(t, conn.Create(&models.TenantMember{TenantID: tenantID, UserID: id, Status: enums.MembershipStatusActive}).Error)
	}
	require.NoError(t, conn.Create(&models.TenantMember{TenantID: tenantID, UserID: uuid.New(), Status: enums.MembershipStatusInvited}).Error)
	require.NoError(t, conn.Create(&models.TenantMember{TenantID: tenantID, UserID: uuid.New(), Status: enums.MembershipStatusRemoved}).Error)
	require.NoError(t, conn.Create(&models.TenantMember{TenantID: otherTenant, UserID: uuid.New(), Status: enums.MembershipStatusActive}).Error)

	repo := NewRepository(conn)
	got, err := repo.ListActiveUserIDs(context.Background(), tenantID)
	require.NoError(t, err)

	want := append([]uuid.UUID(nil), active...)
	sort.Slice(want, func(i, j int) bool { return want[i].String() < want[j].String() })
	assert.Equal(t, want, got)

	ok, err := repo.WithTx(conn).IsActiveMember(context.Background(), tenantID, active[0])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsActiveMember(context.Background(), otherTenant, active[0])
	require.NoError(t, err)
	assert.False(t, ok)
}
