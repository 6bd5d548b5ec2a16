package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidRejectsUnknownLabels(t *testing.T) {
	assert.True(t, MembershipStatusActive.IsValid())
	assert.False(t, MembershipStatus("suspended").IsValid())
	assert.True(t, CreditSourceCreditPack.IsValid())
	assert.False(t, CreditSourceType("").IsValid())
	assert.True(t, LicenseSourceGrant.IsValid())
	assert.True(t, PurchaseKindMarketplaceItem.IsValid())
	assert.False(t, PurchaseStatus("refunded").IsValid())
	assert.True(t, AggregateCreditGrant.IsValid())
	assert.False(t, OutboxEventType("order_created").IsValid())
	assert.True(t, OutboxDLQReasonUnroutable.IsValid())
	assert.False(t, OutboxDLQErrorReason("timeout").IsValid())
}

func TestParseSubscriptionStatus(t *testing.T) {
	status, err := ParseSubscriptionStatus("")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusNone, status)

	status, err = ParseSubscriptionStatus("past_due")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusPastDue, status)

	_, err = ParseSubscriptionStatus("trialing")
	assert.EqualError(t, err, `invalid subscription status "trialing"`)
}

func TestSubscriptionStatusesIsACopy(t *testing.T) {
	all := SubscriptionStatuses()
	require.Len(t, all, 4)
	all[0] = "mutated"
	assert.Equal(t, SubscriptionStatusNone, SubscriptionStatuses()[0])
}

func TestParseBillingCycleAliases(t *testing.T) {
	for in, want := range map[string]BillingCycle{"": BillingCycleMonthly, "Month": BillingCycleMonthly, "annual": BillingCycleYearly, " yearly ": BillingCycleYearly} {
		got, err := ParseBillingCycle(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseBillingCycle("weekly")
	assert.Error(t, err)
}
