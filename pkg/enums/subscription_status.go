package enums

// SubscriptionStatus is the tenant subscription state driven by gateway events.
type SubscriptionStatus string

const (
	SubscriptionStatusNone     SubscriptionStatus = "none"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

var subscriptionStatuses = set[SubscriptionStatus]{
	SubscriptionStatusNone,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusCanceled,
}

func (s SubscriptionStatus) String() string { return string(s) }

func (s SubscriptionStatus) IsValid() bool { return subscriptionStatuses.has(s) }

// SubscriptionStatuses returns every known status in declaration order.
func SubscriptionStatuses() []SubscriptionStatus {
	return append([]SubscriptionStatus(nil), subscriptionStatuses...)
}

// ParseSubscriptionStatus maps an empty value to none, the state of a tenant
// without a subscription row.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	if value == "" {
		return SubscriptionStatusNone, nil
	}
	return subscriptionStatuses.parse("subscription status", value)
}
