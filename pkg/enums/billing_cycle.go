package enums

import (
	"fmt"
	"strings"
)

// BillingCycle defines the cadence a tenant pays on.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

var billingCycles = set[BillingCycle]{
	BillingCycleMonthly,
	BillingCycleYearly,
}

func (b BillingCycle) String() string { return string(b) }

func (b BillingCycle) IsValid() bool { return billingCycles.has(b) }

// ParseBillingCycle converts raw input into a BillingCycle. Gateway interval
// names (month, year, annual) are accepted as aliases.
func ParseBillingCycle(value string) (BillingCycle, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "month", "monthly":
		return BillingCycleMonthly, nil
	case "year", "yearly", "annual":
		return BillingCycleYearly, nil
	}
	return "", fmt.Errorf("invalid billing cycle %q", value)
}
