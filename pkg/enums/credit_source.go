package enums

// CreditSourceType identifies what produced a credit ledger entry.
type CreditSourceType string

const (
	CreditSourceSubscriptionActivation CreditSourceType = "subscription_activation"
	CreditSourceSubscriptionRenewal    CreditSourceType = "subscription_renewal"
	CreditSourceCreditPack             CreditSourceType = "credit_pack"
	CreditSourceAdjustment             CreditSourceType = "adjustment"
)

var creditSourceTypes = set[CreditSourceType]{
	CreditSourceSubscriptionActivation,
	CreditSourceSubscriptionRenewal,
	CreditSourceCreditPack,
	CreditSourceAdjustment,
}

func (c CreditSourceType) String() string { return string(c) }

func (c CreditSourceType) IsValid() bool { return creditSourceTypes.has(c) }
