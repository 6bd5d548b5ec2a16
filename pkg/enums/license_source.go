package enums

// LicenseSource records why a tenant holds an app license.
type LicenseSource string

const (
	LicenseSourceSubscription LicenseSource = "subscription"
	LicenseSourcePurchase     LicenseSource = "purchase"
	LicenseSourceGrant        LicenseSource = "grant"
)

var licenseSources = set[LicenseSource]{
	LicenseSourceSubscription,
	LicenseSourcePurchase,
	LicenseSourceGrant,
}

func (s LicenseSource) String() string { return string(s) }

func (s LicenseSource) IsValid() bool { return licenseSources.has(s) }
