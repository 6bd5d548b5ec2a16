package enums

// SyncEntityType names the entity a billing sync log row is about.
type SyncEntityType string

const (
	SyncEntitySubscription SyncEntityType = "subscription"
	SyncEntityLicense      SyncEntityType = "license"
	SyncEntityCredits      SyncEntityType = "credits"
	SyncEntityInvoice      SyncEntityType = "invoice"
	SyncEntityPurchase     SyncEntityType = "purchase"
	SyncEntityEvent        SyncEntityType = "event"
)
