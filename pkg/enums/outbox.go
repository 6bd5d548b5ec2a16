package enums

// OutboxAggregateType is the aggregate_type column of outbox rows.
type OutboxAggregateType string

const (
	AggregateSubscription OutboxAggregateType = "subscription"
	AggregateInvoice      OutboxAggregateType = "invoice"
	AggregatePurchase     OutboxAggregateType = "purchase"
	AggregateCreditGrant  OutboxAggregateType = "credit_grant"
)

var aggregateTypes = set[OutboxAggregateType]{
	AggregateSubscription,
	AggregateInvoice,
	AggregatePurchase,
	AggregateCreditGrant,
}

func (a OutboxAggregateType) String() string { return string(a) }

func (a OutboxAggregateType) IsValid() bool { return aggregateTypes.has(a) }

// OutboxEventType names a billing domain event published from the outbox.
type OutboxEventType string

const (
	EventSubscriptionStatusChanged OutboxEventType = "subscription_status_changed"
	EventCreditsGranted            OutboxEventType = "credits_granted"
	EventInvoiceRecorded           OutboxEventType = "invoice_recorded"
	EventPurchaseCompleted         OutboxEventType = "purchase_completed"
	EventPurchaseFailed            OutboxEventType = "purchase_failed"
)

var outboxEventTypes = set[OutboxEventType]{
	EventSubscriptionStatusChanged,
	EventCreditsGranted,
	EventInvoiceRecorded,
	EventPurchaseCompleted,
	EventPurchaseFailed,
}

func (e OutboxEventType) String() string { return string(e) }

func (e OutboxEventType) IsValid() bool { return outboxEventTypes.has(e) }
