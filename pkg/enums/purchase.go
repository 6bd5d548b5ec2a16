package enums

// PurchaseStatus tracks a one-time purchase through payment and provisioning.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

var purchaseStatuses = set[PurchaseStatus]{
	PurchaseStatusPending,
	PurchaseStatusCompleted,
	PurchaseStatusFailed,
}

func (s PurchaseStatus) String() string { return string(s) }

func (s PurchaseStatus) IsValid() bool { return purchaseStatuses.has(s) }

// PurchaseKind distinguishes credit packs from marketplace item purchases.
type PurchaseKind string

const (
	PurchaseKindCreditPack      PurchaseKind = "credit_pack"
	PurchaseKindMarketplaceItem PurchaseKind = "marketplace_item"
)

var purchaseKinds = set[PurchaseKind]{
	PurchaseKindCreditPack,
	PurchaseKindMarketplaceItem,
}

func (k PurchaseKind) String() string { return string(k) }

func (k PurchaseKind) IsValid() bool { return purchaseKinds.has(k) }

// PurchaseFailureReason explains why a purchase ended in failed.
type PurchaseFailureReason string

const (
	PurchaseFailurePayment      PurchaseFailureReason = "payment_failed"
	PurchaseFailureProvisioning PurchaseFailureReason = "provisioning_failed"
)

func (r PurchaseFailureReason) String() string { return string(r) }
