package subscriptions

import "github.com/angelmondragon/billing-engine/pkg/enums"

// Trigger is the gateway signal that drives a subscription transition.
type Trigger string

const (
	TriggerCheckoutCompleted Trigger = "checkout_completed"
	TriggerInvoicePaid       Trigger = "invoice_paid"
	TriggerPaymentFailed     Trigger = "payment_failed"
	TriggerCanceled          Trigger = "canceled"
)

func (t Trigger) String() string {
	return string(t)
}

var transitions = map[Trigger]map[enums.SubscriptionStatus]enums.SubscriptionStatus{
	TriggerCheckoutCompleted: {
		enums.SubscriptionStatusNone:     enums.SubscriptionStatusActive,
		enums.SubscriptionStatusCanceled: enums.SubscriptionStatusActive,
	},
	TriggerInvoicePaid: {
		enums.SubscriptionStatusActive:  enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue: enums.SubscriptionStatusActive,
	},
	TriggerPaymentFailed: {
		enums.SubscriptionStatusActive: enums.SubscriptionStatusPastDue,
	},
	TriggerCanceled: {
		enums.SubscriptionStatusActive:  enums.SubscriptionStatusCanceled,
		enums.SubscriptionStatusPastDue: enums.SubscriptionStatusCanceled,
	},
}

// Transition returns the status reached from `from` on trigger. ok is false
// when the pair is not in the matrix; callers must then leave state untouched.
func Transition(from enums.SubscriptionStatus, trigger Trigger) (enums.SubscriptionStatus, bool) {
	to, ok := transitions[trigger][from]
	return to, ok
}

// AllowedFrom lists the statuses trigger may leave, in declaration order. It
// feeds the compare-and-set guards of the repository.
func AllowedFrom(trigger Trigger) []enums.SubscriptionStatus {
	edges := transitions[trigger]
	out := make([]enums.SubscriptionStatus, 0, len(edges))
	for _, status := range enums.SubscriptionStatuses() {
		if _, ok := edges[status]; ok {
			out = append(out, status)
		}
	}
	return out
}
