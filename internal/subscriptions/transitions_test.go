package subscriptions

import (
	"testing"

	"github.com/angelmondragon/billing-engine/pkg/enums"
)

func TestTransitionMatrixIsClosed(t *testing.T) {
	allowed := map[Trigger]map[enums.SubscriptionStatus]enums.SubscriptionStatus{
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

	triggers := []Trigger{TriggerCheckoutCompleted, TriggerInvoicePaid, TriggerPaymentFailed, TriggerCanceled}
	for _, trigger := range triggers {
		for _, from := range enums.SubscriptionStatuses() {
			to, ok := Transition(from, trigger)
			want, wantOK := allowed[trigger][from]
			if ok != wantOK {
				t.Fatalf("%s from %s: expected ok=%v, got %v", trigger, from, wantOK, ok)
			}
			if ok && to != want {
				t.Fatalf("%s from %s: expected %s, got %s", trigger, from, want, to)
			}
			if !ok && to != "" {
				t.Fatalf("%s from %s: rejected transition returned %q", trigger, from, to)
			}
		}
	}
}

func TestTransitionUnknownTrigger(t *testing.T) {
	if _, ok := Transition(enums.SubscriptionStatusActive, Trigger("refund")); ok {
		t.Fatal("unknown trigger must be rejected")
	}
}

func TestAllowedFrom(t *testing.T) {
	got := AllowedFrom(TriggerCanceled)
	if len(got) != 2 || got[0] != enums.SubscriptionStatusActive || got[1] != enums.SubscriptionStatusPastDue {
		t.Fatalf("unexpected allowed statuses %v", got)
	}
	if len(AllowedFrom(Trigger("unknown"))) != 0 {
		t.Fatal("unknown trigger should allow nothing")
	}
}
