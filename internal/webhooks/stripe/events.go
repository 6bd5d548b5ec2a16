package stripewebhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/billing-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/billing-engine/pkg/errors"
)

// Event is the closed set of gateway events the engine understands. Only
// types in this file implement it.
type Event interface {
	isEvent()
}

// CheckoutSubscription is a completed checkout tagged type=subscription.
type CheckoutSubscription struct {
	SessionID       string
	TenantID        uuid.UUID
	UserID          *uuid.UUID
	PlanID          string
	BillingCycle    enums.BillingCycle
	SubscriptionRef string
	CustomerRef     string
}

// CheckoutCreditPack is a completed checkout tagged type=credit_pack.
type CheckoutCreditPack struct {
	SessionID  string
	TenantID   uuid.UUID
	UserID     uuid.UUID
	PackID     string
	Credits    int64
	PurchaseID uuid.UUID
}

// CheckoutLegacyPurchase is an untagged checkout identified by its item ids.
type CheckoutLegacyPurchase struct {
	SessionID  string
	TenantID   uuid.UUID
	UserID     *uuid.UUID
	ItemRefs   []string
	PurchaseID uuid.UUID
}

type SubscriptionCanceled struct {
	SubscriptionRef string
	CustomerRef     string
}

type SubscriptionPastDue struct {
	SubscriptionRef string
}

type InvoicePaid struct {
	Invoice Invoice
}

type InvoicePaymentFailed struct {
	Invoice Invoice
}

// PurchasePaymentFailed reports a one-time purchase whose payment failed or
// whose checkout expired.
type PurchasePaymentFailed struct {
	PurchaseID  uuid.UUID
	ExternalRef string
	Reason      string
}

// Ignored is acknowledged and recorded without side effects.
type Ignored struct {
	Reason string
}

func (CheckoutSubscription) isEvent()   {}
func (CheckoutCreditPack) isEvent()     {}
func (CheckoutLegacyPurchase) isEvent() {}
func (SubscriptionCanceled) isEvent()   {}
func (SubscriptionPastDue) isEvent()    {}
func (InvoicePaid) isEvent()            {}
func (InvoicePaymentFailed) isEvent()   {}
func (PurchasePaymentFailed) isEvent()  {}
func (Ignored) isEvent()                {}

// Invoice is the subset of a gateway invoice the engine stores.
type Invoice struct {
	ID              string
	SubscriptionRef string
	CustomerRef     string
	Amount          decimal.Decimal
	Currency        string
	Status          string
	BillingReason   string
	IssuedAt        time.Time
	PaidAt          *time.Time
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
	DocumentURL     string
	HostedURL       string
}

// BillingReasonSubscriptionCycle marks invoices of a renewal period.
const BillingReasonSubscriptionCycle = "subscription_cycle"

// Decode turns a verified envelope into exactly one Event variant.
func Decode(env *Envelope) (Event, error) {
	if env == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event envelope required")
	}
	switch env.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return decodeCheckoutCompleted(env)
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed, stripe.EventTypeCheckoutSessionExpired:
		return decodeCheckoutFailed(env)
	case stripe.EventTypePaymentIntentPaymentFailed:
		return decodePaymentIntentFailed(env)
	case stripe.EventTypeCustomerSubscriptionDeleted, stripe.EventTypeCustomerSubscriptionUpdated:
		return decodeSubscription(env)
	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentSucceeded:
		inv, err := decodeInvoice(env)
		if err != nil {
			return nil, err
		}
		if inv.SubscriptionRef == "" {
			return Ignored{Reason: "invoice has no subscription"}, nil
		}
		return InvoicePaid{Invoice: *inv}, nil
	case stripe.EventTypeInvoicePaymentFailed:
		inv, err := decodeInvoice(env)
		if err != nil {
			return nil, err
		}
		if inv.SubscriptionRef == "" {
			return Ignored{Reason: "invoice has no subscription"}, nil
		}
		return InvoicePaymentFailed{Invoice: *inv}, nil
	}
	return Ignored{Reason: "unhandled event type"}, nil
}

func decodeCheckoutCompleted(env *Envelope) (Event, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(env.Object, &session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed checkout session")
	}
	md := env.Metadata

	switch strings.TrimSpace(md["type"]) {
	case metadataTypeSubscription:
		var meta subscriptionMetadata
		if err := decodeMetadata(md, &meta); err != nil {
			return nil, err
		}
		cycle, err := enums.ParseBillingCycle(meta.BillingCycle)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid checkout metadata")
		}
		event := CheckoutSubscription{
			SessionID:    session.ID,
			TenantID:     uuid.MustParse(meta.TenantID),
			UserID:       optionalUUID(meta.UserID),
			PlanID:       strings.TrimSpace(meta.PlanID),
			BillingCycle: cycle,
		}
		if session.Subscription != nil {
			event.SubscriptionRef = session.Subscription.ID
		}
		if session.Customer != nil {
			event.CustomerRef = session.Customer.ID
		}
		return event, nil
	case metadataTypeCreditPack:
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			return Ignored{Reason: "checkout payment pending"}, nil
		}
		var meta creditPackMetadata
		if err := decodeMetadata(md, &meta); err != nil {
			return nil, err
		}
		event := CheckoutCreditPack{
			SessionID: session.ID,
			TenantID:  uuid.MustParse(meta.TenantID),
			UserID:    uuid.MustParse(meta.UserID),
			PackID:    strings.TrimSpace(meta.PackID),
			Credits:   meta.Credits,
		}
		if id := optionalUUID(meta.PurchaseID); id != nil {
			event.PurchaseID = *id
		}
		return event, nil
	case "":
		if !hasLegacyItem(md) {
			return Ignored{Reason: "checkout without billing metadata"}, nil
		}
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			return Ignored{Reason: "checkout payment pending"}, nil
		}
		var meta legacyPurchaseMetadata
		if err := decodeMetadata(md, &meta); err != nil {
			return nil, err
		}
		refs := meta.itemRefs()
		if len(refs) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout metadata lists no items")
		}
		event := CheckoutLegacyPurchase{
			SessionID: session.ID,
			TenantID:  uuid.MustParse(meta.TenantID),
			UserID:    optionalUUID(meta.UserID),
			ItemRefs:  refs,
		}
		if id := optionalUUID(meta.PurchaseID); id != nil {
			event.PurchaseID = *id
		}
		return event, nil
	}
	return Ignored{Reason: "unknown checkout type"}, nil
}

func decodeCheckoutFailed(env *Envelope) (Event, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(env.Object, &session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed checkout session")
	}
	md := env.Metadata
	tag := strings.TrimSpace(md["type"])
	purchaseID := optionalUUID(md["purchase_id"])
	if tag != metadataTypeCreditPack && !hasLegacyItem(md) && purchaseID == nil {
		return Ignored{Reason: "checkout without purchase metadata"}, nil
	}
	event := PurchasePaymentFailed{
		ExternalRef: session.ID,
		Reason:      string(env.Type),
	}
	if purchaseID != nil {
		event.PurchaseID = *purchaseID
	}
	return event, nil
}

func decodePaymentIntentFailed(env *Envelope) (Event, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(env.Object, &intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed payment intent")
	}
	purchaseID := optionalUUID(env.Metadata["purchase_id"])
	if purchaseID == nil {
		return Ignored{Reason: "payment intent without purchase"}, nil
	}
	reason := string(env.Type)
	if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
		reason = intent.LastPaymentError.Msg
	}
	return PurchasePaymentFailed{PurchaseID: *purchaseID, Reason: reason}, nil
}

func decodeSubscription(env *Envelope) (Event, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(env.Object, &sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed subscription")
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}
	customer := ""
	if sub.Customer != nil {
		customer = sub.Customer.ID
	}
	if env.Type == stripe.EventTypeCustomerSubscriptionDeleted {
		return SubscriptionCanceled{SubscriptionRef: sub.ID, CustomerRef: customer}, nil
	}
	switch sub.Status {
	case stripe.SubscriptionStatusCanceled,
		stripe.SubscriptionStatusIncompleteExpired:
		return SubscriptionCanceled{SubscriptionRef: sub.ID, CustomerRef: customer}, nil
	// unpaid is still dunning: paying the open invoice reactivates it.
	case stripe.SubscriptionStatusPastDue,
		stripe.SubscriptionStatusUnpaid:
		return SubscriptionPastDue{SubscriptionRef: sub.ID}, nil
	}
	return Ignored{Reason: "subscription status " + string(sub.Status)}, nil
}

// invoiceObject reads both the legacy top-level subscription field and the
// parent.subscription_details shape of newer API versions.
type invoiceObject struct {
	ID               string          `json:"id"`
	Customer         json.RawMessage `json:"customer"`
	Subscription     json.RawMessage `json:"subscription"`
	AmountPaid       int64           `json:"amount_paid"`
	AmountDue        int64           `json:"amount_due"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	BillingReason    string          `json:"billing_reason"`
	Created          int64           `json:"created"`
	InvoicePDF       string          `json:"invoice_pdf"`
	HostedInvoiceURL string          `json:"hosted_invoice_url"`
	Parent           *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func decodeInvoice(env *Envelope) (*Invoice, error) {
	var obj invoiceObject
	if err := json.Unmarshal(env.Object, &obj); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed invoice")
	}
	if strings.TrimSpace(obj.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id missing")
	}

	subRef := expandableID(obj.Subscription)
	if subRef == "" && obj.Parent != nil && obj.Parent.SubscriptionDetails != nil {
		subRef = expandableID(obj.Parent.SubscriptionDetails.Subscription)
	}
	amount := obj.AmountPaid
	if amount == 0 && env.Type == stripe.EventTypeInvoicePaymentFailed {
		amount = obj.AmountDue
	}
	inv := &Invoice{
		ID:              obj.ID,
		SubscriptionRef: subRef,
		CustomerRef:     expandableID(obj.Customer),
		Amount:          minorToDecimal(amount, obj.Currency),
		Currency:        strings.ToUpper(obj.Currency),
		Status:          obj.Status,
		BillingReason:   obj.BillingReason,
		IssuedAt:        unixOrZero(obj.Created),
		DocumentURL:     obj.InvoicePDF,
		HostedURL:       obj.HostedInvoiceURL,
	}
	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = env.OccurredAt
	}
	if obj.StatusTransitions.PaidAt > 0 {
		paidAt := time.Unix(obj.StatusTransitions.PaidAt, 0).UTC()
		inv.PaidAt = &paidAt
	} else if env.Type != stripe.EventTypeInvoicePaymentFailed {
		paidAt := env.OccurredAt
		inv.PaidAt = &paidAt
	}

	var start, end int64
	for _, line := range obj.Lines.Data {
		if line.Period.End > end {
			start, end = line.Period.Start, line.Period.End
		}
	}
	if end > 0 {
		s, e := time.Unix(start, 0).UTC(), time.Unix(end, 0).UTC()
		inv.PeriodStart, inv.PeriodEnd = &s, &e
	}
	return inv, nil
}

// expandableID returns the id of a field that is either a bare id string or
// an expanded object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}

var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

// minorToDecimal converts an amount in the currency's smallest unit.
func minorToDecimal(amount int64, currency string) decimal.Decimal {
	if _, ok := zeroDecimalCurrencies[strings.ToLower(currency)]; ok {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

func unixOrZero(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func optionalUUID(raw string) *uuid.UUID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
