package stripewebhook

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/internal/audit"
	"github.com/angelmondragon/billing-engine/internal/credits"
	"github.com/angelmondragon/billing-engine/internal/invoices"
	"github.com/angelmondragon/billing-engine/internal/purchases"
	"github.com/angelmondragon/billing-engine/internal/subscriptions"
	"github.com/angelmondragon/billing-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/billing-engine/pkg/errors"
	"github.com/angelmondragon/billing-engine/pkg/logger"
	stripeclient "github.com/angelmondragon/billing-engine/pkg/stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RouterParams wires the domain handlers. Fetcher is optional; when set,
// missing subscription periods are read back from the gateway.
type RouterParams struct {
	DB            txRunner
	Subscriptions *subscriptions.Service
	Credits       *credits.Service
	Invoices      *invoices.Service
	Purchases     *purchases.Service
	Audit         *audit.Writer
	Fetcher       stripeclient.SubscriptionFetcher
	Logger        *logger.Logger
}

// Router dispatches each decoded event to exactly one handler.
type Router struct {
	db        txRunner
	subs      *subscriptions.Service
	credits   *credits.Service
	invoices  *invoices.Service
	purchases *purchases.Service
	audit     *audit.Writer
	fetcher   stripeclient.SubscriptionFetcher
	logg      *logger.Logger
}

func NewRouter(params RouterParams) (*Router, error) {
	if params.DB == nil {
		return nil, errors.New("db client required")
	}
	if params.Subscriptions == nil {
		return nil, errors.New("subscription service required")
	}
	if params.Credits == nil {
		return nil, errors.New("credit service required")
	}
	if params.Invoices == nil {
		return nil, errors.New("invoice service required")
	}
	if params.Purchases == nil {
		return nil, errors.New("purchase service required")
	}
	if params.Audit == nil {
		return nil, errors.New("audit writer required")
	}
	return &Router{
		db:        params.DB,
		subs:      params.Subscriptions,
		credits:   params.Credits,
		invoices:  params.Invoices,
		purchases: params.Purchases,
		audit:     params.Audit,
		fetcher:   params.Fetcher,
		logg:      params.Logger,
	}, nil
}

// Route applies event and returns the outcome to record for env.
func (r *Router) Route(ctx context.Context, env *Envelope, event Event) (enums.EventOutcome, error) {
	if env == nil {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "event envelope required")
	}
	src := audit.Source{EventID: env.ID, EventType: string(env.Type)}
	switch ev := event.(type) {
	case CheckoutSubscription:
		return r.checkoutSubscription(ctx, src, ev)
	case CheckoutCreditPack:
		return r.creditPack(ctx, src, ev)
	case CheckoutLegacyPurchase:
		return r.legacyPurchase(ctx, src, ev)
	case SubscriptionCanceled:
		return r.subscriptionCanceled(ctx, src, ev)
	case SubscriptionPastDue:
		return r.pastDue(ctx, src, ev.SubscriptionRef)
	case InvoicePaid:
		return r.invoicePaid(ctx, env, src, ev.Invoice)
	case InvoicePaymentFailed:
		return r.pastDue(ctx, src, ev.Invoice.SubscriptionRef)
	case PurchasePaymentFailed:
		return r.purchasePaymentFailed(ctx, src, ev)
	case Ignored:
		return r.ignored(ctx, src, ev)
	default:
		return "", pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("no handler for event %T", event))
	}
}
