// Package stripe is the read side of the payment gateway: the cron worker and
// webhook engine use it to look up a subscription's current billing period.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/billing-engine/pkg/config"
	"github.com/angelmondragon/billing-engine/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errRefRequired      = errors.New("subscription reference is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// keyPrefixes lists the secret and restricted key prefixes valid per env.
var keyPrefixes = map[string][]string{
	testEnv: {"sk_test_", "rk_test_"},
	liveEnv: {"sk_live_", "rk_live_"},
}

// SubscriptionSnapshot is the gateway's current view of a subscription.
type SubscriptionSnapshot struct {
	Ref         string
	CustomerRef string
	Status      string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
}

type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, ref string) (*SubscriptionSnapshot, error)
}

type retrieveFunc func(ctx context.Context, id string) (*stripe.Subscription, error)

type Client struct {
	environment string
	retrieve    retrieveFunc
}

// NewClient checks that the key matches the configured environment before
// building the API client.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := strings.TrimSpace(strings.ToLower(cfg.Env))
	if env == "" {
		env = testEnv
	}
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return nil, errInvalidStripeEnv
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if !hasAnyPrefix(apiKey, prefixes) {
		return nil, fmt.Errorf("stripe environment %q requires a key starting with %s", env, strings.Join(prefixes, " or "))
	}

	api := stripe.NewClient(apiKey)
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client initialized")
	}
	return &Client{
		environment: env,
		retrieve: func(ctx context.Context, id string) (*stripe.Subscription, error) {
			return api.V1Subscriptions.Retrieve(ctx, id, &stripe.SubscriptionRetrieveParams{})
		},
	}, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// FetchSubscription returns the subscription's latest item period. A
// subscription the gateway no longer knows yields (nil, nil).
func (c *Client) FetchSubscription(ctx context.Context, ref string) (*SubscriptionSnapshot, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errRefRequired
	}
	sub, err := c.retrieve(ctx, ref)
	if err != nil {
		var apiErr *stripe.Error
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch stripe subscription %s: %w", ref, err)
	}
	return snapshot(sub), nil
}

// snapshot reads the billing period from the subscription items, where the
// gateway has kept it since the 2025-03 API version.
func snapshot(sub *stripe.Subscription) *SubscriptionSnapshot {
	if sub == nil {
		return nil
	}
	snap := &SubscriptionSnapshot{Ref: sub.ID, Status: string(sub.Status)}
	if sub.Customer != nil {
		snap.CustomerRef = sub.Customer.ID
	}
	if sub.Items == nil {
		return snap
	}
	for _, item := range sub.Items.Data {
		if item == nil || item.CurrentPeriodEnd == 0 {
			continue
		}
		end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
		if snap.PeriodEnd != nil && !end.After(*snap.PeriodEnd) {
			continue
		}
		start := time.Unix(item.CurrentPeriodStart, 0).UTC()
		snap.PeriodStart, snap.PeriodEnd = &start, &end
	}
	return snap
}
