package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
	"github.com/angelmondragon/billing-engine/pkg/redis"
)

const idempotencyScope = "stripe-webhook"

// Claim is the result of Guard.Begin.
type Claim int

const (
	// ClaimAcquired means the caller owns the event and must Complete or Abort it.
	ClaimAcquired Claim = iota
	// ClaimDuplicate means the event was already processed.
	ClaimDuplicate
	// ClaimInFlight means another delivery of the same event is being handled.
	ClaimInFlight
)

func (c Claim) String() string {
	switch c {
	case ClaimAcquired:
		return "acquired"
	case ClaimDuplicate:
		return "duplicate"
	case ClaimInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

type processedStore interface {
	Find(ctx context.Context, eventID string) (*models.ProcessedEvent, error)
	Insert(ctx context.Context, row *models.ProcessedEvent) (bool, error)
}

// Guard deduplicates deliveries. processed_events is authoritative; the
// optional redis claim only keeps concurrent deliveries of one id apart.
type Guard struct {
	processed processedStore
	store     redis.IdempotencyStore
	ttl       time.Duration
	now       func() time.Time
}

// NewGuard builds a guard. store may be nil, which disables in-flight claims.
func NewGuard(processed processedStore, store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	if processed == nil {
		return nil, errors.New("processed event repository is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{
		processed: processed,
		store:     store,
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Begin claims eventID for processing.
func (g *Guard) Begin(ctx context.Context, eventID string) (Claim, error) {
	if strings.TrimSpace(eventID) == "" {
		return ClaimAcquired, errors.New("event id is required")
	}
	existing, err := g.processed.Find(ctx, eventID)
	if err != nil {
		return ClaimAcquired, fmt.Errorf("lookup processed event: %w", err)
	}
	if existing != nil {
		return ClaimDuplicate, nil
	}
	if g.store == nil {
		return ClaimAcquired, nil
	}
	set, err := g.store.SetNX(ctx, g.key(eventID), "1", g.ttl)
	if err != nil {
		return ClaimAcquired, fmt.Errorf("set idempotency key: %w", err)
	}
	if !set {
		return ClaimInFlight, nil
	}
	return ClaimAcquired, nil
}

// Complete records the final outcome and releases the in-flight claim.
func (g *Guard) Complete(ctx context.Context, eventID, eventType string, outcome enums.EventOutcome) error {
	_, err := g.processed.Insert(ctx, &models.ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		Outcome:     outcome,
		ProcessedAt: g.now(),
	})
	if err != nil {
		return fmt.Errorf("record processed event: %w", err)
	}
	return g.release(ctx, eventID)
}

// Abort releases the in-flight claim without recording anything, so the
// sender's retry is processed from scratch.
func (g *Guard) Abort(ctx context.Context, eventID string) error {
	return g.release(ctx, eventID)
}

func (g *Guard) release(ctx context.Context, eventID string) error {
	if g.store == nil {
		return nil
	}
	if err := g.store.Del(ctx, g.key(eventID)); err != nil {
		return fmt.Errorf("delete idempotency key: %w", err)
	}
	return nil
}

func (g *Guard) key(eventID string) string {
	return g.store.IdempotencyKey(idempotencyScope, eventID)
}
