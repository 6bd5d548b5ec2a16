// Package registry routes outbox rows to their Pub/Sub topic and decodes the
// typed payload each billing event carries.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/billing-engine/pkg/config"
	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
	"github.com/angelmondragon/billing-engine/pkg/outbox"
	"github.com/angelmondragon/billing-engine/pkg/outbox/payloads"
)

// ErrUnroutable marks rows whose event type has no registered route.
var ErrUnroutable = errors.New("no route for event type")

// Route is where one event type goes and which aggregate it belongs to.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func(json.RawMessage) (any, error)
}

// ResolvedEvent is a routed outbox row with its decoded payload.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
}

type EventRegistry struct {
	routes   map[enums.OutboxEventType]Route
	validate *validator.Validate
}

// NonRetryableError tells the publisher that retrying the row cannot help.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func route[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) Route {
	return Route{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		decode: func(raw json.RawMessage) (any, error) {
			payload := new(T)
			if err := json.Unmarshal(raw, payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}

// NewEventRegistry routes every billing event onto the billing topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := cfg.BillingTopic
	if topic == "" {
		return nil, fmt.Errorf("billing topic is required")
	}
	reg := &EventRegistry{
		routes:   make(map[enums.OutboxEventType]Route),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, r := range []Route{
		route[payloads.SubscriptionStatusChangedEvent](enums.EventSubscriptionStatusChanged, enums.AggregateSubscription, topic),
		route[payloads.CreditsGrantedEvent](enums.EventCreditsGranted, enums.AggregateCreditGrant, topic),
		route[payloads.InvoiceRecordedEvent](enums.EventInvoiceRecorded, enums.AggregateInvoice, topic),
		route[payloads.PurchaseCompletedEvent](enums.EventPurchaseCompleted, enums.AggregatePurchase, topic),
		route[payloads.PurchaseFailedEvent](enums.EventPurchaseFailed, enums.AggregatePurchase, topic),
	} {
		reg.routes[r.EventType] = r
	}
	return reg, nil
}

// Topics lists the distinct topics routes publish to.
func (r *EventRegistry) Topics() []string {
	seen := map[string]bool{}
	var topics []string
	for _, rt := range r.routes {
		if !seen[rt.Topic] {
			seen[rt.Topic] = true
			topics = append(topics, rt.Topic)
		}
	}
	return topics
}

// Resolve checks the row against its route and decodes the payload. Every
// failure is non-retryable; an unknown event type also wraps ErrUnroutable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	rt, ok := r.routes[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("%w: %s", ErrUnroutable, event.EventType))
	}
	switch {
	case rt.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", rt.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload, err := rt.decode(envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	if err := r.validate.Struct(payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("invalid %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Route: rt, Envelope: envelope, Payload: payload}, nil
}
