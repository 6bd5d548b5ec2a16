package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/billing-engine/pkg/config"
	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
	"github.com/angelmondragon/billing-engine/pkg/outbox"
	"github.com/angelmondragon/billing-engine/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	invoiceID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.InvoiceRecordedEvent{
		InvoiceID:          invoiceID,
		TenantID:           uuid.New(),
		ExternalInvoiceRef: "in_123",
		Amount:             decimal.RequireFromString("49.00"),
		Currency:           "usd",
	})

	event := models.OutboxEvent{
		EventType:     enums.EventInvoiceRecorded,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoiceID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Route.Topic != "billing-topic" {
		t.Fatalf("unexpected topic %q", resolved.Route.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.InvoiceRecordedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.InvoiceID != invoiceID || !payload.Amount.Equal(decimal.RequireFromString("49")) {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" || resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing metadata: %+v", resolved.Envelope)
	}
}

func TestEventRegistryRequiresBillingTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatal("expected missing topic to fail")
	}
}

func TestEventRegistryResolveNonRetryable(t *testing.T) {
	reg := newTestEventRegistry(t)

	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     enums.OutboxEventType("order_created"),
			AggregateType: enums.AggregatePurchase,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventPurchaseCompleted,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"missing aggregate id": {
			EventType:     enums.EventPurchaseFailed,
			AggregateType: enums.AggregatePurchase,
			AggregateID:   uuid.Nil,
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventCreditsGranted,
			AggregateType: enums.AggregateCreditGrant,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		},
		"payload fails validation": {
			EventType:     enums.EventPurchaseCompleted,
			AggregateType: enums.AggregatePurchase,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{"kind":"credit_pack"}`)),
		},
		"broken envelope": {
			EventType:     enums.EventSubscriptionStatusChanged,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"data":`),
		},
	}

	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			if err == nil {
				t.Fatal("expected error")
			}
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %T", err)
			}
			if unroutable := errors.Is(err, ErrUnroutable); unroutable != (name == "unknown event") {
				t.Fatalf("unroutable=%v for %s", unroutable, name)
			}
		})
	}
}

func TestEventRegistryTopics(t *testing.T) {
	topics := newTestEventRegistry(t).Topics()
	if len(topics) != 1 || topics[0] != "billing-topic" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{BillingTopic: "billing-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
