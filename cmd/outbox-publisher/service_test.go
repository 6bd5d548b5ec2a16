package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/pkg/config"
	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
	"github.com/angelmondragon/billing-engine/pkg/logger"
	"github.com/angelmondragon/billing-engine/pkg/outbox"
	"github.com/angelmondragon/billing-engine/pkg/outbox/registry"
)

func TestProcessBatchContinuesAfterTransientFailure(t *testing.T) {
	first := invoiceEvent(t, 0)
	second := invoiceEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, dlq, 5)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to report processed")
	}
	if len(repo.failed) != 1 || repo.failed[0] != first.ID {
		t.Fatalf("expected first row marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != second.ID {
		t.Fatalf("expected second row published, got %v", repo.published)
	}
	if len(dlq.entries) != 0 {
		t.Fatalf("transient failure must not dead-letter")
	}
}

func TestProcessBatchSetsMessageAttributes(t *testing.T) {
	event := invoiceEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	service := newTestService(t, repo, pub, &fakeDLQRepo{}, 5)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.Attributes["event_type"] != string(enums.EventInvoiceRecorded) {
		t.Fatalf("unexpected event_type %q", msg.Attributes["event_type"])
	}
	if msg.Attributes["gateway_event_id"] != "evt_gateway" {
		t.Fatalf("expected gateway event id attribute, got %q", msg.Attributes["gateway_event_id"])
	}
	if !bytes.Equal(msg.Data, event.Payload) {
		t.Fatal("message body must be the stored envelope")
	}
}

func TestProcessBatchDeadLettersUnknownEvents(t *testing.T) {
	event := invoiceEvent(t, 0)
	event.EventType = enums.OutboxEventType("ledger_adjusted")
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, &fakePublisher{}, dlq, 5)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected dlq entry, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatal("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonUnroutable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected row marked terminal")
	}
}

func TestProcessBatchDeadLettersAtMaxAttempts(t *testing.T) {
	event := invoiceEvent(t, 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("transient")}}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, dlq, 2)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected dlq entry, got %d", len(dlq.entries))
	}
	if dlq.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", dlq.entries[0].ErrorReason)
	}
	if len(repo.failed) != 0 {
		t.Fatal("terminal row must not be marked for retry")
	}
}

func TestProcessBatchMissingPublisherIsTerminal(t *testing.T) {
	event := invoiceEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, nil, dlq, 5)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected dlq entry when topic has no publisher")
	}
	if dlq.entries[0].ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", dlq.entries[0].ErrorReason)
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeDLQRepo{}, 5)
	processed, err := service.processBatch(context.Background())
	if err != nil || processed {
		t.Fatalf("expected empty batch, got %v %v", processed, err)
	}
}

func TestBackoffDoublesToCeilingAndResets(t *testing.T) {
	b := newBackoff(time.Second, 10*time.Second)
	if got := b.fail(); got != 2*time.Second {
		t.Fatalf("expected 2s, got %s", got)
	}
	for range 5 {
		b.fail()
	}
	if b.current != 10*time.Second {
		t.Fatalf("expected ceiling, got %s", b.current)
	}
	if got := b.reset(); got != time.Second {
		t.Fatalf("expected reset to base, got %s", got)
	}
	if d := jitter(time.Second); d < time.Second || d >= time.Second+jitterWindow {
		t.Fatalf("jitter out of window: %s", d)
	}
}

func TestSleepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func newTestService(t *testing.T, repo outboxRepository, pub *fakePublisher, dlq dlqRepository, maxAttempts int) *Service {
	t.Helper()
	cfg := &config.Config{
		Outbox: config.OutboxConfig{BatchSize: 2, PollIntervalMS: 100, MaxAttempts: maxAttempts},
		PubSub: config.PubSubConfig{BillingTopic: "billing-events"},
	}
	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	factory := func(topic string) publisher {
		if pub == nil {
			return nil
		}
		if topic != "billing-events" {
			t.Fatalf("unexpected topic %q", topic)
		}
		return pub
	}
	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               &fakeDB{},
		PubSub:           &fakeDB{},
		Repository:       repo,
		Registry:         eventRegistry,
		PublisherFactory: factory,
		DLQRepository:    dlq,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func invoiceEvent(tb testing.TB, attempts int) models.OutboxEvent {
	tb.Helper()
	id, invoiceID := uuid.New(), uuid.New()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    id.String(),
		OccurredAt: time.Now().UTC(),
		Source:     &outbox.SourceRef{GatewayEventID: "evt_gateway", GatewayEventType: "invoice.paid"},
		Data:       json.RawMessage(`{"invoice_id":"` + invoiceID.String() + `","external_invoice_ref":"in_1","currency":"USD"}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     enums.EventInvoiceRecorded,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoiceID,
		Payload:       payload,
		AttemptCount:  attempts,
		CreatedAt:     time.Now().UTC(),
	}
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error { return nil }

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) Park(_ context.Context, _ *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		AttemptCount:  event.AttemptCount,
	}
	if cause != nil {
		msg := cause.Error()
		entry.ErrorMessage = &msg
	}
	f.entries = append(f.entries, entry)
	return nil
}
