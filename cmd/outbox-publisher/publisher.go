package main

import (
	"context"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/outbox"
)

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type topicPublisherSource interface {
	Publisher(name string) *gcppubsub.Publisher
}

// cachedPublisherFactory hands out one publisher per topic. Pub/Sub
// publishers batch internally, so building one per message would defeat it.
func cachedPublisherFactory(src topicPublisherSource) publisherFactory {
	cache := map[string]publisher{}
	return func(topic string) publisher {
		if pub, ok := cache[topic]; ok {
			return pub
		}
		raw := src.Publisher(topic)
		if raw == nil {
			return nil
		}
		pub := &gcpPublisher{Publisher: raw}
		cache[topic] = pub
		return pub
	}
}

// buildMessage carries the stored envelope as the body. Attributes let
// subscribers filter without decoding it.
func buildMessage(event models.OutboxEvent, envelope outbox.PayloadEnvelope) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if envelope.EventID == "" {
		attrs["event_id"] = event.ID.String()
	}
	if envelope.Source != nil && envelope.Source.GatewayEventID != "" {
		attrs["gateway_event_id"] = envelope.Source.GatewayEventID
	}
	return &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
