package stripewebhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/billing-engine/pkg/errors"
)

// Envelope is the verified, immutable outer shape of a gateway event.
type Envelope struct {
	ID         string
	Type       stripe.EventType
	OccurredAt time.Time
	Raw        []byte
	Object     json.RawMessage
	Metadata   map[string]string
}

type objectMetadata struct {
	Metadata map[string]any `json:"metadata"`
}

// ParseEnvelope decodes the event id, type, creation time and data.object.
// Malformed bodies are validation errors.
func ParseEnvelope(payload []byte) (*Envelope, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed event payload")
	}
	id := strings.TrimSpace(event.ID)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id missing")
	}
	if strings.TrimSpace(string(event.Type)) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event type missing")
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event data.object missing")
	}

	var meta objectMetadata
	if err := json.Unmarshal(event.Data.Raw, &meta); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed event object")
	}

	occurredAt := time.Now().UTC()
	if event.Created > 0 {
		occurredAt = time.Unix(event.Created, 0).UTC()
	}
	return &Envelope{
		ID:         id,
		Type:       event.Type,
		OccurredAt: occurredAt,
		Raw:        payload,
		Object:     event.Data.Raw,
		Metadata:   stringifyMetadata(meta.Metadata),
	}, nil
}

func stringifyMetadata(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch value := v.(type) {
		case nil:
			continue
		case string:
			out[k] = value
		default:
			out[k] = fmt.Sprint(value)
		}
	}
	return out
}
