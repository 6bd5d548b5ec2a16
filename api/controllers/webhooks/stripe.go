package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/angelmondragon/billing-engine/api/responses"
	stripewebhook "github.com/angelmondragon/billing-engine/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/billing-engine/pkg/errors"
	"github.com/angelmondragon/billing-engine/pkg/logger"
)

const (
	defaultMaxBodyBytes      = int64(1 << 20)
	defaultProcessingTimeout = 5 * time.Second
)

// Processor runs one signed delivery end to end.
type Processor interface {
	Process(ctx context.Context, payload []byte, signature string) (*stripewebhook.Result, error)
}

// StripeOptions bound the work a single delivery may do.
type StripeOptions struct {
	MaxBodyBytes      int64
	ProcessingTimeout time.Duration
}

type stripeAck struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id"`
	Outcome   string `json:"outcome"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// StripeWebhook acknowledges gateway deliveries. Processing is detached from
// the client connection so a dropped request cannot abort a half-applied
// transaction.
func StripeWebhook(engine Processor, opts StripeOptions, logg *logger.Logger) http.HandlerFunc {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	timeout := opts.ProcessingTimeout
	if timeout <= 0 {
		timeout = defaultProcessingTimeout
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if engine == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook engine unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		result, err := engine.Process(procCtx, payload, r.Header.Get(stripewebhook.SignatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, stripeAck{
			Received:  true,
			EventID:   result.EventID,
			Outcome:   string(result.Outcome),
			Duplicate: result.Duplicate,
		})
	}
}
