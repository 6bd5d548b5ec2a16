package stripewebhook

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/billing-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/billing-engine/pkg/errors"
	"github.com/angelmondragon/billing-engine/pkg/logger"
	"github.com/angelmondragon/billing-engine/pkg/metrics"
)

const (
	outcomeInvalid = "invalid"
	outcomeError   = "error"
)

// Result is what the endpoint acknowledges for one delivery.
type Result struct {
	EventID   string
	EventType string
	Outcome   enums.EventOutcome
	Duplicate bool
}

type EngineParams struct {
	Verifier *Verifier
	Guard    *Guard
	Router   *Router
	Metrics  *metrics.WebhookMetrics
	Logger   *logger.Logger
}

// Engine runs one delivery through verify, parse, claim, decode, route and
// record. Nothing is recorded for a delivery that fails.
type Engine struct {
	verifier *Verifier
	guard    *Guard
	router   *Router
	metrics  *metrics.WebhookMetrics
	logg     *logger.Logger
	now      func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Verifier == nil {
		return nil, errors.New("signature verifier required")
	}
	if params.Guard == nil {
		return nil, errors.New("idempotency guard required")
	}
	if params.Router == nil {
		return nil, errors.New("event router required")
	}
	return &Engine{
		verifier: params.Verifier,
		guard:    params.Guard,
		router:   params.Router,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

// Process applies one raw delivery. Returned errors carry a pkg/errors code:
// validation and signature failures are 400, everything else is retryable.
func (e *Engine) Process(ctx context.Context, payload []byte, signature string) (*Result, error) {
	started := e.now()

	if err := e.verifier.Verify(ctx, payload, signature); err != nil {
		e.warn(ctx, "webhook signature rejected", err)
		e.observe("", outcomeInvalid, started)
		return nil, err
	}

	env, err := ParseEnvelope(payload)
	if err != nil {
		e.warn(ctx, "webhook payload rejected", err)
		e.observe("", outcomeInvalid, started)
		return nil, err
	}
	eventType := string(env.Type)
	if e.logg != nil {
		ctx = e.logg.WithEvent(ctx, env.ID, eventType)
	}

	claim, err := e.guard.Begin(ctx, env.ID)
	if err != nil {
		return nil, e.fail(ctx, eventType, started, classify(ctx, err, "idempotency check failed"))
	}
	switch claim {
	case ClaimDuplicate:
		if e.logg != nil {
			e.logg.Info(ctx, "webhook event already processed")
		}
		e.observe(eventType, string(enums.EventOutcomeDuplicate), started)
		return &Result{EventID: env.ID, EventType: eventType, Outcome: enums.EventOutcomeDuplicate, Duplicate: true}, nil
	case ClaimInFlight:
		return nil, e.fail(ctx, eventType, started, pkgerrors.New(pkgerrors.CodeDependency, "event is being processed"))
	}

	event, err := Decode(env)
	if err != nil {
		e.abort(ctx, env.ID)
		e.warn(ctx, "webhook event rejected", err)
		e.observe(eventType, outcomeInvalid, started)
		return nil, err
	}

	outcome, err := e.router.Route(ctx, env, event)
	if err != nil {
		e.abort(ctx, env.ID)
		return nil, e.fail(ctx, eventType, started, classify(ctx, err, "webhook processing failed"))
	}

	if err := e.guard.Complete(ctx, env.ID, eventType, outcome); err != nil {
		e.abort(ctx, env.ID)
		return nil, e.fail(ctx, eventType, started, classify(ctx, err, "record processed event failed"))
	}
	if e.logg != nil {
		e.logg.Info(e.logg.WithField(ctx, "outcome", outcome), "webhook event processed")
	}
	e.observe(eventType, string(outcome), started)
	return &Result{EventID: env.ID, EventType: eventType, Outcome: outcome}, nil
}

// classify keeps typed errors and turns everything else into a retryable
// error, distinguishing a blown processing deadline.
func classify(ctx context.Context, err error, msg string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "webhook processing timed out")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func (e *Engine) fail(ctx context.Context, eventType string, started time.Time, err error) error {
	label := outcomeError
	if !pkgerrors.PolicyFor(pkgerrors.CodeOf(err)).Redeliver {
		label = outcomeInvalid
		e.warn(ctx, "webhook event rejected", err)
	} else if e.logg != nil {
		e.logg.Error(ctx, "webhook processing failed", err)
	}
	e.observe(eventType, label, started)
	return err
}

func (e *Engine) abort(ctx context.Context, eventID string) {
	if err := e.guard.Abort(ctx, eventID); err != nil && e.logg != nil {
		e.logg.Error(ctx, "release webhook claim", err)
	}
}

func (e *Engine) warn(ctx context.Context, msg string, err error) {
	if e.logg == nil {
		return
	}
	e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), msg)
}

func (e *Engine) observe(eventType, outcome string, started time.Time) {
	e.metrics.Observe(eventType, outcome, e.now().Sub(started))
}
