package stripewebhook

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/billing-engine/pkg/errors"
	"github.com/angelmondragon/billing-engine/pkg/logger"
)

// SignatureHeader carries the gateway's HMAC signature.
const SignatureHeader = "Stripe-Signature"

// Verifier authenticates raw webhook bodies against the signing secret.
type Verifier struct {
	secret     string
	tolerance  time.Duration
	unverified bool
	logg       *logger.Logger
}

// NewVerifier builds a verifier. An empty secret is only accepted when
// allowUnverified is set, which turns verification off entirely.
func NewVerifier(secret string, tolerance time.Duration, allowUnverified bool, logg *logger.Logger) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" && !allowUnverified {
		return nil, errors.New("webhook signing secret required")
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{
		secret:     secret,
		tolerance:  tolerance,
		unverified: secret == "",
		logg:       logg,
	}, nil
}

// Unverified reports whether signature checks are disabled.
func (v *Verifier) Unverified() bool {
	return v.unverified
}

// Verify checks header against payload. Every failure maps to a signature
// error so the sender sees a 400 without detail.
func (v *Verifier) Verify(ctx context.Context, payload []byte, header string) error {
	if v.unverified {
		if v.logg != nil {
			v.logg.Error(ctx, "webhook signature verification disabled", errors.New("no signing secret configured"))
		}
		return nil
	}
	if strings.TrimSpace(header) == "" {
		return pkgerrors.New(pkgerrors.CodeSignature, "signature header missing")
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header, v.secret, v.tolerance); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeSignature, err, "signature verification failed")
	}
	return nil
}
