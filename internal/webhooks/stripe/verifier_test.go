package stripewebhook

import (
	"context"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/billing-engine/pkg/errors"
)

const testSecret = "whsec_test_secret"

func sign(t *testing.T, payload []byte) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier("  ", 0, false, nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
	v, err := NewVerifier("", 0, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Unverified() {
		t.Fatal("expected unverified verifier")
	}
}

func TestVerifyAcceptsSignedPayload(t *testing.T) {
	v, err := NewVerifier(testSecret, 5*time.Minute, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)
	if err := v.Verify(context.Background(), payload, sign(t, payload)); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	v, err := NewVerifier(testSecret, 5*time.Minute, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)
	header := sign(t, payload)
	tampered := []byte(`{"id":"evt_1","type":"invoice.paid","x":1}`)

	err = v.Verify(context.Background(), tampered, header)
	if !pkgerrors.IsCode(err, pkgerrors.CodeSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestVerifyRejectsMissingHeaderAndWrongSecret(t *testing.T) {
	v, err := NewVerifier("whsec_other", 5*time.Minute, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload := []byte(`{"id":"evt_1"}`)
	if err := v.Verify(context.Background(), payload, ""); !pkgerrors.IsCode(err, pkgerrors.CodeSignature) {
		t.Fatalf("expected signature error for missing header, got %v", err)
	}
	if err := v.Verify(context.Background(), payload, sign(t, payload)); !pkgerrors.IsCode(err, pkgerrors.CodeSignature) {
		t.Fatalf("expected signature error for wrong secret, got %v", err)
	}
}

func TestVerifyUnverifiedSkipsCheck(t *testing.T) {
	v, err := NewVerifier("", 0, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := v.Verify(context.Background(), []byte(`{}`), ""); err != nil {
		t.Fatalf("expected unverified verifier to accept, got %v", err)
	}
}
