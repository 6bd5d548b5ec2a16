package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.uber.org/multierr"
)

func TestPolicyDecidesRedelivery(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		redeliver bool
	}{
		{CodeValidation, http.StatusBadRequest, false},
		{CodeSignature, http.StatusBadRequest, false},
		{CodeTimeout, http.StatusInternalServerError, true},
		{CodeDependency, http.StatusInternalServerError, true},
		{CodeInternal, http.StatusInternalServerError, true},
		{"SOMETHING_UNKNOWN", http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		p := PolicyFor(tt.code)
		if p.Status != tt.status || tt.code.Status() != tt.status {
			t.Fatalf("%s: expected status %d got %d", tt.code, tt.status, p.Status)
		}
		if p.Redeliver != tt.redeliver {
			t.Fatalf("%s: expected redeliver %v", tt.code, tt.redeliver)
		}
		if p.PublicMessage == "" {
			t.Fatalf("%s: missing public message", tt.code)
		}
	}
	if PolicyFor(CodeSignature).ExposeMessage || PolicyFor(CodeSignature).ExposeDetails {
		t.Fatal("signature failures must not expose their cause")
	}
}

func TestErrorConstructors(t *testing.T) {
	base := Newf(CodeValidation, "missing %s", "tenant_id")
	if base.Code() != CodeValidation || base.Message() != "missing tenant_id" {
		t.Fatalf("unexpected error %v", base)
	}
	if base.Details() != nil {
		t.Fatal("details should be nil by default")
	}
	if base.WithDetails(map[string]any{"field": "tenant_id"}).Details() == nil {
		t.Fatal("details should be kept")
	}

	cause := stdErrors.New("connection refused")
	wrapped := Wrap(CodeDependency, cause, "insert invoice")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatal("Wrap did not keep the cause")
	}
	if got := wrapped.Error(); got != "DEPENDENCY_ERROR: insert invoice: connection refused" {
		t.Fatalf("unexpected message %q", got)
	}

	var nilErr *Error
	if nilErr.Code() != CodeInternal || nilErr.Error() != "" || nilErr.WithDetails("x") != nil {
		t.Fatal("nil receiver should be safe")
	}
}

func TestCodeOfFollowsWrappedChain(t *testing.T) {
	outer := fmt.Errorf("verify: %w", New(CodeSignature, "bad signature"))
	if !IsCode(outer, CodeSignature) || CodeOf(outer) != CodeSignature {
		t.Fatal("expected signature code through fmt wrapping")
	}
	if IsCode(outer, CodeValidation) {
		t.Fatal("unexpected validation match")
	}
	plain := stdErrors.New("plain")
	if CodeOf(plain) != CodeInternal || IsCode(plain, CodeInternal) {
		t.Fatal("untyped errors default to internal but carry no code")
	}
	if As(nil) != nil || Trace(nil) != nil {
		t.Fatal("nil error should produce nothing")
	}
}

func TestTraceCollectsChainsAndPostgresDetail(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_invoices_external_ref", TableName: "invoices"}
	err := fmt.Errorf("handler: %w", Wrap(CodeDependency, pgErr, "insert invoice"))

	fields := Trace(err)
	if fields["error_code"] != string(CodeDependency) {
		t.Fatalf("unexpected code %v", fields["error_code"])
	}
	if chain := fields["error_chain"].([]string); len(chain) != 3 {
		t.Fatalf("expected 3 chain entries, got %v", chain)
	}
	if fields["pg_code"] != "23505" || fields["pg_constraint"] != "ux_invoices_external_ref" {
		t.Fatalf("missing pgx detail: %v", fields)
	}

	pqFields := Trace(&pq.Error{Code: "40001", Table: "purchases"})
	if pqFields["pg_code"] != "40001" || pqFields["pg_table"] != "purchases" {
		t.Fatalf("missing pq detail: %v", pqFields)
	}

	combined := multierr.Combine(stdErrors.New("sub_a"), fmt.Errorf("sub_b: %w", stdErrors.New("timeout")))
	if chain := Trace(combined)["error_chain"].([]string); len(chain) != 3 {
		t.Fatalf("expected both branches in the chain, got %v", chain)
	}
}
