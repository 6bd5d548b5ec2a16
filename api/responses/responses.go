package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/angelmondragon/billing-engine/pkg/errors"
	"github.com/angelmondragon/billing-engine/pkg/logger"
	"github.com/angelmondragon/billing-engine/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError maps err onto its public envelope. Rejections the sender must
// not retry log at warn; everything else logs at error with the error trace.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	policy := pkgerrors.PolicyFor(typed.Code())

	apiErr := types.APIError{Code: string(typed.Code()), Message: policy.PublicMessage}
	if policy.ExposeMessage && typed.Message() != "" {
		apiErr.Message = typed.Message()
	}
	if policy.ExposeDetails {
		apiErr.Details = typed.Details()
	}

	if logg != nil {
		fields := pkgerrors.Trace(typed)
		fields["http_status"] = policy.Status
		ctx = logg.WithFields(ctx, fields)
		if policy.Redeliver {
			logg.Error(ctx, "request failed", err)
		} else {
			logg.Warn(ctx, "request rejected")
		}
	}

	writeJSON(w, policy.Status, types.ErrorEnvelope{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
