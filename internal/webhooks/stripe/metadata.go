package stripewebhook

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/billing-engine/pkg/errors"
)

// Checkout metadata tags written by the storefront.
const (
	metadataTypeSubscription = "subscription"
	metadataTypeCreditPack   = "credit_pack"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

type subscriptionMetadata struct {
	Type         string `json:"type" validate:"required,eq=subscription"`
	TenantID     string `json:"tenant_id" validate:"required,uuid"`
	UserID       string `json:"user_id" validate:"omitempty,uuid"`
	PlanID       string `json:"plan_id" validate:"required"`
	BillingCycle string `json:"billing_cycle" validate:"omitempty,oneof=month monthly year yearly annual"`
}

type creditPackMetadata struct {
	Type       string `json:"type" validate:"required,eq=credit_pack"`
	TenantID   string `json:"tenant_id" validate:"required,uuid"`
	UserID     string `json:"user_id" validate:"required,uuid"`
	PackID     string `json:"pack_id"`
	Credits    int64  `json:"credits,string" validate:"gt=0"`
	PurchaseID string `json:"purchase_id" validate:"omitempty,uuid"`
}

type legacyPurchaseMetadata struct {
	TenantID   string `json:"tenant_id" validate:"required,uuid"`
	UserID     string `json:"user_id" validate:"omitempty,uuid"`
	ItemID     string `json:"item_id"`
	ItemIDs    string `json:"item_ids"`
	PurchaseID string `json:"purchase_id" validate:"omitempty,uuid"`
}

// itemRefs merges item_id and the comma separated item_ids.
func (m legacyPurchaseMetadata) itemRefs() []string {
	seen := map[string]struct{}{}
	var refs []string
	for _, raw := range append([]string{m.ItemID}, strings.Split(m.ItemIDs, ",")...) {
		ref := strings.TrimSpace(raw)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

func hasLegacyItem(md map[string]string) bool {
	return strings.TrimSpace(md["item_id"]) != "" || strings.TrimSpace(md["item_ids"]) != ""
}

// decodeMetadata copies the string map into dest and validates it. Failures
// are validation errors: a retry cannot repair the sender's metadata.
func decodeMetadata(md map[string]string, dest any) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid checkout metadata")
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid checkout metadata").
			WithDetails(map[string]any{"error": err.Error()})
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid checkout metadata").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid checkout metadata")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a uuid"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "eq", "oneof":
		return "has an unsupported value"
	}
	return "is invalid"
}
