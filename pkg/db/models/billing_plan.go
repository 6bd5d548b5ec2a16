package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PlanLimits is the jsonb limits document of a billing plan.
type PlanLimits struct {
	Apps           []string `json:"apps"`
	CreditsMonthly int64    `json:"credits_monthly"`
	Seats          int      `json:"seats,omitempty"`
	StorageGB      int      `json:"storage_gb,omitempty"`
}

// Value implements driver.Valuer.
func (l PlanLimits) Value() (driver.Value, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *PlanLimits) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = PlanLimits{}
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported plan limits type %T", src)
	}
}

// BillingPlan captures the local metadata for a subscription plan.
type BillingPlan struct {
	ID            string          `gorm:"column:id;primaryKey"`
	Name          string          `gorm:"column:name;not null"`
	StripePriceID *string         `gorm:"column:stripe_price_id;uniqueIndex"`
	PriceAmount   decimal.Decimal `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode  string          `gorm:"column:currency_code;not null"`
	Limits        PlanLimits      `gorm:"column:limits;type:jsonb;not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
