package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/billing-engine/internal/purchases"
	"github.com/angelmondragon/billing-engine/pkg/logger"
)

const (
	defaultRetryLimit       = 100
	defaultRetryMaxAttempts = 5
)

type purchaseRetrier interface {
	RetryProvisioning(ctx context.Context, limit, maxAttempts int) (purchases.RetryReport, error)
}

type PurchaseRetryJobParams struct {
	Logger      *logger.Logger
	Purchases   purchaseRetrier
	Limit       int
	MaxAttempts int
}

// NewPurchaseRetryJob re-provisions purchases that failed after payment.
// Purchases at MaxAttempts are left for manual follow-up.
func NewPurchaseRetryJob(params PurchaseRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Purchases == nil {
		return nil, fmt.Errorf("purchase service required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultRetryLimit
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryMaxAttempts
	}
	return &purchaseRetryJob{
		logg:        params.Logger,
		purchases:   params.Purchases,
		limit:       limit,
		maxAttempts: maxAttempts,
	}, nil
}

type purchaseRetryJob struct {
	logg        *logger.Logger
	purchases   purchaseRetrier
	limit       int
	maxAttempts int
}

func (j *purchaseRetryJob) Name() string { return "purchase-provisioning-retry" }

func (j *purchaseRetryJob) Run(ctx context.Context) error {
	report, err := j.purchases.RetryProvisioning(ctx, j.limit, j.maxAttempts)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates":   report.Candidates,
		"completed":    report.Completed,
		"failed":       report.Failed,
		"max_attempts": j.maxAttempts,
	})
	j.logg.Info(logCtx, "purchase provisioning retry complete")
	if err != nil {
		return fmt.Errorf("retry purchase provisioning: %w", err)
	}
	return nil
}
