package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	defaultTerminalAttempt = 5
)

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type dlqPruner interface {
	PurgeBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// RetentionJobParams configures pruning of delivered and parked outbox rows.
// DLQ is optional; without it only outbox_events is pruned.
type RetentionJobParams struct {
	Logger          *logger.Logger
	DB              txRunner
	Outbox          outboxPruner
	DLQ             dlqPruner
	OutboxRetention time.Duration
	DLQRetention    time.Duration
	// TerminalAttempts matches the publisher's attempt ceiling so rows it
	// gave up on are pruned with the published ones.
	TerminalAttempts int
}

func NewRetentionJob(params RetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &retentionJob{
		logg:             params.Logger,
		db:               params.DB,
		outbox:           params.Outbox,
		dlq:              params.DLQ,
		outboxRetention:  params.OutboxRetention,
		dlqRetention:     params.DLQRetention,
		terminalAttempts: params.TerminalAttempts,
		now:              time.Now,
	}
	if job.outboxRetention <= 0 {
		job.outboxRetention = defaultOutboxRetention
	}
	if job.dlqRetention <= 0 {
		job.dlqRetention = defaultDLQRetention
	}
	if job.terminalAttempts <= 0 {
		job.terminalAttempts = defaultTerminalAttempt
	}
	return job, nil
}

type retentionJob struct {
	logg             *logger.Logger
	db               txRunner
	outbox           outboxPruner
	dlq              dlqPruner
	outboxRetention  time.Duration
	dlqRetention     time.Duration
	terminalAttempts int
	now              func() time.Time
}

func (j *retentionJob) Name() string { return "outbox-retention" }

// Run prunes both tables in one transaction so a failure leaves neither half-cleaned.
func (j *retentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	outboxCutoff := now.Add(-j.outboxRetention)
	dlqCutoff := now.Add(-j.dlqRetention)

	var outboxDeleted, dlqDeleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if outboxDeleted, err = j.outbox.DeletePublishedBefore(ctx, tx, outboxCutoff, j.terminalAttempts); err != nil {
			return fmt.Errorf("prune outbox: %w", err)
		}
		if j.dlq == nil {
			return nil
		}
		if dlqDeleted, err = j.dlq.PurgeBefore(ctx, tx, dlqCutoff); err != nil {
			return fmt.Errorf("prune dlq: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"outbox_cutoff":  outboxCutoff,
		"outbox_deleted": outboxDeleted,
		"dlq_cutoff":     dlqCutoff,
		"dlq_deleted":    dlqDeleted,
	}), "retention pass complete")
	return nil
}
