package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
	"github.com/angelmondragon/billing-engine/pkg/logger"
	"github.com/angelmondragon/billing-engine/pkg/outbox"
)

// Source identifies the gateway event (or job run) behind a write.
type Source struct {
	EventID   string
	EventType string
}

// Ref returns the outbox source reference for s.
func (s Source) Ref() *outbox.SourceRef {
	return &outbox.SourceRef{GatewayEventID: s.EventID, GatewayEventType: s.EventType}
}

// Entry is one billing_sync_logs row.
type Entry struct {
	Source     Source
	EntityType enums.SyncEntityType
	EntityID   string
	Action     string
	Outcome    enums.EventOutcome
	Details    map[string]any
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Writer appends sync log rows and queues outbox events inside the caller's
// transaction.
type Writer struct {
	outbox emitter
	logg   *logger.Logger
}

// NewWriter builds an audit writer. outbox may be nil when no domain events
// should be queued.
func NewWriter(outboxSvc *outbox.Service, logg *logger.Logger) *Writer {
	w := &Writer{logg: logg}
	if outboxSvc != nil {
		w.outbox = outboxSvc
	}
	return w
}

// Record inserts the entry and logs it. Outcomes other than applied and
// ignored log at warn level.
func (w *Writer) Record(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	var details json.RawMessage
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = raw
	}
	row := models.BillingSyncLog{
		ID:         uuid.New(),
		EventID:    entry.Source.EventID,
		EventType:  entry.Source.EventType,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Outcome:    entry.Outcome,
		Details:    details,
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert billing sync log: %w", err)
	}
	w.log(ctx, entry)
	return nil
}

// Emit queues a domain event on the outbox in the same transaction.
func (w *Writer) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if w.outbox == nil {
		return nil
	}
	return w.outbox.Emit(ctx, tx, event)
}

func (w *Writer) log(ctx context.Context, entry Entry) {
	if w.logg == nil {
		return
	}
	fields := map[string]any{
		"entity_type": entry.EntityType,
		"action":      entry.Action,
		"outcome":     entry.Outcome,
	}
	if entry.EntityID != "" {
		fields["entity_id"] = entry.EntityID
	}
	for k, v := range entry.Details {
		fields[k] = v
	}
	ctx = w.logg.WithFields(w.logg.WithEvent(ctx, entry.Source.EventID, entry.Source.EventType), fields)
	switch entry.Outcome {
	case enums.EventOutcomeRejected, enums.EventOutcomeSkipped, enums.EventOutcomeFailed:
		w.logg.Warn(ctx, "billing."+entry.Action)
	default:
		w.logg.Info(ctx, "billing."+entry.Action)
	}
}
