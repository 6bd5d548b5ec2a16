package cron

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/pkg/db/dbtest"
	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
	"github.com/angelmondragon/billing-engine/pkg/outbox"
)

func TestRetentionJobPrunesOutboxAndDLQ(t *testing.T) {
	client := dbtest.NewClient(t)
	conn := client.DB()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -45)
	recent := now.AddDate(0, 0, -2)

	insert := func(createdAt time.Time, publishedAt *time.Time, attempts int) models.OutboxEvent {
		row := models.OutboxEvent{
			ID:            uuid.New(),
			EventType:     enums.EventInvoiceRecorded,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			CreatedAt:     createdAt,
			PublishedAt:   publishedAt,
			AttemptCount:  attempts,
		}
		require.NoError(t, conn.Create(&row).Error)
		return row
	}
	insert(old, &old, 0)
	insert(recent, &recent, 0)
	insert(old, nil, 0)
	parked := insert(old, nil, 3)

	dlq := outbox.NewDLQRepository(conn)
	require.NoError(t, dlq.Park(context.Background(), conn, parked, enums.OutboxDLQReasonMaxAttempts, errors.New("broker down")))
	require.NoError(t, conn.Model(&models.OutboxDLQ{}).Where("event_id = ?", parked.ID).
		Update("failed_at", now.AddDate(0, 0, -120)).Error)

	jobIface, err := NewRetentionJob(RetentionJobParams{
		Logger:           testLogger(),
		DB:               client,
		Outbox:           outbox.NewRepository(conn),
		DLQ:              dlq,
		TerminalAttempts: 3,
	})
	require.NoError(t, err)
	job := jobIface.(*retentionJob)
	job.now = func() time.Time { return now }
	assert.Equal(t, "outbox-retention", job.Name())

	require.NoError(t, job.Run(context.Background()))

	var remaining int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	assert.Equal(t, int64(2), remaining)
	var parkedRows int64
	require.NoError(t, conn.Model(&models.OutboxDLQ{}).Count(&parkedRows).Error)
	assert.Zero(t, parkedRows)
}

type failingPruner struct{}

func (failingPruner) PurgeBefore(context.Context, *gorm.DB, time.Time) (int64, error) {
	return 0, errors.New("dlq locked")
}

func TestRetentionJobSurfacesDLQFailure(t *testing.T) {
	client := dbtest.NewClient(t)
	job, err := NewRetentionJob(RetentionJobParams{
		Logger: testLogger(),
		DB:     client,
		Outbox: outbox.NewRepository(client.DB()),
		DLQ:    failingPruner{},
	})
	require.NoError(t, err)
	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prune dlq")
}

func TestNewRetentionJobValidatesParams(t *testing.T) {
	client := dbtest.NewClient(t)
	repo := outbox.NewRepository(client.DB())
	_, err := NewRetentionJob(RetentionJobParams{DB: client, Outbox: repo})
	assert.Error(t, err)
	_, err = NewRetentionJob(RetentionJobParams{Logger: testLogger(), Outbox: repo})
	assert.Error(t, err)
	_, err = NewRetentionJob(RetentionJobParams{Logger: testLogger(), DB: client})
	assert.Error(t, err)

	job, err := NewRetentionJob(RetentionJobParams{Logger: testLogger(), DB: client, Outbox: repo})
	require.NoError(t, err)
	assert.Equal(t, defaultDLQRetention, job.(*retentionJob).dlqRetention)
}
