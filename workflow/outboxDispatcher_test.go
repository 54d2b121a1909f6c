package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/models"
	"github.com/mmdatafocus/lease_backend/workflow"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchOnce_PublishesPendingRows(t *testing.T) {
	db := setupTestDB(t)
	logger, _ := test.NewNullLogger()
	r := newReservation(t, "reserved")
	row := outboxRow(t, db, models.EventReservationCreated, r.ID)

	var published []config.NotificationMessage
	d := workflow.NewOutboxDispatcher(db, logger)
	d.Publish = func(ctx context.Context, msg config.NotificationMessage) (string, error) {
		published = append(published, msg)
		return fmt.Sprintf("msg-%d", msg.ID), nil
	}

	assert.Equal(t, 1, d.DispatchOnce(context.Background()))
	require.Len(t, published, 1)
	assert.Equal(t, row.ID, published[0].ID)
	assert.Equal(t, models.EventReservationCreated, published[0].EventName)
	assert.Equal(t, r.ID, published[0].AggregateId)

	sent, err := models.GetOutboxEvent(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxPublishStatusSent, sent.PublishStatus)
	require.NotNil(t, sent.PubSubMessageId)
	assert.Equal(t, fmt.Sprintf("msg-%d", row.ID), *sent.PubSubMessageId)
	assert.Equal(t, 1, sent.PublishAttempts)
	assert.Nil(t, sent.LockedBy)

	assert.Zero(t, d.DispatchOnce(context.Background()))
	assert.Len(t, published, 1)
}

func TestDispatchOnce_FailureSchedulesRetry(t *testing.T) {
	db := setupTestDB(t)
	logger, hook := test.NewNullLogger()
	r := newReservation(t, "reserved")
	row := outboxRow(t, db, models.EventReservationCreated, r.ID)

	calls := 0
	d := workflow.NewOutboxDispatcher(db, logger)
	d.Retry = workflow.RetryConfig{MaxAttempts: 2, BaseBackoff: time.Minute, MaxBackoff: time.Hour}
	d.Publish = func(ctx context.Context, msg config.NotificationMessage) (string, error) {
		calls++
		return "", errors.New("topic not found")
	}

	assert.Zero(t, d.DispatchOnce(context.Background()))
	failed, err := models.GetOutboxEvent(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxPublishStatusFailed, failed.PublishStatus)
	require.NotNil(t, failed.NextAttemptAt)
	assert.True(t, failed.NextAttemptAt.After(time.Now().UTC()))
	require.NotNil(t, failed.LastPublishError)
	assert.Equal(t, "topic not found", *failed.LastPublishError)
	require.NotNil(t, hook.LastEntry())

	// not due yet
	assert.Zero(t, d.DispatchOnce(context.Background()))
	assert.Equal(t, 1, calls)

	past := time.Now().UTC().Add(-time.Second)
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("id = ?", row.ID).Update("next_attempt_at", past).Error)
	assert.Zero(t, d.DispatchOnce(context.Background()))
	assert.Equal(t, 2, calls)

	dead, err := models.GetOutboxEvent(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxPublishStatusDead, dead.PublishStatus)
	assert.Nil(t, dead.NextAttemptAt)
}
