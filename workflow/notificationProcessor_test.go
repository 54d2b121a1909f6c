package workflow_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/mmdatafocus/lease_backend/models"
	"github.com/mmdatafocus/lease_backend/workflow"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransport = errors.New("relay unavailable")

func TestProcess_FailedDeliveryLeavesTransitionCommitted(t *testing.T) {
	db := setupTestDB(t)
	logger, _ := test.NewNullLogger()
	r := newReservation(t, "reserved")
	_, err := models.ApproveReservation(as(owner), r.ID)
	require.NoError(t, err)
	row := outboxRow(t, db, models.EventReservationApproved, r.ID)
	require.Len(t, row.Recipients, 3)

	notifier := &fakeNotifier{fail: map[string]bool{"email:hamad@example.com": true}}
	p := workflow.NewNotificationProcessor(db, logger, notifier)
	p.Retry = workflow.RetryConfig{MaxAttempts: 3, BaseBackoff: time.Minute, MaxBackoff: time.Hour}

	err = p.Process(context.Background(), row.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 recipients failed")

	failed, err := models.GetOutboxEvent(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxProcessStatusFailed, failed.ProcessingStatus)
	assert.Equal(t, 1, failed.ProcessAttempts)
	require.NotNil(t, failed.NextProcessAttemptAt)
	assert.True(t, failed.NextProcessAttemptAt.After(time.Now().UTC()))
	assert.ElementsMatch(t, []string{"email:aisha@example.com", "whatsapp:+16502530000"}, failed.DeliveredTo)
	require.NotNil(t, failed.LastProcessError)

	res, err := models.GetReservation(as(owner), r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusApproved, res.Status)
	invoices, err := models.ListInvoices(as(owner), models.InvoiceFilter{ReservationId: r.ID})
	require.NoError(t, err)
	assert.Len(t, invoices, 1)

	notifier.fail = nil
	require.NoError(t, p.Process(context.Background(), row.ID))
	require.Len(t, notifier.calls, 2)
	require.Len(t, notifier.calls[1], 1)
	assert.Equal(t, "hamad@example.com", notifier.calls[1][0].Address)

	done, err := models.GetOutboxEvent(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxProcessStatusSucceeded, done.ProcessingStatus)
	assert.NotNil(t, done.ProcessedAt)
	assert.Nil(t, done.NextProcessAttemptAt)

	var key models.IdempotencyKey
	require.NoError(t, db.Where("handler_name = ? AND message_id = ?", "notification", strconv.Itoa(row.ID)).Take(&key).Error)
	assert.Equal(t, models.IdempotencyStatusSucceeded, key.Status)

	require.NoError(t, p.Process(context.Background(), row.ID))
	assert.Len(t, notifier.calls, 2)
}

func TestProcess_MovesToDeadAfterMaxAttempts(t *testing.T) {
	db := setupTestDB(t)
	logger, hook := test.NewNullLogger()
	r := newReservation(t, "reserved")
	row := outboxRow(t, db, models.EventReservationCreated, r.ID)

	notifier := &fakeNotifier{fail: map[string]bool{"email:aisha@example.com": true}}
	p := workflow.NewNotificationProcessor(db, logger, notifier)
	p.Retry = workflow.RetryConfig{MaxAttempts: 1, BaseBackoff: time.Second, MaxBackoff: time.Second}

	require.Error(t, p.Process(context.Background(), row.ID))
	dead, err := models.GetOutboxEvent(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxProcessStatusDead, dead.ProcessingStatus)
	assert.Nil(t, dead.NextProcessAttemptAt)
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "DEAD")

	require.NoError(t, p.Process(context.Background(), row.ID))
	assert.Len(t, notifier.calls, 1)

	replayed, err := models.ReplayOutboxEvent(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxProcessStatusFailed, replayed.ProcessingStatus)
	notifier.fail = nil
	require.NoError(t, p.Process(context.Background(), row.ID))
	assert.Len(t, notifier.calls, 2)
	assert.Len(t, notifier.calls[1], 1)
}

func TestProcessDue(t *testing.T) {
	db := setupTestDB(t)
	logger, _ := test.NewNullLogger()
	r := newReservation(t, "reserved")
	_, err := models.ApproveReservation(as(owner), r.ID)
	require.NoError(t, err)

	var pending int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&pending).Error)
	require.EqualValues(t, 3, pending)

	notifier := &fakeNotifier{}
	p := workflow.NewNotificationProcessor(db, logger, notifier)
	n, err := p.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = p.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, notifier.calls, 3)
}

func TestBeginIdempotency(t *testing.T) {
	db := setupTestDB(t)

	skip, err := workflow.BeginIdempotency(db, "notification", "42")
	require.NoError(t, err)
	assert.False(t, skip)

	_, err = workflow.BeginIdempotency(db, "notification", "42")
	assert.ErrorIs(t, err, workflow.ErrIdempotencyInProgress)

	require.NoError(t, workflow.MarkIdempotencyFailed(db, "notification", "42", errTransport))
	skip, err = workflow.BeginIdempotency(db, "notification", "42")
	require.NoError(t, err)
	assert.False(t, skip)

	require.NoError(t, workflow.MarkIdempotencySucceeded(db, "notification", "42"))
	skip, err = workflow.BeginIdempotency(db, "notification", "42")
	require.NoError(t, err)
	assert.True(t, skip)

	skip, err = workflow.BeginIdempotency(db, "other", "42")
	require.NoError(t, err)
	assert.False(t, skip)
}

func TestRetryBackoff(t *testing.T) {
	cfg := workflow.RetryConfig{MaxAttempts: 10, BaseBackoff: 5 * time.Second, MaxBackoff: 10 * time.Minute}
	assert.Equal(t, 5*time.Second, cfg.Backoff(0))
	assert.Equal(t, 5*time.Second, cfg.Backoff(1))
	assert.Equal(t, 10*time.Second, cfg.Backoff(2))
	assert.Equal(t, 40*time.Second, cfg.Backoff(4))
	assert.Equal(t, 10*time.Minute, cfg.Backoff(9))
	assert.Equal(t, 10*time.Minute, cfg.Backoff(200))
}

func TestProcessRetryConfigFromEnv(t *testing.T) {
	t.Setenv("OUTBOX_PROCESS_MAX_ATTEMPTS", "4")
	t.Setenv("OUTBOX_PROCESS_BASE_BACKOFF_SECONDS", "2")
	t.Setenv("OUTBOX_PROCESS_MAX_BACKOFF_SECONDS", "nope")
	cfg := workflow.ProcessRetryConfig()
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.BaseBackoff)
	assert.Equal(t, 10*time.Minute, cfg.MaxBackoff)
}
