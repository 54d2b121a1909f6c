package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/mmdatafocus/lease_backend/models"
	"github.com/mmdatafocus/lease_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpirySweep_CancelsExpiredHoldsOncePerInterval(t *testing.T) {
	db := setupTestDB(t)
	logger, _ := test.NewNullLogger()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	stale := newReservation(t, "pending")
	require.NotNil(t, stale.HoldExpiresAt)
	require.NoError(t, db.Model(&models.Reservation{}).Where("id = ?", stale.ID).
		Update("hold_expires_at", time.Now().UTC().Add(-time.Hour)).Error)

	sweep := &workflow.ExpirySweep{
		Logger:   logger,
		Locker:   redislock.New(client),
		Interval: time.Minute,
		Now:      func() time.Time { return time.Now().UTC() },
	}
	result, err := sweep.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reservations)
	assert.Zero(t, result.Contracts)

	expired, err := models.GetReservation(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusCancelled, expired.Status)
	assert.Equal(t, "expired", expired.CancellationReason)
	assert.Nil(t, expired.HoldExpiresAt)

	var expiredEvents int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("event_name = ? AND aggregate_id = ?", models.EventReservationExpired, stale.ID).
		Count(&expiredEvents).Error)
	assert.EqualValues(t, 1, expiredEvents)

	again, err := sweep.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, workflow.SweepResult{}, again)

	mr.FastForward(2 * time.Minute)
	again, err = sweep.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, workflow.SweepResult{}, again)
}

func TestExpirySweep_WithoutRedisLeavesLiveHolds(t *testing.T) {
	setupTestDB(t)
	logger, _ := test.NewNullLogger()
	live := newReservation(t, "pending")

	sweep := &workflow.ExpirySweep{Logger: logger, Interval: time.Minute, Now: func() time.Time { return time.Now().UTC() }}
	result, err := sweep.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Reservations)

	still, err := models.GetReservation(context.Background(), live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusPending, still.Status)
}
