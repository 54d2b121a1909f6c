package models

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/sirupsen/logrus"
)

const recordLockTTL = 15 * time.Second

// Locks are always taken reservation first, then contract, then invoice. Redis keys and
// row locks follow the same order so two workflows touching both records cannot deadlock.
func reservationLockKey(id string) string { return "lock:reservation:" + id }

func contractLockKey(id string) string { return "lock:contract:" + id }

// obtainRecordLock takes a best-effort redis lock. The row lock taken inside the
// transaction stays authoritative, so failures here only cost contention.
func obtainRecordLock(ctx context.Context, key string) func() {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}
	}
	logger := config.GetLogger()
	lock, err := locker.Obtain(ctx, key, recordLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 60),
	})
	if err != nil {
		logger.WithFields(logrus.Fields{
			"field":    "obtainRecordLock",
			"lock_key": key,
		}).Warn("proceeding without redis lock: " + err.Error())
		return func() {}
	}
	return func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil && releaseErr != redislock.ErrLockNotHeld {
			logger.WithFields(logrus.Fields{
				"field":    "obtainRecordLock",
				"lock_key": key,
			}).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}
}
