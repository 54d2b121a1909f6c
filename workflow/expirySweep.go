package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/models"
	"github.com/sirupsen/logrus"
)

const sweepLockKey = "lock:expiry-sweep"

type SweepResult struct {
	Reservations int `json:"reservations"`
	Contracts    int `json:"contracts"`
}

// ExpirySweep cancels pending reservations past their hold and contracts past their
// signature deadline. Only one replica sweeps at a time when redis is available.
type ExpirySweep struct {
	Logger   *logrus.Logger
	Locker   *redislock.Client
	Interval time.Duration
	Now      func() time.Time
}

func NewExpirySweep(logger *logrus.Logger) *ExpirySweep {
	return &ExpirySweep{
		Logger:   logger,
		Locker:   config.GetRedisLock(),
		Interval: config.SweepInterval(),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce sweeps once. It returns (zero, nil) when another replica holds the sweep lock.
func (s *ExpirySweep) RunOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	if s.Locker != nil {
		// Not released: it expires with the interval so replicas with skewed tickers
		// do not sweep twice in one period.
		_, err := s.Locker.Obtain(ctx, sweepLockKey, s.Interval, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return result, nil
		}
		if err != nil {
			config.LogWarn(s.Logger, "ExpirySweep", "RunOnce", "obtaining sweep lock; sweeping anyway", nil, err)
		}
	}

	ctx = models.ContextWithActor(ctx, models.SystemActor())
	now := s.Now()

	n, err := models.ExpireStaleReservations(ctx, now)
	result.Reservations = n
	if err != nil {
		return result, err
	}
	n, err = models.ExpireStaleContracts(ctx, now)
	result.Contracts = n
	if err != nil {
		return result, err
	}
	if result.Reservations > 0 || result.Contracts > 0 {
		s.Logger.WithFields(logrus.Fields{
			"field":        "ExpirySweep",
			"reservations": result.Reservations,
			"contracts":    result.Contracts,
		}).Info("expired stale records")
	}
	return result, nil
}

func (s *ExpirySweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			config.LogError(s.Logger, "ExpirySweep", "Run", "sweeping", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
