package workflow

import (
	"math"
	"os"
	"strconv"
	"time"
)

type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// ProcessRetryConfig reads OUTBOX_PROCESS_MAX_ATTEMPTS, OUTBOX_PROCESS_BASE_BACKOFF_SECONDS
// and OUTBOX_PROCESS_MAX_BACKOFF_SECONDS.
func ProcessRetryConfig() RetryConfig {
	cfg := RetryConfig{
		MaxAttempts: 10,
		BaseBackoff: 5 * time.Second,
		MaxBackoff:  10 * time.Minute,
	}
	if v := os.Getenv("OUTBOX_PROCESS_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxAttempts = n
		}
	}
	if v := os.Getenv("OUTBOX_PROCESS_BASE_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BaseBackoff = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("OUTBOX_PROCESS_MAX_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxBackoff = time.Duration(n) * time.Second
		}
	}
	return cfg
}

// Backoff is base * 2^(attempt-1), capped.
func (cfg RetryConfig) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return cfg.BaseBackoff
	}
	delay := time.Duration(float64(cfg.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if delay > cfg.MaxBackoff || delay <= 0 {
		return cfg.MaxBackoff
	}
	return delay
}
