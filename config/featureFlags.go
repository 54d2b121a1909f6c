package config

import (
	"os"
	"strings"
	"time"
)

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	default:
		return def
	}
}

// PubSubEnabled reports whether outbox rows are published to Pub/Sub (PUBSUB_TOPIC set).
func PubSubEnabled() bool {
	return strings.TrimSpace(os.Getenv("PUBSUB_TOPIC")) != ""
}

// OutboxDirectProcessing runs the in-process outbox worker.
// Default: on. It doubles as a backup worker when Pub/Sub delivery is misconfigured;
// processing is guarded by idempotency keys so at-least-once delivery is safe.
//
// Set OUTBOX_DIRECT_PROCESSING=false to disable.
func OutboxDirectProcessing() bool {
	return envBool("OUTBOX_DIRECT_PROCESSING", true)
}

// ExpirySweepEnabled toggles the periodic expiry sweep (EXPIRY_SWEEP_ENABLED, default true).
func ExpirySweepEnabled() bool {
	return envBool("EXPIRY_SWEEP_ENABLED", true)
}

// SweepInterval is SWEEP_INTERVAL_MINUTES, default 15.
func SweepInterval() time.Duration {
	return time.Duration(intFromEnv("SWEEP_INTERVAL_MINUTES", 15)) * time.Minute
}

// ReservationHoldWindow is how long a pending reservation holds its unit (RESERVATION_HOLD_HOURS, default 48).
func ReservationHoldWindow() time.Duration {
	return time.Duration(intFromEnv("RESERVATION_HOLD_HOURS", 48)) * time.Hour
}

// SignatureWindow is how long a tenant has to sign a sent contract (SIGNATURE_WINDOW_DAYS, default 14).
func SignatureWindow() time.Duration {
	return time.Duration(intFromEnv("SIGNATURE_WINDOW_DAYS", 14)) * 24 * time.Hour
}

// InvoiceDueDays is the due date offset for issued invoices (INVOICE_DUE_DAYS, default 7).
func InvoiceDueDays() int {
	return intFromEnv("INVOICE_DUE_DAYS", 7)
}

// PhoneRegion is the default region for parsing local phone numbers (PHONE_REGION, default OM).
func PhoneRegion() string {
	v := strings.ToUpper(strings.TrimSpace(os.Getenv("PHONE_REGION")))
	if v == "" {
		return "OM"
	}
	return v
}

// DefaultCurrency is DEFAULT_CURRENCY, default OMR.
func DefaultCurrency() string {
	v := strings.ToUpper(strings.TrimSpace(os.Getenv("DEFAULT_CURRENCY")))
	if v == "" {
		return "OMR"
	}
	return v
}

// AccountingInbox is the address copied on back-office notifications.
func AccountingInbox() string {
	return strings.TrimSpace(os.Getenv("NOTIFY_ACCOUNTING_EMAIL"))
}
