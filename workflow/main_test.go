package workflow_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/models"
	"github.com/mmdatafocus/lease_backend/notify"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	tenant = models.Actor{UserId: "tenant-1", Name: "Aisha", Role: models.ActorRoleTenant}
	owner  = models.Actor{UserId: "owner-1", Name: "Hamad", Role: models.ActorRoleOwner}
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	t.Setenv("NOTIFY_ACCOUNTING_EMAIL", "")
	db, err := config.OpenDatabase(config.DriverSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.MigrateTable(db))

	prev := config.GetDB()
	config.SetDB(db)
	config.UseRedis(nil)
	t.Cleanup(func() {
		config.SetDB(prev)
		_ = sqlDB.Close()
	})
	return db
}

func as(a models.Actor) context.Context {
	return models.ContextWithActor(context.Background(), a)
}

func newReservation(t *testing.T, status string) *models.Reservation {
	t.Helper()
	property, start, months, rent, deposit := "prop-1", "2025-01-01", 12, decimal.NewFromInt(100), decimal.NewFromInt(200)
	r, err := models.UpsertReservation(as(tenant), &models.ReservationInput{
		PropertyId:     &property,
		StartDate:      &start,
		DurationMonths: &months,
		MonthlyRent:    &rent,
		DepositAmount:  &deposit,
		Status:         &status,
		Customer:       &models.Party{Name: "Aisha", Phone: "+1 650 253 0000", Email: "aisha@example.com"},
		Owner:          &models.Party{UserId: "owner-1", Name: "Hamad", Email: "hamad@example.com"},
	})
	require.NoError(t, err)
	return r
}

func outboxRow(t *testing.T, db *gorm.DB, event, aggregateId string) models.OutboxEvent {
	t.Helper()
	var row models.OutboxEvent
	require.NoError(t, db.Where("event_name = ? AND aggregate_id = ?", event, aggregateId).Take(&row).Error)
	return row
}

// fakeNotifier fails the recipients whose key is in fail and records every call.
type fakeNotifier struct {
	fail  map[string]bool
	calls [][]models.Recipient
}

func (f *fakeNotifier) Notify(ctx context.Context, event string, recipients []models.Recipient, templateName string, data map[string]string) []notify.Outcome {
	f.calls = append(f.calls, recipients)
	out := make([]notify.Outcome, 0, len(recipients))
	for _, r := range recipients {
		if f.fail[r.Key()] {
			out = append(out, notify.Outcome{Recipient: r, Status: notify.OutcomeFailed, Err: errTransport})
			continue
		}
		out = append(out, notify.Outcome{Recipient: r, Status: notify.OutcomeSent})
	}
	return out
}
