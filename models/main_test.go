package models

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	tenantActor     = Actor{UserId: "tenant-1", Name: "Aisha", Role: ActorRoleTenant, Phone: "+16502530000"}
	ownerActor      = Actor{UserId: "owner-1", Name: "Hamad", Role: ActorRoleOwner}
	otherOwner      = Actor{UserId: "owner-2", Name: "Said", Role: ActorRoleOwner}
	accountingActor = Actor{UserId: "acc-1", Name: "Accounts", Role: ActorRoleAccounting}
)

// setupTestDB installs a fresh in-memory sqlite database as the global handle.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenDatabase(config.DriverSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, MigrateTable(db))

	prev := config.GetDB()
	config.SetDB(db)
	config.UseRedis(nil)
	t.Cleanup(func() {
		config.SetDB(prev)
		_ = sqlDB.Close()
	})
	return db
}

func as(a Actor) context.Context {
	return ContextWithActor(context.Background(), a)
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func reservationInput() *ReservationInput {
	return &ReservationInput{
		PropertyId:     strPtr("prop-1"),
		UnitId:         strPtr("4B"),
		StartDate:      strPtr("2025-01-01"),
		DurationMonths: intPtr(12),
		MonthlyRent:    decPtr(100),
		DepositAmount:  decPtr(200),
		Customer:       &Party{Name: "Aisha", Phone: "+1 650 253 0000", Email: "Aisha@Example.com"},
		Owner:          &Party{UserId: "owner-1", Name: "Hamad", Email: "hamad@example.com"},
	}
}

func createTestReservation(t *testing.T) *Reservation {
	t.Helper()
	r, err := UpsertReservation(as(tenantActor), reservationInput())
	require.NoError(t, err)
	return r
}

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
