package models

import (
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approvedReservationInvoice(t *testing.T) (*Reservation, *Invoice) {
	t.Helper()
	r := createTestReservation(t)
	_, err := ApproveReservation(as(ownerActor), r.ID)
	require.NoError(t, err)
	invoices, err := ListInvoices(as(ownerActor), InvoiceFilter{ReservationId: r.ID})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	return r, &invoices[0]
}

func TestApplyPayment(t *testing.T) {
	setupTestDB(t)
	r, invoice := approvedReservationInvoice(t)
	ref := strconv.Itoa(invoice.ID)

	_, _, err := ApplyPayment(as(tenantActor), ref, PaymentInput{Amount: decimal.NewFromInt(150), Method: "card"})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = ApplyPayment(as(tenantActor), ref, PaymentInput{Amount: decimal.NewFromInt(200)})
	require.ErrorIs(t, err, ErrValidation)

	stranger := Actor{UserId: "tenant-9", Role: ActorRoleTenant}
	_, _, err = ApplyPayment(as(stranger), ref, PaymentInput{Amount: decimal.NewFromInt(200), Method: "card"})
	require.ErrorIs(t, err, ErrForbiddenActor)

	payment, paid, err := ApplyPayment(as(tenantActor), invoice.InvoiceNumber, PaymentInput{Amount: decimal.NewFromInt(200), Method: "card"})
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatusPaid, paid.Status)
	assert.Equal(t, invoice.ID, payment.InvoiceId)
	assert.Equal(t, "Aisha", payment.PaidBy)

	_, _, err = ApplyPayment(as(accountingActor), ref, PaymentInput{Amount: decimal.NewFromInt(200), Method: "cash"})
	require.ErrorIs(t, err, ErrConflict)

	stored, err := GetInvoicePayment(as(accountingActor), invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "card", stored.Method)

	res, err := GetReservation(as(ownerActor), r.ID)
	require.NoError(t, err)
	assert.True(t, res.DepositPaid)
	assert.Equal(t, invoice.InvoiceNumber, res.DepositReceiptNo)
	assert.Equal(t, "card", res.DepositPaymentMethod)

	_, _, err = ApplyPayment(as(accountingActor), "INV-999999", PaymentInput{Amount: decimal.NewFromInt(1), Method: "cash"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateInvoiceForReservation(t *testing.T) {
	setupTestDB(t)
	r, invoice := approvedReservationInvoice(t)

	_, err := CreateInvoiceForReservation(as(ownerActor), r.ID, ReservationActionApprove)
	require.ErrorIs(t, err, ErrForbiddenActor)

	again, err := CreateInvoiceForReservation(as(accountingActor), r.ID, ReservationActionApprove)
	require.NoError(t, err)
	assert.Equal(t, invoice.ID, again.ID)

	_, err = CreateInvoiceForReservation(as(accountingActor), r.ID, ReservationActionAccountingConfirm)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = CreateInvoiceForReservation(as(accountingActor), r.ID, ReservationActionTenantSign)
	require.ErrorIs(t, err, ErrValidation)

	none, err := GetInvoicePayment(as(accountingActor), invoice.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	unpaid, err := ListInvoices(as(accountingActor), InvoiceFilter{Status: InvoiceStatusUnpaid})
	require.NoError(t, err)
	assert.Len(t, unpaid, 1)

	got, err := GetInvoice(as(accountingActor), invoice.InvoiceNumber)
	require.NoError(t, err)
	assert.Equal(t, invoice.ID, got.ID)
	_, err = GetInvoice(as(accountingActor), "424242")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApproveReservation_NothingDueSkipsInvoice(t *testing.T) {
	db := setupTestDB(t)
	in := reservationInput()
	in.ID = "res-free"
	in.MonthlyRent = decPtr(0)
	in.DepositAmount = nil
	r, err := UpsertReservation(as(tenantActor), in)
	require.NoError(t, err)
	require.True(t, r.TotalAmount.IsZero())

	approved, err := ApproveReservation(as(ownerActor), r.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatusApproved, approved.Status)

	assert.Zero(t, countRows(t, db, &Invoice{}, "reservation_id = ?", r.ID))
	assert.Zero(t, countRows(t, db, &OutboxEvent{}, "event_name = ?", EventInvoiceIssued))
	assert.NotZero(t, countRows(t, db, &OutboxEvent{}, "event_name = ?", EventReservationApproved))

	_, err = CreateInvoiceForReservation(as(accountingActor), r.ID, ReservationActionApprove)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Zero(t, countRows(t, db, &Invoice{}, "reservation_id = ?", r.ID))
}
