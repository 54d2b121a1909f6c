package models

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/lease_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InvoiceStatus string

const (
	InvoiceStatusUnpaid InvoiceStatus = "unpaid"
	InvoiceStatusPaid   InvoiceStatus = "paid"
)

// Invoice is created as a side effect of approval or accounting confirmation.
// IdempotencyKey (<reservationId>:<transition>) keeps retries from issuing a second one.
type Invoice struct {
	ID               int             `gorm:"primary_key" json:"id"`
	InvoiceNumber    string          `gorm:"size:32;not null;uniqueIndex" json:"invoice_number"`
	IdempotencyKey   string          `gorm:"size:120;not null;uniqueIndex" json:"idempotency_key"`
	ReservationId    string          `gorm:"size:64;not null;index" json:"reservation_id"`
	ContractId       string          `gorm:"size:64;index" json:"contract_id,omitempty"`
	SourceTransition string          `gorm:"size:40;not null" json:"source_transition"`
	PropertyId       string          `gorm:"size:64;index" json:"property_id"`
	CustomerName     string          `gorm:"size:150" json:"customer_name"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency         string          `gorm:"size:3;not null" json:"currency"`
	Status           InvoiceStatus   `gorm:"size:10;not null;index" json:"status"`
	DueDate          *time.Time      `json:"due_date,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Invoice) RetainRecords() bool { return true }

type Payment struct {
	ID        int             `gorm:"primary_key" json:"id"`
	InvoiceId int             `gorm:"not null;uniqueIndex" json:"invoice_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency  string          `gorm:"size:3;not null" json:"currency"`
	Method    string          `gorm:"size:32;not null" json:"method"`
	Note      string          `gorm:"type:text" json:"note,omitempty"`
	PaidBy    string          `gorm:"size:150" json:"paid_by"`
	PaidAt    time.Time       `gorm:"not null" json:"paid_at"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (Payment) RetainRecords() bool { return true }

type PaymentInput struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,len=3"`
	Method   string          `json:"method" validate:"required,max=32"`
	Note     string          `json:"note" validate:"omitempty,max=1000"`
}

func invoiceKey(reservationId, transition string) string {
	return reservationId + ":" + transition
}

// approvalAmount is the deposit when one is set, else the full lease amount.
func approvalAmount(r *Reservation) decimal.Decimal {
	if r.DepositAmount != nil && r.DepositAmount.IsPositive() {
		return *r.DepositAmount
	}
	return r.TotalAmount
}

// createInvoiceForReservation issues the invoice for one transition inside tx. An invoice
// that already exists under the same key is returned with created=false.
func createInvoiceForReservation(tx *gorm.DB, r *Reservation, transition string, amount decimal.Decimal) (*Invoice, bool, error) {
	key := invoiceKey(r.ID, transition)
	var existing Invoice
	err := tx.Where("idempotency_key = ?", key).Take(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	n, err := nextSequence(tx, sequenceInvoice)
	if err != nil {
		return nil, false, err
	}
	due := time.Now().UTC().AddDate(0, 0, config.InvoiceDueDays())
	invoice := Invoice{
		InvoiceNumber:    formatSerial("INV", n),
		IdempotencyKey:   key,
		ReservationId:    r.ID,
		SourceTransition: transition,
		PropertyId:       r.PropertyId,
		CustomerName:     r.Customer.Name,
		Amount:           amount,
		Currency:         r.Currency,
		Status:           InvoiceStatusUnpaid,
		DueDate:          &due,
	}
	if r.ContractSnapshot != nil {
		invoice.ContractId = r.ContractSnapshot.ContractId
	}
	if err := tx.Create(&invoice).Error; err != nil {
		if IsDuplicateKeyErr(err) {
			return nil, false, conflictError("invoice for %s already issued", key)
		}
		return nil, false, err
	}
	if err := createHistory(tx, ActorFromContext(tx.Statement.Context), historyEntry{
		referenceType: "invoice",
		referenceId:   strconv.Itoa(invoice.ID),
		action:        "create",
		to:            string(invoice.Status),
		after:         invoice,
		description:   "Invoice " + invoice.InvoiceNumber + " issued for reservation " + r.Serial,
	}); err != nil {
		return nil, false, err
	}
	return &invoice, true, nil
}

func invoicedTotal(tx *gorm.DB, reservationId string) (decimal.Decimal, error) {
	var invoices []Invoice
	if err := tx.Where("reservation_id = ?", reservationId).Find(&invoices).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, inv := range invoices {
		total = total.Add(inv.Amount)
	}
	return total, nil
}

// CreateInvoiceForReservation (re)issues the invoice of a transition the reservation has
// already gone through. Calling it again returns the same invoice.
func CreateInvoiceForReservation(ctx context.Context, reservationId string, transition ReservationAction) (*Invoice, error) {
	actor := ActorFromContext(ctx)
	if !actor.IsStaff() && actor.Role != ActorRoleSystem {
		return nil, forbiddenActor("invoice", "create", "", "accounting staff")
	}
	var result *Invoice
	created := false
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r Reservation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ? OR serial = ?", reservationId, reservationId).Take(&r).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("reservation", reservationId)
			}
			return err
		}
		var amount decimal.Decimal
		switch transition {
		case ReservationActionApprove:
			if !r.Status.Reached(ReservationStatusApproved) {
				return invalidTransition("invoice", string(transition), string(r.Status), "reservation is not approved")
			}
			amount = approvalAmount(&r)
			if !amount.IsPositive() {
				var existing Invoice
				err := tx.Where("idempotency_key = ?", invoiceKey(r.ID, string(transition))).Take(&existing).Error
				if err == nil {
					result = &existing
					return nil
				}
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
				return conflictError("reservation %s has nothing to invoice on approval", r.Serial)
			}
		case ReservationActionAccountingConfirm:
			if !r.Status.Reached(ReservationStatusAccounting) {
				return invalidTransition("invoice", string(transition), string(r.Status), "reservation is not confirmed by accounting")
			}
			var existing Invoice
			err := tx.Where("idempotency_key = ?", invoiceKey(r.ID, string(transition))).Take(&existing).Error
			if err == nil {
				result = &existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			invoiced, err := invoicedTotal(tx, r.ID)
			if err != nil {
				return err
			}
			amount = r.TotalAmount.Sub(invoiced)
			if !amount.IsPositive() {
				return conflictError("reservation %s has no uninvoiced balance", r.Serial)
			}
		default:
			return newValidationError("invoices are only issued on approve or accountingConfirm", map[string]string{"transition": "oneof approve accountingConfirm"})
		}
		invoice, isNew, err := createInvoiceForReservation(tx, &r, string(transition), amount)
		if err != nil {
			return err
		}
		result, created = invoice, isNew
		if isNew {
			return EnqueueNotification(ctx, tx, invoiceEvent(EventInvoiceIssued, invoice, &r))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		signalOutbox()
	}
	return result, nil
}

// ApplyPayment records the single payment of an invoice and marks it paid.
func ApplyPayment(ctx context.Context, invoiceRef string, input PaymentInput) (*Payment, *Invoice, error) {
	input.Method = strings.TrimSpace(input.Method)
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	fields, err := validateInput(&input)
	if err != nil {
		return nil, nil, err
	}
	if !input.Amount.IsPositive() {
		fields["amount"] = "gt=0"
	}
	if len(fields) > 0 {
		return nil, nil, newValidationError("invalid payment", fields)
	}

	ctx, span := tracer.Start(ctx, "invoice.pay")
	defer span.End()

	actor := ActorFromContext(ctx)
	var payment Payment
	var invoice Invoice
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if id, convErr := strconv.Atoi(invoiceRef); convErr == nil {
			q = q.Where("id = ?", id)
		} else {
			q = q.Where("invoice_number = ?", invoiceRef)
		}
		if err := q.Take(&invoice).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("invoice", invoiceRef)
			}
			return err
		}
		// reservation row before the invoice row
		var r Reservation
		if invoice.ReservationId != "" {
			locked, err := lockReservation(tx, invoice.ReservationId)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if locked != nil {
				r = *locked
			}
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", invoice.ID).Take(&invoice).Error; err != nil {
			return err
		}
		if !actor.IsStaff() && actor.Role != ActorRoleSystem && !r.Customer.IsActor(actor) {
			return forbiddenActor("invoice", "pay", string(invoice.Status), "tenant or accounting staff")
		}
		if invoice.Status == InvoiceStatusPaid {
			return conflictError("invoice %s is already paid", invoice.InvoiceNumber)
		}
		if !input.Amount.Equal(invoice.Amount) {
			return newValidationError("payment must settle the invoice in full", map[string]string{"amount": "eq=" + invoice.Amount.String()})
		}
		if input.Currency != "" && input.Currency != invoice.Currency {
			return newValidationError("currency mismatch", map[string]string{"currency": "eq=" + invoice.Currency})
		}

		now := time.Now().UTC()
		payment = Payment{
			InvoiceId: invoice.ID,
			Amount:    input.Amount,
			Currency:  invoice.Currency,
			Method:    input.Method,
			Note:      input.Note,
			PaidBy:    actor.label(),
			PaidAt:    now,
		}
		if err := tx.Create(&payment).Error; err != nil {
			if IsDuplicateKeyErr(err) {
				return conflictError("invoice %s is already paid", invoice.InvoiceNumber)
			}
			return err
		}
		before := invoice
		invoice.Status = InvoiceStatusPaid
		invoice.PaidAt = &now
		if err := tx.Model(&Invoice{}).Where("id = ?", invoice.ID).
			Updates(map[string]interface{}{"status": InvoiceStatusPaid, "paid_at": now}).Error; err != nil {
			return err
		}
		if err := createHistory(tx, actor, historyEntry{
			referenceType: "invoice",
			referenceId:   strconv.Itoa(invoice.ID),
			action:        "pay",
			from:          string(before.Status),
			to:            string(invoice.Status),
			before:        before,
			after:         payment,
			description:   "Invoice " + invoice.InvoiceNumber + " paid by " + input.Method,
		}); err != nil {
			return err
		}
		if invoice.SourceTransition == string(ReservationActionApprove) && r.ID != "" {
			if err := tx.Model(&Reservation{}).Where("id = ?", r.ID).Updates(map[string]interface{}{
				"deposit_paid":           true,
				"deposit_receipt_no":     invoice.InvoiceNumber,
				"deposit_payment_method": input.Method,
			}).Error; err != nil {
				return err
			}
		}
		return EnqueueNotification(ctx, tx, invoiceEvent(EventPaymentReceived, &invoice, &r))
	})
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	signalOutbox()
	return &payment, &invoice, nil
}

// GetInvoice accepts the numeric id or the invoice number.
func GetInvoice(ctx context.Context, ref string) (*Invoice, error) {
	db := config.GetDB().WithContext(ctx)
	if id, err := strconv.Atoi(ref); err == nil {
		db = db.Where("id = ?", id)
	} else {
		db = db.Where("invoice_number = ?", ref)
	}
	var invoice Invoice
	if err := db.Take(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("invoice", ref)
		}
		return nil, err
	}
	return &invoice, nil
}

func GetInvoicePayment(ctx context.Context, invoiceId int) (*Payment, error) {
	var p Payment
	err := config.GetDB().WithContext(ctx).Where("invoice_id = ?", invoiceId).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type InvoiceFilter struct {
	ReservationId string
	Status        InvoiceStatus
}

func ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	db := config.GetDB().WithContext(ctx)
	if filter.ReservationId != "" {
		db = db.Where("reservation_id = ?", filter.ReservationId)
	}
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	var rows []Invoice
	err := db.Order("id").Find(&rows).Error
	return rows, err
}

func invoiceEvent(name string, invoice *Invoice, r *Reservation) NotificationEvent {
	recipients := append(recipientsFor(r.Customer, ActorRoleTenant), staffRecipients()...)
	data := map[string]string{
		"invoiceId":     strconv.Itoa(invoice.ID),
		"invoiceNumber": invoice.InvoiceNumber,
		"reservationId": invoice.ReservationId,
		"serial":        r.Serial,
		"customerName":  invoice.CustomerName,
		"amount":        invoice.Amount.StringFixed(3),
		"currency":      invoice.Currency,
		"status":        string(invoice.Status),
	}
	if invoice.DueDate != nil {
		data["dueDate"] = invoice.DueDate.Format("2006-01-02")
	}
	return NotificationEvent{
		Name:          name,
		AggregateType: "invoice",
		AggregateId:   strconv.Itoa(invoice.ID),
		Recipients:    recipients,
		Data:          data,
	}
}
