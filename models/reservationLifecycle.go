package models

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/lease_backend/config"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("lease_backend/models")

type ReservationAction string

const (
	ReservationActionApprove            ReservationAction = "approve"
	ReservationActionReject             ReservationAction = "reject"
	ReservationActionTenantSign         ReservationAction = "tenantSign"
	ReservationActionAccountingConfirm  ReservationAction = "accountingConfirm"
	ReservationActionManagementHandover ReservationAction = "managementHandover"
	ReservationActionCancel             ReservationAction = "cancel"
	reservationActionExpire             ReservationAction = "expire"
)

type ReservationActionInput struct {
	Action       ReservationAction `json:"action"`
	Reason       string            `json:"reason" validate:"omitempty,max=255"`
	SignatureRef string            `json:"signature_ref" validate:"omitempty,max=255"`
}

// reservationChange describes a committed mutation. A nil change means the action's
// effect was already present and nothing is written.
type reservationChange struct {
	description string
	events      []NotificationEvent
}

type reservationMutation func(tx *gorm.DB, r *Reservation, actor Actor) (*reservationChange, error)

// mutateReservation runs fn against a row-locked copy of the reservation and persists
// the result, its audit row and its outbox events in one transaction.
func mutateReservation(ctx context.Context, id string, action string, fn reservationMutation) (*Reservation, error) {
	ctx, span := tracer.Start(ctx, "reservation."+action)
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", id))

	release := obtainRecordLock(ctx, reservationLockKey(id))
	defer release()
	if contractId := linkedContractId(ctx, id); contractId != "" {
		releaseContract := obtainRecordLock(ctx, contractLockKey(contractId))
		defer releaseContract()
	}

	actor := ActorFromContext(ctx)
	var result Reservation
	committed := false
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockReservation(tx, id)
		if err != nil {
			return err
		}
		r := *locked
		before, _ := json.Marshal(r)
		from := r.Status

		change, err := fn(tx, &r, actor)
		if err != nil {
			return err
		}
		result = r
		if change == nil {
			return nil
		}
		if err := tx.Save(&r).Error; err != nil {
			return err
		}
		if err := createHistory(tx, actor, historyEntry{
			referenceType: "reservation",
			referenceId:   r.ID,
			action:        action,
			from:          string(from),
			to:            string(r.Status),
			before:        json.RawMessage(before),
			after:         r,
			description:   change.description,
		}); err != nil {
			return err
		}
		for _, evt := range change.events {
			if err := EnqueueNotification(ctx, tx, evt); err != nil {
				return err
			}
		}
		result = r
		committed = len(change.events) > 0
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if committed {
		signalOutbox()
	}
	return &result, nil
}

func lockReservation(tx *gorm.DB, id string) (*Reservation, error) {
	var r Reservation
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("reservation", id)
		}
		return nil, err
	}
	return &r, nil
}

// linkedContractId reads the contract a reservation points at without locking anything.
func linkedContractId(ctx context.Context, id string) string {
	var r Reservation
	err := config.GetDB().WithContext(ctx).Select("id", "contract_snapshot").Where("id = ?", id).Take(&r).Error
	if err != nil || r.ContractSnapshot == nil {
		return ""
	}
	return r.ContractSnapshot.ContractId
}

// ApplyReservationAction resolves idOrSerial and applies one named action.
func ApplyReservationAction(ctx context.Context, idOrSerial string, input ReservationActionInput) (*Reservation, error) {
	input.Reason = strings.TrimSpace(input.Reason)
	if fields, err := validateInput(&input); err != nil {
		return nil, err
	} else if len(fields) > 0 {
		return nil, newValidationError("invalid action", fields)
	}
	r, err := GetReservation(ctx, idOrSerial)
	if err != nil {
		return nil, err
	}
	var fn reservationMutation
	switch input.Action {
	case ReservationActionApprove:
		fn = approveReservation
	case ReservationActionReject:
		if input.Reason == "" {
			return nil, newValidationError("a reason is required to reject", map[string]string{"reason": "required"})
		}
		fn = rejectReservation(input.Reason)
	case ReservationActionTenantSign:
		fn = tenantSignReservation(input.SignatureRef)
	case ReservationActionAccountingConfirm:
		fn = accountingConfirmReservation
	case ReservationActionManagementHandover:
		fn = managementHandover
	case ReservationActionCancel:
		fn = cancelReservation(input.Reason)
	default:
		return nil, newValidationError("unknown action", map[string]string{"action": "oneof approve reject tenantSign accountingConfirm managementHandover cancel"})
	}
	return mutateReservation(ctx, r.ID, string(input.Action), fn)
}

func ApproveReservation(ctx context.Context, idOrSerial string) (*Reservation, error) {
	return ApplyReservationAction(ctx, idOrSerial, ReservationActionInput{Action: ReservationActionApprove})
}

func RejectReservation(ctx context.Context, idOrSerial, reason string) (*Reservation, error) {
	return ApplyReservationAction(ctx, idOrSerial, ReservationActionInput{Action: ReservationActionReject, Reason: reason})
}

// actsAsOwner is true for the named owner, or for an admin when no owner is recorded.
func (r *Reservation) actsAsOwner(actor Actor) bool {
	if r.Owner.IsEmpty() {
		return actor.Role == ActorRoleAdmin
	}
	return r.Owner.IsActor(actor)
}

func approveReservation(tx *gorm.DB, r *Reservation, actor Actor) (*reservationChange, error) {
	action := string(ReservationActionApprove)
	if !r.actsAsOwner(actor) {
		return nil, forbiddenActor("reservation", action, string(r.Status), "owner")
	}
	if r.Status.Reached(ReservationStatusApproved) {
		return nil, nil
	}
	if r.Status != ReservationStatusPending && r.Status != ReservationStatusReserved {
		return nil, invalidTransition("reservation", action, string(r.Status), "")
	}
	now := time.Now().UTC()
	r.Status = ReservationStatusApproved
	r.OwnerDecision = &OwnerDecision{Approved: true, DecidedAt: now, DecidedBy: actor.label()}
	r.HoldExpiresAt = nil

	change := &reservationChange{
		description: "Reservation " + r.Serial + " approved",
		events:      []NotificationEvent{reservationEvent(EventReservationApproved, r, "")},
	}
	// nothing is due on approval for a free booking
	if amount := approvalAmount(r); amount.IsPositive() {
		invoice, created, err := createInvoiceForReservation(tx, r, action, amount)
		if err != nil {
			return nil, err
		}
		if created {
			change.events = append(change.events, invoiceEvent(EventInvoiceIssued, invoice, r))
		}
	}
	// the tenant may have accepted the linked contract before the owner approved
	if s := r.ContractSnapshot; s != nil && s.TenantAccepted {
		at := now
		if s.TenantAcceptedAt != nil {
			at = *s.TenantAcceptedAt
		}
		tenant := Actor{UserId: r.Customer.UserId, Name: r.Customer.Name, Role: ActorRoleTenant}
		markReservationSigned(r, tenant, "contract:"+s.ContractNumber, at)
		change.events = append(change.events, reservationEvent(EventReservationSigned, r, ""))
	}
	return change, nil
}

func rejectReservation(reason string) reservationMutation {
	return func(tx *gorm.DB, r *Reservation, actor Actor) (*reservationChange, error) {
		action := string(ReservationActionReject)
		if !r.actsAsOwner(actor) {
			return nil, forbiddenActor("reservation", action, string(r.Status), "owner")
		}
		if r.Status == ReservationStatusCancelled && r.OwnerDecision != nil && !r.OwnerDecision.Approved {
			return nil, nil
		}
		if r.Status != ReservationStatusPending && r.Status != ReservationStatusReserved {
			return nil, invalidTransition("reservation", action, string(r.Status), "")
		}
		now := time.Now().UTC()
		r.Status = ReservationStatusCancelled
		r.OwnerDecision = &OwnerDecision{Approved: false, Reason: reason, DecidedAt: now, DecidedBy: actor.label()}
		r.CancellationReason = reason
		r.CancelledAt = &now
		r.HoldExpiresAt = nil
		return &reservationChange{
			description: "Reservation " + r.Serial + " rejected: " + reason,
			events:      []NotificationEvent{reservationEvent(EventReservationRejected, r, reason)},
		}, nil
	}
}

func tenantSignReservation(signatureRef string) reservationMutation {
	return func(tx *gorm.DB, r *Reservation, actor Actor) (*reservationChange, error) {
		action := string(ReservationActionTenantSign)
		if !r.Customer.IsActor(actor) {
			return nil, forbiddenActor("reservation", action, string(r.Status), "tenant")
		}
		if r.Status.Reached(ReservationStatusLeased) {
			return nil, nil
		}
		if r.Status != ReservationStatusApproved {
			return nil, invalidTransition("reservation", action, string(r.Status), "owner approval is required first")
		}
		now := time.Now().UTC()
		markReservationSigned(r, actor, signatureRef, now)
		if r.ContractSnapshot != nil && r.ContractSnapshot.ContractId != "" {
			if err := acceptLinkedContract(tx, r.ContractSnapshot.ContractId, actor, now); err != nil {
				return nil, err
			}
		}
		return &reservationChange{
			description: "Reservation " + r.Serial + " signed by tenant",
			events:      []NotificationEvent{reservationEvent(EventReservationSigned, r, "")},
		}, nil
	}
}

func markReservationSigned(r *Reservation, actor Actor, signatureRef string, at time.Time) {
	r.Status = ReservationStatusLeased
	r.SignedBy = actor.label()
	r.SignedAt = &at
	if signatureRef != "" {
		r.SignatureRef = signatureRef
	}
	if r.ContractSnapshot != nil {
		snapshot := *r.ContractSnapshot
		snapshot.TenantAccepted = true
		snapshot.TenantAcceptedAt = &at
		r.ContractSnapshot = &snapshot
	}
}

func accountingConfirmReservation(tx *gorm.DB, r *Reservation, actor Actor) (*reservationChange, error) {
	action := string(ReservationActionAccountingConfirm)
	if actor.Role != ActorRoleAccounting && actor.Role != ActorRoleAdmin {
		return nil, forbiddenActor("reservation", action, string(r.Status), "accounting staff")
	}
	if r.Status.Reached(ReservationStatusAccounting) {
		return nil, nil
	}
	if r.Status != ReservationStatusLeased || r.SignedAt == nil {
		return nil, invalidTransition("reservation", action, string(r.Status), "the tenant has not signed")
	}
	if r.ContractSnapshot != nil && !r.ContractSnapshot.TenantAccepted {
		return nil, invalidTransition("reservation", action, string(r.Status), "the contract is not accepted by the tenant")
	}
	now := time.Now().UTC()
	r.Status = ReservationStatusAccounting
	r.AccountingConfirmedBy = actor.label()
	r.AccountingConfirmedAt = &now

	change := &reservationChange{
		description: "Reservation " + r.Serial + " confirmed by accounting",
		events:      []NotificationEvent{reservationEvent(EventReservationConfirmed, r, "")},
	}
	invoiced, err := invoicedTotal(tx, r.ID)
	if err != nil {
		return nil, err
	}
	balance := r.TotalAmount.Sub(invoiced)
	if balance.GreaterThan(decimal.Zero) {
		invoice, created, err := createInvoiceForReservation(tx, r, action, balance)
		if err != nil {
			return nil, err
		}
		if created {
			change.events = append(change.events, invoiceEvent(EventInvoiceIssued, invoice, r))
		}
	}
	return change, nil
}

func managementHandover(tx *gorm.DB, r *Reservation, actor Actor) (*reservationChange, error) {
	action := string(ReservationActionManagementHandover)
	if actor.Role != ActorRoleAccounting && actor.Role != ActorRoleAdmin {
		return nil, forbiddenActor("reservation", action, string(r.Status), "accounting staff")
	}
	if r.Status == ReservationStatusManagement {
		return nil, nil
	}
	if r.Status != ReservationStatusAccounting {
		return nil, invalidTransition("reservation", action, string(r.Status), "accounting confirmation is required first")
	}
	now := time.Now().UTC()
	r.Status = ReservationStatusManagement
	r.HandedOverAt = &now
	return &reservationChange{description: "Reservation " + r.Serial + " handed over to management"}, nil
}

func cancelReservation(reason string) reservationMutation {
	return func(tx *gorm.DB, r *Reservation, actor Actor) (*reservationChange, error) {
		action := string(ReservationActionCancel)
		if !actor.IsStaff() && actor.Role != ActorRoleSystem && !r.Customer.IsActor(actor) && !r.actsAsOwner(actor) {
			return nil, forbiddenActor("reservation", action, string(r.Status), "tenant, owner or staff")
		}
		if r.Status == ReservationStatusCancelled {
			return nil, nil
		}
		if r.Status.IsTerminal() {
			return nil, invalidTransition("reservation", action, string(r.Status), "")
		}
		return closeReservation(tx, r, actor, reason, EventReservationCancelled)
	}
}

func expireReservation(now time.Time) reservationMutation {
	return func(tx *gorm.DB, r *Reservation, actor Actor) (*reservationChange, error) {
		if r.Status != ReservationStatusPending || r.HoldExpiresAt == nil || r.HoldExpiresAt.After(now) {
			return nil, nil
		}
		return closeReservation(tx, r, actor, "expired", EventReservationExpired)
	}
}

func closeReservation(tx *gorm.DB, r *Reservation, actor Actor, reason, event string) (*reservationChange, error) {
	now := time.Now().UTC()
	r.Status = ReservationStatusCancelled
	r.CancellationReason = reason
	r.CancelledAt = &now
	r.HoldExpiresAt = nil
	if r.ContractSnapshot != nil && r.ContractSnapshot.ContractId != "" {
		if err := cancelLinkedContract(tx, r.ContractSnapshot.ContractId, actor, reason); err != nil {
			return nil, err
		}
	}
	description := "Reservation " + r.Serial + " cancelled"
	if reason != "" {
		description += ": " + reason
	}
	return &reservationChange{
		description: description,
		events:      []NotificationEvent{reservationEvent(event, r, reason)},
	}, nil
}

// ExpireStaleReservations cancels pending reservations whose hold window has passed.
func ExpireStaleReservations(ctx context.Context, now time.Time) (int, error) {
	var ids []string
	err := config.GetDB().WithContext(ctx).
		Model(&Reservation{}).
		Where("status = ? AND hold_expires_at IS NOT NULL AND hold_expires_at < ?", ReservationStatusPending, now).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	ctx = ContextWithActor(ctx, SystemActor())
	expired := 0
	for _, id := range ids {
		r, err := mutateReservation(ctx, id, string(reservationActionExpire), expireReservation(now))
		if err != nil {
			config.LogError(config.GetLogger(), "Reservation", "ExpireStaleReservations", "expire", id, err)
			continue
		}
		if r.Status == ReservationStatusCancelled {
			expired++
		}
	}
	return expired, nil
}

func reservationEvent(name string, r *Reservation, reason string) NotificationEvent {
	recipients := append(recipientsFor(r.Customer, ActorRoleTenant), recipientsFor(r.Owner, ActorRoleOwner)...)
	if name == EventReservationConfirmed || name == EventReservationCreated {
		recipients = append(recipients, staffRecipients()...)
	}
	data := map[string]string{
		"reservationId": r.ID,
		"serial":        r.Serial,
		"propertyId":    r.PropertyId,
		"unitId":        r.UnitId,
		"status":        string(r.Status),
		"customerName":  r.Customer.Name,
		"ownerName":     r.Owner.Name,
		"totalAmount":   r.TotalAmount.StringFixed(3),
		"currency":      r.Currency,
		"reason":        reason,
	}
	if r.StartDate != nil {
		data["startDate"] = r.StartDate.Format("2006-01-02")
	}
	if r.EndDate != nil {
		data["endDate"] = r.EndDate.Format("2006-01-02")
	}
	return NotificationEvent{
		Name:          name,
		AggregateType: "reservation",
		AggregateId:   r.ID,
		Recipients:    recipients,
		Data:          data,
	}
}
