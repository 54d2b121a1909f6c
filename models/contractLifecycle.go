package models

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/lease_backend/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContractAction string

const (
	ContractActionSend             ContractAction = "send"
	ContractActionSendForSignature ContractAction = "send_for_signature"
	ContractActionRequestSignature ContractAction = "request_signature"
	ContractActionApprove          ContractAction = "approve"
	ContractActionReject           ContractAction = "reject"
	ContractActionTenantAccept     ContractAction = "tenant_accept"
	ContractActionLandlordApprove  ContractAction = "landlord_approve"
	ContractActionLandlordReject   ContractAction = "landlord_reject"
	ContractActionActivate         ContractAction = "activate"
	ContractActionCancel           ContractAction = "cancel"
	contractActionExpire           ContractAction = "expire"
)

type ContractActionInput struct {
	Action ContractAction `json:"action"`
	Reason string         `json:"reason" validate:"omitempty,max=255"`
}

type contractChange struct {
	description string
	events      []NotificationEvent
}

type contractMutation func(tx *gorm.DB, c *Contract, actor Actor) (*contractChange, error)

func mutateContract(ctx context.Context, id string, action string, fn contractMutation) (*Contract, error) {
	ctx, span := tracer.Start(ctx, "contract."+action)
	defer span.End()
	span.SetAttributes(attribute.String("contract.id", id))

	reservationId := linkedReservationId(ctx, id)
	if reservationId != "" {
		releaseReservation := obtainRecordLock(ctx, reservationLockKey(reservationId))
		defer releaseReservation()
	}
	release := obtainRecordLock(ctx, contractLockKey(id))
	defer release()

	actor := ActorFromContext(ctx)
	var result Contract
	enqueued := false
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if reservationId != "" {
			if _, err := lockReservation(tx, reservationId); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		c, err := lockContract(tx, id)
		if err != nil {
			return err
		}
		result = *c
		changed, err := applyContractMutation(ctx, tx, c, actor, action, fn)
		if err != nil {
			return err
		}
		result = *c
		enqueued = changed
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if enqueued {
		signalOutbox()
	}
	return &result, nil
}

// linkedReservationId reads the contract's reservation without locking anything.
func linkedReservationId(ctx context.Context, id string) string {
	var ids []string
	if err := config.GetDB().WithContext(ctx).Model(&Contract{}).Where("id = ?", id).Pluck("reservation_id", &ids).Error; err != nil || len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func lockContract(tx *gorm.DB, id string) (*Contract, error) {
	var c Contract
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("contract", id)
		}
		return nil, err
	}
	return &c, nil
}

// applyContractMutation runs fn inside an open transaction and persists the result with
// its audit row and events. Reports whether anything was written.
func applyContractMutation(ctx context.Context, tx *gorm.DB, c *Contract, actor Actor, action string, fn contractMutation) (bool, error) {
	before, _ := json.Marshal(c)
	from := c.Status
	change, err := fn(tx, c, actor)
	if err != nil || change == nil {
		return false, err
	}
	if err := tx.Save(c).Error; err != nil {
		return false, err
	}
	if err := createHistory(tx, actor, historyEntry{
		referenceType: "contract",
		referenceId:   c.ID,
		action:        action,
		from:          string(from),
		to:            string(c.Status),
		before:        json.RawMessage(before),
		after:         c,
		description:   change.description,
	}); err != nil {
		return false, err
	}
	for _, evt := range change.events {
		if err := EnqueueNotification(ctx, tx, evt); err != nil {
			return false, err
		}
	}
	return true, nil
}

// ApplyContractAction applies one named transition to a contract.
func ApplyContractAction(ctx context.Context, idOrNumber string, input ContractActionInput) (*Contract, error) {
	input.Reason = strings.TrimSpace(input.Reason)
	if fields, err := validateInput(&input); err != nil {
		return nil, err
	} else if len(fields) > 0 {
		return nil, newValidationError("invalid action", fields)
	}
	c, err := GetContract(ctx, idOrNumber)
	if err != nil {
		return nil, err
	}
	var fn contractMutation
	switch input.Action {
	case ContractActionSend:
		fn = sendContract
	case ContractActionSendForSignature, ContractActionRequestSignature:
		input.Action = ContractActionSendForSignature
		fn = sendContractForSignature
	case ContractActionApprove:
		fn = approveContract
	case ContractActionReject, ContractActionLandlordReject:
		if input.Reason == "" {
			return nil, newValidationError("a reason is required to reject", map[string]string{"reason": "required"})
		}
		if input.Action == ContractActionReject {
			fn = rejectContract(input.Reason)
		} else {
			fn = landlordRejectContract(input.Reason)
		}
	case ContractActionTenantAccept:
		fn = tenantAcceptContract
	case ContractActionLandlordApprove:
		fn = landlordApproveContract
	case ContractActionActivate:
		fn = activateContract
	case ContractActionCancel:
		fn = cancelContract(input.Reason)
	default:
		return nil, newValidationError("unknown action", map[string]string{"action": "oneof send send_for_signature approve reject tenant_accept landlord_approve landlord_reject activate cancel"})
	}
	return mutateContract(ctx, c.ID, string(input.Action), fn)
}

// isNamedOwner is true for the recorded owner, or for an admin when none is recorded.
func (c *Contract) isNamedOwner(actor Actor) bool {
	if c.Owner.IsEmpty() {
		return actor.Role == ActorRoleAdmin
	}
	return c.Owner.IsActor(actor)
}

// actsAsOwner also lets admins and system jobs drive the generic transitions.
func (c *Contract) actsAsOwner(actor Actor) bool {
	return actor.Role == ActorRoleSystem || actor.Role == ActorRoleAdmin || c.isNamedOwner(actor)
}

func sendContract(tx *gorm.DB, c *Contract, actor Actor) (*contractChange, error) {
	action := string(ContractActionSend)
	if !c.actsAsOwner(actor) {
		return nil, forbiddenActor("contract", action, string(c.Status), "owner")
	}
	if c.Status == ContractStatusSent {
		return nil, nil
	}
	if c.Status != ContractStatusDraft {
		return nil, invalidTransition("contract", action, string(c.Status), "")
	}
	if err := requireCompleteTx(tx, c); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	c.Status = ContractStatusSent
	c.SentAt = &now
	return &contractChange{
		description: "Contract " + c.ContractNumber + " sent",
		events:      []NotificationEvent{contractEvent(EventContractSent, c, "")},
	}, nil
}

func sendContractForSignature(tx *gorm.DB, c *Contract, actor Actor) (*contractChange, error) {
	action := string(ContractActionSendForSignature)
	if !c.actsAsOwner(actor) {
		return nil, forbiddenActor("contract", action, string(c.Status), "owner")
	}
	if c.Status == ContractStatusAwaitingTenantSignature {
		return nil, nil
	}
	if c.Status != ContractStatusDraft && c.Status != ContractStatusSent {
		return nil, invalidTransition("contract", action, string(c.Status), "")
	}
	if c.Tenant.IsEmpty() {
		return nil, newValidationError("the tenant must be identified before requesting a signature", map[string]string{"tenant": "required"})
	}
	if err := requireCompleteTx(tx, c); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	deadline := now.Add(config.SignatureWindow())
	c.Status = ContractStatusAwaitingTenantSignature
	c.SignatureDeadline = &deadline
	if c.SentAt == nil {
		c.SentAt = &now
	}
	return &contractChange{
		description: "Contract " + c.ContractNumber + " sent for tenant signature",
		events:      []NotificationEvent{contractEvent(EventContractSent, c, "")},
	}, nil
}

func requireCompleteTx(tx *gorm.DB, c *Contract) error {
	tpl, err := findTemplate(tx, c.TemplateId)
	if err != nil {
		return err
	}
	if missing := tpl.MissingRequired(c.Fields); len(missing) > 0 {
		fields := make(map[string]string, len(missing))
		for _, k := range missing {
			fields["fields."+k] = "required"
		}
		return newValidationError("contract has unfilled required fields", fields)
	}
	return nil
}

func approveContract(tx *gorm.DB, c *Contract, actor Actor) (*contractChange, error) {
	action := string(ContractActionApprove)
	if !c.actsAsOwner(actor) {
		return nil, forbiddenActor("contract", action, string(c.Status), "owner")
	}
	if c.Status == ContractStatusApproved || c.Status == ContractStatusActive {
		return nil, nil
	}
	if c.Status != ContractStatusSent {
		return nil, invalidTransition("contract", action, string(c.Status), "")
	}
	decide(c, actor, true, "")
	return &contractChange{
		description: "Contract " + c.ContractNumber + " approved",
		events:      []NotificationEvent{contractEvent(EventContractApproved, c, "")},
	}, nil
}

func rejectContract(reason string) contractMutation {
	return func(tx *gorm.DB, c *Contract, actor Actor) (*contractChange, error) {
		action := string(ContractActionReject)
		if !c.actsAsOwner(actor) {
			return nil, forbiddenActor("contract", action, string(c.Status), "owner")
		}
		if c.Status == ContractStatusRejected {
			return nil, nil
		}
		if c.Status != ContractStatusSent {
			return nil, invalidTransition("contract", action, string(c.Status), "")
		}
		decide(c, actor, false, reason)
		return &contractChange{
			description: "Contract " + c.ContractNumber + " rejected: " + reason,
			events:      []NotificationEvent{contractEvent(EventContractRejected, c, reason)},
		}, nil
	}
}

func tenantAcceptContract(tx *gorm.DB, c *Contract, actor Actor) (*contractChange, error) {
	action := string(ContractActionTenantAccept)
	if !c.Tenant.IsActor(actor) {
		return nil, forbiddenActor("contract", action, string(c.Status), "tenant")
	}
	if c.Approval != nil && c.Approval.TenantAccepted && c.Status != ContractStatusAwaitingTenantSignature && !c.Status.IsTerminal() {
		return nil, nil
	}
	if c.Status != ContractStatusAwaitingTenantSignature {
		return nil, invalidTransition("contract", action, string(c.Status), "contract is not awaiting the tenant's signature")
	}
	now := time.Now().UTC()
	markTenantAccepted(c, now)
	change := &contractChange{
		description: "Contract " + c.ContractNumber + " accepted by tenant",
		events:      []NotificationEvent{contractEvent(EventContractAccepted, c, "")},
	}
	if c.ReservationId != "" {
		evt, err := signLinkedReservation(tx, c, actor, now)
		if err != nil {
			return nil, err
		}
		if evt != nil {
			change.events = append(change.events, *evt)
		}
	}
	return change, nil
}

func markTenantAccepted(c *Contract, at time.Time) {
	approval := ContractApproval{}
	if c.Approval != nil {
		approval = *c.Approval
	}
	approval.TenantAccepted = true
	approval.TenantAcceptedAt = &at
	c.Approval = &approval
	c.Status = ContractStatusAwaitingOwnerApproval
	c.SignatureDeadline = nil
}

// signLinkedReservation marks the reservation side of a tenant acceptance. The reservation
// only advances to leased once its owner approved it; until then the snapshot records the
// acceptance and approval carries it forward.
func signLinkedReservation(tx *gorm.DB, c *Contract, actor Actor, at time.Time) (*NotificationEvent, error) {
	locked, err := lockReservation(tx, c.ReservationId)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r := *locked
	if r.ContractSnapshot != nil && r.ContractSnapshot.ContractId != "" && r.ContractSnapshot.ContractId != c.ID {
		return nil, nil
	}
	before, _ := json.Marshal(r)
	from := r.Status
	var evt *NotificationEvent
	snapshot := c.snapshot()
	snapshot.TenantAccepted = true
	snapshot.TenantAcceptedAt = &at
	r.ContractSnapshot = snapshot
	if r.Status == ReservationStatusApproved {
		markReservationSigned(&r, actor, "contract:"+c.ContractNumber, at)
		e := reservationEvent(EventReservationSigned, &r, "")
		evt = &e
	}
	if err := tx.Save(&r).Error; err != nil {
		return nil, err
	}
	if err := createHistory(tx, actor, historyEntry{
		referenceType: "reservation",
		referenceId:   r.ID,
		action:        string(ReservationActionTenantSign),
		from:          string(from),
		to:            string(r.Status),
		before:        json.RawMessage(before),
		after:         r,
		description:   "Tenant accepted contract " + c.ContractNumber,
	}); err != nil {
		return nil, err
	}
	return evt, nil
}

// acceptLinkedContract is the contract side of a reservation tenantSign.
func acceptLinkedContract(tx *gorm.DB, contractId string, actor Actor, at time.Time) error {
	c, err := lockContract(tx, contractId)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	ctx := tx.Statement.Context
	_, err = applyContractMutation(ctx, tx, c, actor, string(ContractActionTenantAccept), func(tx *gorm.DB, c *Contract, actor Actor) (*contractChange, error) {
		if c.Status != ContractStatusAwaitingTenantSignature {
			return nil, nil
		}
		markTenantAccepted(c, at)
		return &contractChange{
			description: "Contract " + c.ContractNumber + " accepted through reservation signature",
			events:      []NotificationEvent{contractEvent(EventContractAccepted, c, "")},
		}, nil
	})
	return err
}

func landlordApproveContract(tx *gorm.DB, c *Contract, actor Actor) (*contractChange, error) {
	action := string(ContractActionLandlordApprove)
	if c.Status != ContractStatusAwaitingOwnerApproval {
		if (c.Status == ContractStatusApproved || c.Status == ContractStatusActive) && c.Approval != nil && c.Approval.OwnerApproved && c.Approval.TenantAccepted {
			if !c.isNamedOwner(actor) {
				return nil, forbiddenActor("contract", action, string(c.Status), "owner")
			}
			return nil, nil
		}
		return nil, invalidTransition("contract", action, string(c.Status), "contract is not awaiting owner approval")
	}
	if !c.isNamedOwner(actor) {
		return nil, forbiddenActor("contract", action, string(c.Status), "owner")
	}
	decide(c, actor, true, "")
	return &contractChange{
		description: "Contract " + c.ContractNumber + " approved by owner",
		events:      []NotificationEvent{contractEvent(EventContractApproved, c, "")},
	}, nil
}

func landlordRejectContract(reason string) contractMutation {
	return func(tx *gorm.DB, c *Contract, actor Actor) (*contractChange, error) {
		action := string(ContractActionLandlordReject)
		if c.Status == ContractStatusRejected && c.Approval != nil && c.Approval.TenantAccepted {
			return nil, nil
		}
		if c.Status != ContractStatusAwaitingOwnerApproval {
			return nil, invalidTransition("contract", action, string(c.Status), "contract is not awaiting owner approval")
		}
		if !c.isNamedOwner(actor) {
			return nil, forbiddenActor("contract", action, string(c.Status), "owner")
		}
		decide(c, actor, false, reason)
		return &contractChange{
			description: "Contract " + c.ContractNumber + " rejected by owner: " + reason,
			events:      []NotificationEvent{contractEvent(EventContractRejected, c, reason)},
		}, nil
	}
}

func decide(c *Contract, actor Actor, approved bool, reason string) {
	now := time.Now().UTC()
	approval := ContractApproval{}
	if c.Approval != nil {
		approval = *c.Approval
	}
	approval.OwnerApproved = approved
	approval.DecidedAt = &now
	approval.DecidedBy = actor.label()
	approval.RejectionReason = reason
	c.Approval = &approval
	if approved {
		c.Status = ContractStatusApproved
	} else {
		c.Status = ContractStatusRejected
	}
}

func activateContract(tx *gorm.DB, c *Contract, actor Actor) (*contractChange, error) {
	action := string(ContractActionActivate)
	if !c.actsAsOwner(actor) && !actor.IsStaff() {
		return nil, forbiddenActor("contract", action, string(c.Status), "owner or staff")
	}
	if c.Status == ContractStatusActive {
		return nil, nil
	}
	if c.Status != ContractStatusApproved {
		return nil, invalidTransition("contract", action, string(c.Status), "")
	}
	now := time.Now().UTC()
	c.Status = ContractStatusActive
	c.ActivatedAt = &now
	return &contractChange{description: "Contract " + c.ContractNumber + " activated"}, nil
}

func cancelContract(reason string) contractMutation {
	return func(tx *gorm.DB, c *Contract, actor Actor) (*contractChange, error) {
		action := string(ContractActionCancel)
		if !c.actsAsOwner(actor) && !c.Tenant.IsActor(actor) {
			return nil, forbiddenActor("contract", action, string(c.Status), "owner or tenant")
		}
		if c.Status == ContractStatusCancelled {
			return nil, nil
		}
		if c.Status.IsTerminal() {
			return nil, invalidTransition("contract", action, string(c.Status), "")
		}
		return closeContract(c, reason), nil
	}
}

func closeContract(c *Contract, reason string) *contractChange {
	now := time.Now().UTC()
	c.Status = ContractStatusCancelled
	c.CancelledAt = &now
	c.CancellationReason = reason
	c.SignatureDeadline = nil
	description := "Contract " + c.ContractNumber + " cancelled"
	if reason != "" {
		description += ": " + reason
	}
	return &contractChange{
		description: description,
		events:      []NotificationEvent{contractEvent(EventContractCancelled, c, reason)},
	}
}

// cancelLinkedContract closes the contract of a reservation that is being cancelled.
func cancelLinkedContract(tx *gorm.DB, contractId string, actor Actor, reason string) error {
	c, err := lockContract(tx, contractId)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = applyContractMutation(tx.Statement.Context, tx, c, actor, string(ContractActionCancel), func(tx *gorm.DB, c *Contract, actor Actor) (*contractChange, error) {
		if c.Status.IsTerminal() {
			return nil, nil
		}
		return closeContract(c, reason), nil
	})
	return err
}

// ExpireStaleContracts cancels contracts whose tenant signature deadline has passed.
func ExpireStaleContracts(ctx context.Context, now time.Time) (int, error) {
	var ids []string
	err := config.GetDB().WithContext(ctx).
		Model(&Contract{}).
		Where("status = ? AND signature_deadline IS NOT NULL AND signature_deadline < ?", ContractStatusAwaitingTenantSignature, now).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	ctx = ContextWithActor(ctx, SystemActor())
	expired := 0
	for _, id := range ids {
		c, err := mutateContract(ctx, id, string(contractActionExpire), func(tx *gorm.DB, c *Contract, actor Actor) (*contractChange, error) {
			if c.Status != ContractStatusAwaitingTenantSignature || c.SignatureDeadline == nil || c.SignatureDeadline.After(now) {
				return nil, nil
			}
			return closeContract(c, "expired"), nil
		})
		if err != nil {
			config.LogError(config.GetLogger(), "Contract", "ExpireStaleContracts", "expire", id, err)
			continue
		}
		if c.Status == ContractStatusCancelled {
			expired++
		}
	}
	return expired, nil
}

func contractEvent(name string, c *Contract, reason string) NotificationEvent {
	var recipients []Recipient
	switch name {
	case EventContractSent:
		recipients = recipientsFor(c.Tenant, ActorRoleTenant)
	case EventContractAccepted:
		recipients = recipientsFor(c.Owner, ActorRoleOwner)
	default:
		recipients = append(recipientsFor(c.Tenant, ActorRoleTenant), recipientsFor(c.Owner, ActorRoleOwner)...)
	}
	data := map[string]string{
		"contractId":     c.ID,
		"contractNumber": c.ContractNumber,
		"reservationId":  c.ReservationId,
		"propertyId":     c.PropertyId,
		"status":         string(c.Status),
		"tenantName":     c.Tenant.Name,
		"ownerName":      c.Owner.Name,
		"reason":         reason,
	}
	if c.SignatureDeadline != nil {
		data["signatureDeadline"] = c.SignatureDeadline.Format("2006-01-02")
	}
	return NotificationEvent{
		Name:          name,
		AggregateType: "contract",
		AggregateId:   c.ID,
		Recipients:    recipients,
		Data:          data,
	}
}
