package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContractStatus string

const (
	ContractStatusDraft                   ContractStatus = "draft"
	ContractStatusSent                    ContractStatus = "sent"
	ContractStatusAwaitingTenantSignature ContractStatus = "awaiting_tenant_signature"
	ContractStatusAwaitingOwnerApproval   ContractStatus = "awaiting_owner_approval"
	ContractStatusApproved                ContractStatus = "approved"
	ContractStatusRejected                ContractStatus = "rejected"
	ContractStatusActive                  ContractStatus = "active"
	ContractStatusCancelled               ContractStatus = "cancelled"
)

func (s ContractStatus) IsTerminal() bool {
	return s == ContractStatusRejected || s == ContractStatusCancelled
}

// ContractLanguage is the fixed bilingual marker stored on every contract.
const ContractLanguage = "en-ar"

type ContractApproval struct {
	TenantAccepted   bool       `json:"tenant_accepted"`
	TenantAcceptedAt *time.Time `json:"tenant_accepted_at,omitempty"`
	OwnerApproved    bool       `json:"owner_approved"`
	DecidedAt        *time.Time `json:"decided_at,omitempty"`
	DecidedBy        string     `json:"decided_by,omitempty"`
	RejectionReason  string     `json:"rejection_reason,omitempty"`
}

// Contract binds a rendered template to the two parties.
type Contract struct {
	ID                 string            `gorm:"primaryKey;size:64" json:"id"`
	ContractNumber     string            `gorm:"size:32;not null;uniqueIndex" json:"contract_number"`
	Scope              TemplateScope     `gorm:"size:20;not null" json:"scope"`
	PropertyId         string            `gorm:"size:64;index" json:"property_id,omitempty"`
	UnitId             string            `gorm:"size:64" json:"unit_id,omitempty"`
	TemplateId         string            `gorm:"size:64;not null;index" json:"template_id"`
	ReservationId      string            `gorm:"size:64;index" json:"reservation_id,omitempty"`
	Fields             map[string]string `gorm:"type:text;serializer:json" json:"fields"`
	Owner              Party             `gorm:"embedded;embeddedPrefix:owner_" json:"owner"`
	Tenant             Party             `gorm:"embedded;embeddedPrefix:tenant_" json:"tenant"`
	Language           string            `gorm:"size:10;not null" json:"language"`
	StartDate          *time.Time        `json:"start_date,omitempty"`
	DurationMonths     *int              `json:"duration_months,omitempty"`
	EndDate            *time.Time        `json:"end_date,omitempty"`
	TotalAmount        *decimal.Decimal  `gorm:"type:decimal(20,4)" json:"total_amount,omitempty"`
	Currency           string            `gorm:"size:3" json:"currency,omitempty"`
	Status             ContractStatus    `gorm:"size:32;not null;index" json:"status"`
	Approval           *ContractApproval `gorm:"type:text;serializer:json" json:"approval"`
	BodyEn             string            `gorm:"type:text" json:"body_en"`
	BodyAr             string            `gorm:"type:text" json:"body_ar"`
	SignatureDeadline  *time.Time        `gorm:"index" json:"signature_deadline,omitempty"`
	SentAt             *time.Time        `json:"sent_at,omitempty"`
	ActivatedAt        *time.Time        `json:"activated_at,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	CancellationReason string            `gorm:"size:255" json:"cancellation_reason,omitempty"`
	ArchiveURL         string            `gorm:"size:512" json:"archive_url,omitempty"`
	CreatedBy          string            `gorm:"size:150" json:"created_by"`
	CreatedAt          time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contract) RetainRecords() bool { return true }

type NewContract struct {
	ID             string            `json:"id" validate:"omitempty,max=64"`
	TemplateId     string            `json:"template_id" validate:"required,max=64"`
	ReservationId  string            `json:"reservation_id" validate:"omitempty,max=64"`
	Scope          TemplateScope     `json:"scope"`
	PropertyId     string            `json:"property_id" validate:"omitempty,max=64"`
	UnitId         string            `json:"unit_id" validate:"omitempty,max=64"`
	Fields         map[string]string `json:"fields"`
	Owner          *Party            `json:"owner"`
	Tenant         *Party            `json:"tenant"`
	StartDate      *string           `json:"start_date"`
	DurationMonths *int              `json:"duration_months"`
	EndDate        *string           `json:"end_date"`
	TotalAmount    *decimal.Decimal  `json:"total_amount"`
	Currency       string            `json:"currency" validate:"omitempty,len=3"`
}

// ContractPatch edits a draft. Fields are merged key by key; an empty value removes a key.
type ContractPatch struct {
	Fields         map[string]string `json:"fields"`
	Owner          *Party            `json:"owner"`
	Tenant         *Party            `json:"tenant"`
	PropertyId     *string           `json:"property_id" validate:"omitempty,max=64"`
	UnitId         *string           `json:"unit_id" validate:"omitempty,max=64"`
	StartDate      *string           `json:"start_date"`
	DurationMonths *int              `json:"duration_months"`
	EndDate        *string           `json:"end_date"`
	TotalAmount    *decimal.Decimal  `json:"total_amount"`
	Currency       *string           `json:"currency" validate:"omitempty,len=3"`
}

// reservationFields are the values a reservation contributes to a contract draft.
func reservationFields(r *Reservation) map[string]string {
	f := map[string]string{
		"reservationSerial": r.Serial,
		"propertyId":        r.PropertyId,
		"unitId":            r.UnitId,
		"tenantName":        r.Customer.Name,
		"tenantPhone":       r.Customer.Phone,
		"tenantEmail":       r.Customer.Email,
		"ownerName":         r.Owner.Name,
		"ownerPhone":        r.Owner.Phone,
		"ownerEmail":        r.Owner.Email,
		"rentCurrency":      r.Currency,
		"totalAmount":       r.TotalAmount.String(),
	}
	if r.MonthlyRent != nil {
		f["rentAmount"] = r.MonthlyRent.String()
	}
	if r.DepositAmount != nil {
		f["depositAmount"] = r.DepositAmount.String()
	}
	if r.StartDate != nil {
		f["startDate"] = r.StartDate.Format(utils.DateLayout)
	}
	if r.EndDate != nil {
		f["endDate"] = r.EndDate.Format(utils.DateLayout)
	}
	if r.DurationMonths != nil {
		f["durationMonths"] = fmt.Sprint(*r.DurationMonths)
	}
	return f
}

// termFields keeps the date and amount placeholders in step with the stored values.
func (c *Contract) termFields() {
	if c.Fields == nil {
		c.Fields = map[string]string{}
	}
	if c.StartDate != nil {
		c.Fields["startDate"] = c.StartDate.Format(utils.DateLayout)
	}
	if c.EndDate != nil {
		c.Fields["endDate"] = c.EndDate.Format(utils.DateLayout)
	}
	if c.DurationMonths != nil {
		c.Fields["durationMonths"] = fmt.Sprint(*c.DurationMonths)
	} else {
		delete(c.Fields, "durationMonths")
	}
	if c.TotalAmount != nil {
		c.Fields["totalAmount"] = c.TotalAmount.String()
	}
	if c.Currency != "" {
		c.Fields["rentCurrency"] = c.Currency
	}
}

func (c *Contract) render(tpl *ContractTemplate) {
	c.termFields()
	body := tpl.Render(c.Fields)
	c.BodyEn, c.BodyAr = body.En, body.Ar
}

func (c *Contract) snapshot() *ContractSnapshot {
	fields := make(map[string]string, len(c.Fields))
	for k, v := range c.Fields {
		fields[k] = v
	}
	s := &ContractSnapshot{
		ContractId:     c.ID,
		ContractNumber: c.ContractNumber,
		TemplateId:     c.TemplateId,
		Fields:         fields,
		Body:           Bilingual{En: c.BodyEn, Ar: c.BodyAr},
	}
	if c.Approval != nil {
		s.TenantAccepted = c.Approval.TenantAccepted
		s.TenantAcceptedAt = c.Approval.TenantAcceptedAt
	}
	return s
}

func (c *Contract) validateTerm(fields map[string]string) {
	if c.Scope == TemplateScopePerUnit && c.PropertyId == "" {
		fields["property_id"] = "required"
	}
	if c.TotalAmount != nil && c.TotalAmount.IsNegative() {
		fields["total_amount"] = "gte=0"
	}
}

// CreateContract renders a template into a draft contract. With a reservation id the
// parties, dates and amounts are taken from the reservation and the draft is linked as
// its contract snapshot; a reservation that already links a live contract returns it.
func CreateContract(ctx context.Context, input *NewContract) (*Contract, error) {
	fields, err := validateInput(input)
	if err != nil {
		return nil, err
	}
	if input.Owner != nil {
		normalizeParty("owner", input.Owner, fields)
	}
	if input.Tenant != nil {
		normalizeParty("tenant", input.Tenant, fields)
	}
	if len(fields) > 0 {
		return nil, newValidationError("invalid contract", fields)
	}
	actor := ActorFromContext(ctx)
	if actor.Role != ActorRoleOwner && !actor.IsStaff() && actor.Role != ActorRoleSystem {
		return nil, forbiddenActor("contract", "create", "", "owner or staff")
	}

	ctx, span := tracer.Start(ctx, "contract.create")
	defer span.End()

	if input.ID != "" {
		if existing, err := GetContract(ctx, input.ID); err == nil {
			return existing, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if input.ReservationId != "" {
		release := obtainRecordLock(ctx, reservationLockKey(input.ReservationId))
		defer release()
	}

	var result Contract
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tpl, err := findTemplate(tx, input.TemplateId)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return newValidationError("unknown template", map[string]string{"template_id": "exists"})
			}
			return err
		}
		c := Contract{
			ID:         input.ID,
			Scope:      tpl.Scope,
			PropertyId: tpl.PropertyId,
			TemplateId: tpl.ID,
			Fields:     map[string]string{},
			Language:   ContractLanguage,
			Status:     ContractStatusDraft,
			Currency:   config.DefaultCurrency(),
			CreatedBy:  actor.label(),
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if input.Scope != "" {
			if !input.Scope.IsValid() {
				return newValidationError("invalid contract", map[string]string{"scope": "oneof unified per-unit"})
			}
			c.Scope = input.Scope
		}

		var r *Reservation
		if input.ReservationId != "" {
			var res Reservation
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ? OR serial = ?", input.ReservationId, input.ReservationId).Take(&res).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return notFound("reservation", input.ReservationId)
				}
				return err
			}
			r = &res
			if actor.Role == ActorRoleOwner && !r.actsAsOwner(actor) {
				return forbiddenActor("contract", "create", "", "owner")
			}
			if r.Status.IsTerminal() {
				return invalidTransition("contract", "create", string(r.Status), "reservation is closed")
			}
			if live, err := liveLinkedContract(tx, r); err != nil {
				return err
			} else if live != nil {
				result = *live
				return nil
			}
			c.ReservationId = r.ID
			c.PropertyId = r.PropertyId
			c.UnitId = r.UnitId
			c.Owner = r.Owner
			c.Tenant = r.Customer
			c.StartDate, c.DurationMonths, c.EndDate = r.StartDate, r.DurationMonths, r.EndDate
			total := r.TotalAmount
			c.TotalAmount = &total
			c.Currency = r.Currency
			for k, v := range reservationFields(r) {
				c.Fields[k] = v
			}
		}

		termErrs := map[string]string{}
		if input.PropertyId != "" {
			c.PropertyId = input.PropertyId
		}
		if input.UnitId != "" {
			c.UnitId = input.UnitId
		}
		if input.Owner != nil {
			mergeParty(&c.Owner, *input.Owner)
		}
		if input.Tenant != nil {
			mergeParty(&c.Tenant, *input.Tenant)
		}
		if s := parseOptionalDate(input.StartDate, "start_date", termErrs); s != nil {
			c.StartDate = s
		}
		c.DurationMonths, c.EndDate = resolveTerm(c.StartDate, c.DurationMonths, c.EndDate,
			input.DurationMonths, parseOptionalDate(input.EndDate, "end_date", termErrs), termErrs)
		if input.TotalAmount != nil {
			total := *input.TotalAmount
			c.TotalAmount = &total
		}
		if input.Currency != "" {
			c.Currency = strings.ToUpper(input.Currency)
		}
		for k, v := range input.Fields {
			c.Fields[k] = v
		}
		c.validateTerm(termErrs)
		if len(termErrs) > 0 {
			return newValidationError("invalid contract", termErrs)
		}

		n, err := nextSequence(tx, sequenceContract)
		if err != nil {
			return err
		}
		c.ContractNumber = formatSerial("CTR", n)
		c.Fields["contractNumber"] = c.ContractNumber
		c.render(tpl)
		if err := tx.Create(&c).Error; err != nil {
			return err
		}
		if err := createHistory(tx, actor, historyEntry{
			referenceType: "contract",
			referenceId:   c.ID,
			action:        "create",
			to:            string(c.Status),
			after:         c,
			description:   "Contract " + c.ContractNumber + " drafted from template " + tpl.Name,
		}); err != nil {
			return err
		}
		if r != nil {
			if err := linkReservationSnapshot(tx, r, &c, actor); err != nil {
				return err
			}
		}
		result = c
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &result, nil
}

func liveLinkedContract(tx *gorm.DB, r *Reservation) (*Contract, error) {
	if r.ContractSnapshot == nil || r.ContractSnapshot.ContractId == "" {
		return nil, nil
	}
	var c Contract
	err := tx.Where("id = ?", r.ContractSnapshot.ContractId).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return nil, nil
	}
	return &c, nil
}

// linkReservationSnapshot stores the contract's rendered copy on its reservation.
func linkReservationSnapshot(tx *gorm.DB, r *Reservation, c *Contract, actor Actor) error {
	snapshot := c.snapshot()
	if r.ContractSnapshot != nil && r.ContractSnapshot.ContractId == c.ID && r.ContractSnapshot.TenantAccepted {
		snapshot.TenantAccepted = true
		snapshot.TenantAcceptedAt = r.ContractSnapshot.TenantAcceptedAt
	}
	if jsonEqual(r.ContractSnapshot, snapshot) {
		return nil
	}
	before := r.ContractSnapshot
	r.ContractSnapshot = snapshot
	if err := tx.Save(r).Error; err != nil {
		return err
	}
	return createHistory(tx, actor, historyEntry{
		referenceType: "reservation",
		referenceId:   r.ID,
		action:        "linkContract",
		from:          string(r.Status),
		to:            string(r.Status),
		before:        before,
		after:         snapshot,
		description:   "Contract " + c.ContractNumber + " linked to reservation " + r.Serial,
	})
}

// UpdateContractDraft applies a patch to a draft, re-renders it and recomputes the end date.
func UpdateContractDraft(ctx context.Context, id string, patch *ContractPatch) (*Contract, error) {
	fields, err := validateInput(patch)
	if err != nil {
		return nil, err
	}
	if patch.Owner != nil {
		normalizeParty("owner", patch.Owner, fields)
	}
	if patch.Tenant != nil {
		normalizeParty("tenant", patch.Tenant, fields)
	}
	if len(fields) > 0 {
		return nil, newValidationError("invalid contract", fields)
	}
	return mutateContract(ctx, id, "update", func(tx *gorm.DB, c *Contract, actor Actor) (*contractChange, error) {
		if !c.actsAsOwner(actor) {
			return nil, forbiddenActor("contract", "update", string(c.Status), "owner")
		}
		if c.Status != ContractStatusDraft {
			return nil, invalidTransition("contract", "update", string(c.Status), "only drafts can be edited")
		}
		before := fmt.Sprintf("%v|%v|%v|%v", c.Fields, c.Owner, c.Tenant, c.Currency)
		beforeTerm := []any{c.StartDate, c.DurationMonths, c.EndDate, c.TotalAmount, c.PropertyId, c.UnitId}

		errs := map[string]string{}
		if patch.PropertyId != nil {
			c.PropertyId = strings.TrimSpace(*patch.PropertyId)
		}
		if patch.UnitId != nil {
			c.UnitId = strings.TrimSpace(*patch.UnitId)
		}
		if patch.Owner != nil {
			mergeParty(&c.Owner, *patch.Owner)
		}
		if patch.Tenant != nil {
			mergeParty(&c.Tenant, *patch.Tenant)
		}
		if s := parseOptionalDate(patch.StartDate, "start_date", errs); s != nil {
			c.StartDate = s
		}
		c.DurationMonths, c.EndDate = resolveTerm(c.StartDate, c.DurationMonths, c.EndDate,
			patch.DurationMonths, parseOptionalDate(patch.EndDate, "end_date", errs), errs)
		if patch.TotalAmount != nil {
			total := *patch.TotalAmount
			c.TotalAmount = &total
		}
		if patch.Currency != nil {
			c.Currency = strings.ToUpper(strings.TrimSpace(*patch.Currency))
		}
		if c.Fields == nil {
			c.Fields = map[string]string{}
		}
		for k, v := range patch.Fields {
			if v == "" {
				delete(c.Fields, k)
				continue
			}
			c.Fields[k] = v
		}
		c.validateTerm(errs)
		if len(errs) > 0 {
			return nil, newValidationError("invalid contract", errs)
		}

		tpl, err := findTemplate(tx, c.TemplateId)
		if err != nil {
			return nil, err
		}
		prevEn, prevAr := c.BodyEn, c.BodyAr
		c.render(tpl)
		after := fmt.Sprintf("%v|%v|%v|%v", c.Fields, c.Owner, c.Tenant, c.Currency)
		afterTerm := []any{c.StartDate, c.DurationMonths, c.EndDate, c.TotalAmount, c.PropertyId, c.UnitId}
		if before == after && jsonEqual(beforeTerm, afterTerm) && prevEn == c.BodyEn && prevAr == c.BodyAr {
			return nil, nil
		}
		if err := syncReservationSnapshot(tx, c, actor); err != nil {
			return nil, err
		}
		return &contractChange{description: "Contract " + c.ContractNumber + " draft updated"}, nil
	})
}

func syncReservationSnapshot(tx *gorm.DB, c *Contract, actor Actor) error {
	if c.ReservationId == "" {
		return nil
	}
	r, err := lockReservation(tx, c.ReservationId)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if r.ContractSnapshot != nil && r.ContractSnapshot.ContractId != "" && r.ContractSnapshot.ContractId != c.ID {
		return nil
	}
	return linkReservationSnapshot(tx, r, c, actor)
}

func GetContract(ctx context.Context, idOrNumber string) (*Contract, error) {
	var c Contract
	err := config.GetDB().WithContext(ctx).
		Where("id = ? OR contract_number = ?", idOrNumber, idOrNumber).
		Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("contract", idOrNumber)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type ContractFilter struct {
	ReservationId string
	PropertyId    string
	Status        ContractStatus
}

func ListContracts(ctx context.Context, filter ContractFilter) ([]Contract, error) {
	db := config.GetDB().WithContext(ctx)
	if filter.ReservationId != "" {
		db = db.Where("reservation_id = ?", filter.ReservationId)
	}
	if filter.PropertyId != "" {
		db = db.Where("property_id = ?", filter.PropertyId)
	}
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	var rows []Contract
	err := db.Order("created_at DESC, id").Find(&rows).Error
	return rows, err
}

// ContractDocument renders the printable bilingual HTML of a contract.
func ContractDocument(c *Contract) ([]byte, error) {
	title := "Lease Contract " + c.ContractNumber
	return utils.RenderPrintableDocument(title,
		utils.DocumentSection{Lang: "en", Dir: "ltr", Body: c.BodyEn},
		utils.DocumentSection{Lang: "ar", Dir: "rtl", Body: c.BodyAr},
	)
}

// ArchiveContract uploads the printable document and records where it went.
func ArchiveContract(ctx context.Context, idOrNumber string) (*Contract, error) {
	c, err := GetContract(ctx, idOrNumber)
	if err != nil {
		return nil, err
	}
	actor := ActorFromContext(ctx)
	if !c.actsAsOwner(actor) && !actor.IsStaff() && actor.Role != ActorRoleSystem {
		return nil, forbiddenActor("contract", "archive", string(c.Status), "owner or staff")
	}
	doc, err := ContractDocument(c)
	if err != nil {
		return nil, err
	}
	url, err := utils.SaveDocument(ctx, "contracts/"+c.ContractNumber+".html", doc, "text/html; charset=utf-8")
	if err != nil {
		return nil, err
	}
	if err := config.GetDB().WithContext(ctx).Model(&Contract{}).Where("id = ?", c.ID).Update("archive_url", url).Error; err != nil {
		return nil, err
	}
	c.ArchiveURL = url
	return c, nil
}
