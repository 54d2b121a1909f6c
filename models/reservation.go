package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ReservationStatus string

const (
	ReservationStatusPending    ReservationStatus = "pending"
	ReservationStatusReserved   ReservationStatus = "reserved"
	ReservationStatusApproved   ReservationStatus = "approved"
	ReservationStatusLeased     ReservationStatus = "leased"
	ReservationStatusAccounting ReservationStatus = "accounting"
	ReservationStatusManagement ReservationStatus = "management"
	ReservationStatusCancelled  ReservationStatus = "cancelled"
)

var reservationStatusRank = map[ReservationStatus]int{
	ReservationStatusPending:    0,
	ReservationStatusReserved:   1,
	ReservationStatusApproved:   2,
	ReservationStatusLeased:     3,
	ReservationStatusAccounting: 4,
	ReservationStatusManagement: 5,
}

func (s ReservationStatus) IsValid() bool {
	_, ok := reservationStatusRank[s]
	return ok || s == ReservationStatusCancelled
}

func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationStatusCancelled || s == ReservationStatusManagement
}

// Reached reports whether s is target or a later step of the forward path.
func (s ReservationStatus) Reached(target ReservationStatus) bool {
	if s == ReservationStatusCancelled || target == ReservationStatusCancelled {
		return s == target
	}
	return reservationStatusRank[s] >= reservationStatusRank[target]
}

type Cheque struct {
	Number  string          `json:"number"`
	Bank    string          `json:"bank,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
	DueDate string          `json:"due_date,omitempty"`
}

// ContractSnapshot is the rendered contract attached to a reservation at signing time.
type ContractSnapshot struct {
	ContractId       string            `json:"contract_id,omitempty"`
	ContractNumber   string            `json:"contract_number,omitempty"`
	TemplateId       string            `json:"template_id,omitempty"`
	Fields           map[string]string `json:"fields,omitempty"`
	Body             Bilingual         `json:"body"`
	TenantAccepted   bool              `json:"tenant_accepted"`
	TenantAcceptedAt *time.Time        `json:"tenant_accepted_at,omitempty"`
}

type OwnerDecision struct {
	Approved  bool      `json:"approved"`
	Reason    string    `json:"reason,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
	DecidedBy string    `json:"decided_by,omitempty"`
}

// Reservation is a tenant's request to lease a unit. Never deleted; only status-advanced.
type Reservation struct {
	ID                    string            `gorm:"primaryKey;size:64" json:"id"`
	Serial                string            `gorm:"size:32;not null;uniqueIndex" json:"serial"`
	PropertyId            string            `gorm:"size:64;not null;index" json:"property_id"`
	UnitId                string            `gorm:"size:64;index" json:"unit_id,omitempty"`
	StartDate             *time.Time        `json:"start_date"`
	DurationMonths        *int              `json:"duration_months"`
	EndDate               *time.Time        `json:"end_date"`
	MonthlyRent           *decimal.Decimal  `gorm:"type:decimal(20,4)" json:"monthly_rent,omitempty"`
	TotalAmount           decimal.Decimal   `gorm:"type:decimal(20,4);not null;default:0" json:"total_amount"`
	Currency              string            `gorm:"size:3;not null" json:"currency"`
	Status                ReservationStatus `gorm:"size:20;not null;index" json:"status"`
	Customer              Party             `gorm:"embedded;embeddedPrefix:customer_" json:"customer"`
	Owner                 Party             `gorm:"embedded;embeddedPrefix:owner_" json:"owner"`
	DepositAmount         *decimal.Decimal  `gorm:"type:decimal(20,4)" json:"deposit_amount,omitempty"`
	DepositPaid           bool              `gorm:"not null;default:false" json:"deposit_paid"`
	DepositReceiptNo      string            `gorm:"size:64" json:"deposit_receipt_no,omitempty"`
	DepositPaymentMethod  string            `gorm:"size:32" json:"deposit_payment_method,omitempty"`
	LeaseCheques          []Cheque          `gorm:"type:text;serializer:json" json:"lease_cheques"`
	GuaranteeCheques      []Cheque          `gorm:"type:text;serializer:json" json:"guarantee_cheques"`
	ContractSnapshot      *ContractSnapshot `gorm:"type:text;serializer:json" json:"contract_snapshot"`
	OwnerDecision         *OwnerDecision    `gorm:"type:text;serializer:json" json:"owner_decision"`
	SignedBy              string            `gorm:"size:64" json:"signed_by,omitempty"`
	SignedAt              *time.Time        `json:"signed_at,omitempty"`
	SignatureRef          string            `gorm:"size:255" json:"signature_ref,omitempty"`
	AccountingConfirmedBy string            `gorm:"size:64" json:"accounting_confirmed_by,omitempty"`
	AccountingConfirmedAt *time.Time        `json:"accounting_confirmed_at,omitempty"`
	HandedOverAt          *time.Time        `json:"handed_over_at,omitempty"`
	CancellationReason    string            `gorm:"size:255" json:"cancellation_reason,omitempty"`
	CancelledAt           *time.Time        `json:"cancelled_at,omitempty"`
	HoldExpiresAt         *time.Time        `gorm:"index" json:"hold_expires_at,omitempty"`
	CreatedAt             time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Reservation) RetainRecords() bool { return true }

// ReservationInput is the upsert patch. Nil fields leave the stored value alone.
// Status is only honoured on create; later moves go through the reservation actions.
type ReservationInput struct {
	ID                   string            `json:"id" validate:"omitempty,max=64"`
	Serial               string            `json:"serial" validate:"omitempty,max=32"`
	PropertyId           *string           `json:"property_id" validate:"omitempty,max=64"`
	UnitId               *string           `json:"unit_id" validate:"omitempty,max=64"`
	StartDate            *string           `json:"start_date"`
	DurationMonths       *int              `json:"duration_months"`
	EndDate              *string           `json:"end_date"`
	MonthlyRent          *decimal.Decimal  `json:"monthly_rent"`
	TotalAmount          *decimal.Decimal  `json:"total_amount"`
	Currency             *string           `json:"currency" validate:"omitempty,len=3"`
	Status               *string           `json:"status"`
	Customer             *Party            `json:"customer"`
	Owner                *Party            `json:"owner"`
	DepositAmount        *decimal.Decimal  `json:"deposit_amount"`
	DepositPaid          *bool             `json:"deposit_paid"`
	DepositReceiptNo     *string           `json:"deposit_receipt_no" validate:"omitempty,max=64"`
	DepositPaymentMethod *string           `json:"deposit_payment_method" validate:"omitempty,max=32"`
	LeaseCheques         *[]Cheque         `json:"lease_cheques"`
	GuaranteeCheques     *[]Cheque         `json:"guarantee_cheques"`
	ContractSnapshot     *ContractSnapshot `json:"contract_snapshot"`
	OwnerDecision        *OwnerDecision    `json:"owner_decision"`
}

var errRetryAsUpdate = errors.New("reservation created concurrently")

// UpsertReservation looks the reservation up by id or serial and merges the patch, or
// creates it. Replaying the same input leaves the stored record unchanged.
func UpsertReservation(ctx context.Context, input *ReservationInput) (*Reservation, error) {
	fields, err := validateInput(input)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		return nil, newValidationError("invalid reservation", fields)
	}
	input.ID = strings.TrimSpace(input.ID)
	input.Serial = strings.TrimSpace(input.Serial)
	if input.Customer != nil {
		normalizeParty("customer", input.Customer, fields)
	}
	if input.Owner != nil {
		normalizeParty("owner", input.Owner, fields)
	}
	if len(fields) > 0 {
		return nil, newValidationError("invalid reservation", fields)
	}

	if input.ID == "" && input.Serial == "" {
		if input.PropertyId == nil || strings.TrimSpace(*input.PropertyId) == "" {
			return nil, newValidationError("id, serial or property_id is required", map[string]string{"property_id": "required"})
		}
		input.ID = derivedReservationId(input)
	}

	existing, err := lookupReservation(config.GetDB().WithContext(ctx), input.ID, input.Serial)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return updateReservation(ctx, existing.ID, input)
	}
	if input.ID == "" {
		// serials are only ever issued by the ledger
		return nil, notFound("reservation", input.Serial)
	}
	created, err := createReservation(ctx, input)
	if errors.Is(err, errRetryAsUpdate) {
		return updateReservation(ctx, input.ID, input)
	}
	return created, err
}

// derivedReservationId makes key-less submissions of the same booking land on one record.
func derivedReservationId(input *ReservationInput) string {
	var parts []string
	for _, p := range []*string{input.PropertyId, input.UnitId, input.StartDate} {
		if p != nil {
			parts = append(parts, strings.TrimSpace(*p))
		} else {
			parts = append(parts, "")
		}
	}
	if input.Customer != nil {
		parts = append(parts, input.Customer.Phone, input.Customer.Email)
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("reservation|"+strings.Join(parts, "|"))).String()
}

func createReservation(ctx context.Context, input *ReservationInput) (*Reservation, error) {
	actor := ActorFromContext(ctx)
	fields := map[string]string{}
	r := Reservation{
		ID:               input.ID,
		Status:           ReservationStatusReserved,
		Currency:         config.DefaultCurrency(),
		LeaseCheques:     []Cheque{},
		GuaranteeCheques: []Cheque{},
	}
	if input.Status != nil && *input.Status != "" {
		switch s := ReservationStatus(*input.Status); s {
		case ReservationStatusPending, ReservationStatusReserved:
			r.Status = s
		default:
			fields["status"] = "oneof pending reserved"
		}
	}
	input.applyTo(&r, fields)
	if actor.Role == ActorRoleTenant && r.Customer.UserId == "" {
		r.Customer.UserId = actor.UserId
	}
	r.validateRequired(fields)
	if len(fields) > 0 {
		return nil, newValidationError("invalid reservation", fields)
	}
	if err := authorizePatch(nil, &r, actor); err != nil {
		return nil, err
	}
	if r.Status == ReservationStatusPending {
		hold := time.Now().UTC().Add(config.ReservationHoldWindow())
		r.HoldExpiresAt = &hold
	}

	db := config.GetDB().WithContext(ctx)
	err := db.Transaction(func(tx *gorm.DB) error {
		n, err := nextSequence(tx, sequenceReservation)
		if err != nil {
			return err
		}
		r.Serial = formatSerial("RES", n)
		if err := tx.Create(&r).Error; err != nil {
			return err
		}
		if err := createHistory(tx, actor, historyEntry{
			referenceType: "reservation",
			referenceId:   r.ID,
			action:        "create",
			to:            string(r.Status),
			after:         r,
			description:   "Reservation " + r.Serial + " created",
		}); err != nil {
			return err
		}
		return EnqueueNotification(ctx, tx, reservationEvent(EventReservationCreated, &r, ""))
	})
	if err != nil {
		if IsDuplicateKeyErr(err) {
			return nil, errRetryAsUpdate
		}
		return nil, err
	}
	signalOutbox()
	return &r, nil
}

func updateReservation(ctx context.Context, id string, input *ReservationInput) (*Reservation, error) {
	return mutateReservation(ctx, id, "update", func(tx *gorm.DB, r *Reservation, actor Actor) (*reservationChange, error) {
		if !actor.IsStaff() && actor.Role != ActorRoleSystem && !r.Customer.IsActor(actor) && !r.Owner.IsActor(actor) {
			return nil, forbiddenActor("reservation", "update", string(r.Status), "customer, owner or staff")
		}
		fields := map[string]string{}
		if input.Status != nil && *input.Status != "" && ReservationStatus(*input.Status) != r.Status {
			fields["status"] = "use a reservation action"
		}
		next := *r
		changed := input.applyTo(&next, fields)
		next.validateRequired(fields)
		if len(fields) > 0 {
			return nil, newValidationError("invalid reservation", fields)
		}
		if !changed {
			return nil, nil
		}
		if r.Status.IsTerminal() {
			return nil, invalidTransition("reservation", "update", string(r.Status), "reservation is closed")
		}
		if err := authorizePatch(r, &next, actor); err != nil {
			return nil, err
		}
		*r = next
		return &reservationChange{description: "Reservation " + r.Serial + " updated"}, nil
	})
}

// authorizePatch checks what a non-staff actor changed through upsert. before is nil on create.
// The owner decision, deposit receipt and contract snapshot are written by their own workflows,
// and the commercial terms freeze once the owner approved.
func authorizePatch(before, after *Reservation, actor Actor) error {
	if actor.IsStaff() || actor.Role == ActorRoleSystem {
		return nil
	}
	action := "update"
	creating := before == nil
	if creating {
		action = "create"
		before = &Reservation{}
	}
	status := string(after.Status)
	if !jsonEqual(before.OwnerDecision, after.OwnerDecision) && (creating || !before.actsAsOwner(actor)) {
		return forbiddenActor("reservation", action, status, "owner")
	}
	if !creating && before.Owner != after.Owner && (before.Owner.IsEmpty() || !before.Owner.IsActor(actor)) {
		return forbiddenActor("reservation", action, status, "owner or staff")
	}
	if before.DepositPaid != after.DepositPaid ||
		before.DepositReceiptNo != after.DepositReceiptNo ||
		before.DepositPaymentMethod != after.DepositPaymentMethod {
		return forbiddenActor("reservation", action, status, "accounting staff")
	}
	if !jsonEqual(before.ContractSnapshot, after.ContractSnapshot) {
		return forbiddenActor("reservation", action, status, "staff")
	}
	if !creating && before.Status.Reached(ReservationStatusApproved) && !sameTerms(before, after) {
		return invalidTransition("reservation", action, status, "terms are fixed once the owner approved")
	}
	return nil
}

func sameTerms(a, b *Reservation) bool {
	return a.PropertyId == b.PropertyId &&
		a.UnitId == b.UnitId &&
		a.Currency == b.Currency &&
		sameDate(a.StartDate, b.StartDate) &&
		sameInt(a.DurationMonths, b.DurationMonths) &&
		sameDate(a.EndDate, b.EndDate) &&
		a.TotalAmount.Equal(b.TotalAmount) &&
		sameDecimal(a.MonthlyRent, b.MonthlyRent) &&
		sameDecimal(a.DepositAmount, b.DepositAmount)
}

// applyTo merges the patch into r field by field and reports whether anything changed.
func (in *ReservationInput) applyTo(r *Reservation, fields map[string]string) bool {
	changed := false
	setString := func(dst *string, src *string) {
		if src == nil {
			return
		}
		v := strings.TrimSpace(*src)
		if *dst != v {
			*dst = v
			changed = true
		}
	}
	setDecimal := func(dst *decimal.Decimal, src *decimal.Decimal) {
		if src != nil && !dst.Equal(*src) {
			*dst = *src
			changed = true
		}
	}
	setOptionalDecimal := func(dst **decimal.Decimal, src *decimal.Decimal) {
		if src == nil {
			return
		}
		if *dst == nil || !(*dst).Equal(*src) {
			v := *src
			*dst = &v
			changed = true
		}
	}

	setString(&r.PropertyId, in.PropertyId)
	setString(&r.UnitId, in.UnitId)
	if in.Currency != nil {
		c := strings.ToUpper(strings.TrimSpace(*in.Currency))
		setString(&r.Currency, &c)
	}

	start := r.StartDate
	if s := parseOptionalDate(in.StartDate, "start_date", fields); s != nil {
		start = s
	}
	patchEnd := parseOptionalDate(in.EndDate, "end_date", fields)
	months, end := resolveTerm(start, r.DurationMonths, r.EndDate, in.DurationMonths, patchEnd, fields)
	if !sameDate(start, r.StartDate) || !sameInt(months, r.DurationMonths) || !sameDate(end, r.EndDate) {
		r.StartDate, r.DurationMonths, r.EndDate = start, months, end
		changed = true
	}

	setOptionalDecimal(&r.MonthlyRent, in.MonthlyRent)
	switch {
	case in.TotalAmount != nil:
		setDecimal(&r.TotalAmount, in.TotalAmount)
	case r.MonthlyRent != nil && r.DurationMonths != nil:
		total := r.MonthlyRent.Mul(decimal.NewFromInt(int64(*r.DurationMonths)))
		setDecimal(&r.TotalAmount, &total)
	}

	if in.Customer != nil {
		if mergeParty(&r.Customer, *in.Customer) {
			changed = true
		}
	}
	if in.Owner != nil {
		if mergeParty(&r.Owner, *in.Owner) {
			changed = true
		}
	}

	setOptionalDecimal(&r.DepositAmount, in.DepositAmount)
	if in.DepositPaid != nil && r.DepositPaid != *in.DepositPaid {
		r.DepositPaid = *in.DepositPaid
		changed = true
	}
	setString(&r.DepositReceiptNo, in.DepositReceiptNo)
	setString(&r.DepositPaymentMethod, in.DepositPaymentMethod)

	if in.LeaseCheques != nil && !jsonEqual(r.LeaseCheques, *in.LeaseCheques) {
		r.LeaseCheques = *in.LeaseCheques
		changed = true
	}
	if in.GuaranteeCheques != nil && !jsonEqual(r.GuaranteeCheques, *in.GuaranteeCheques) {
		r.GuaranteeCheques = *in.GuaranteeCheques
		changed = true
	}
	if in.ContractSnapshot != nil && !jsonEqual(r.ContractSnapshot, in.ContractSnapshot) {
		snapshot := *in.ContractSnapshot
		r.ContractSnapshot = &snapshot
		changed = true
	}
	if in.OwnerDecision != nil && !jsonEqual(r.OwnerDecision, in.OwnerDecision) {
		decision := *in.OwnerDecision
		r.OwnerDecision = &decision
		changed = true
	}
	return changed
}

// mergeParty overwrites only the non-empty fields of src.
func mergeParty(dst *Party, src Party) bool {
	changed := false
	for _, f := range []struct{ dst, src *string }{
		{&dst.UserId, &src.UserId},
		{&dst.Name, &src.Name},
		{&dst.Phone, &src.Phone},
		{&dst.Email, &src.Email},
	} {
		if *f.src != "" && *f.dst != *f.src {
			*f.dst = *f.src
			changed = true
		}
	}
	return changed
}

func (r *Reservation) validateRequired(fields map[string]string) {
	if strings.TrimSpace(r.PropertyId) == "" {
		fields["property_id"] = "required"
	}
	if r.Customer.Name == "" {
		fields["customer.name"] = "required"
	}
	if r.Customer.Phone == "" {
		fields["customer.phone"] = "required"
	}
	if r.StartDate == nil {
		fields["start_date"] = "required"
	}
	if r.EndDate == nil && fields["end_date"] == "" && fields["duration_months"] == "" {
		fields["duration_months"] = "required_without=end_date"
	}
	if r.TotalAmount.IsNegative() {
		fields["total_amount"] = "gte=0"
	}
	if r.DepositAmount != nil && r.DepositAmount.IsNegative() {
		fields["deposit_amount"] = "gte=0"
	}
	if len(r.Currency) != 3 {
		fields["currency"] = "len=3"
	}
}

func lookupReservation(db *gorm.DB, id, serial string) (*Reservation, error) {
	var r Reservation
	q := db
	if id != "" {
		q = q.Where("id = ?", id)
	} else {
		q = q.Where("serial = ?", serial)
	}
	err := q.Take(&r).Error
	if id != "" && serial != "" {
		mismatch := map[string]string{"serial": "does not match id"}
		switch {
		case err == nil && r.Serial != serial:
			return nil, newValidationError("id and serial name different reservations", mismatch)
		case errors.Is(err, gorm.ErrRecordNotFound):
			var n int64
			if cerr := db.Model(&Reservation{}).Where("serial = ?", serial).Count(&n).Error; cerr != nil {
				return nil, cerr
			}
			if n > 0 {
				return nil, newValidationError("id and serial name different reservations", mismatch)
			}
		}
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			key := id
			if key == "" {
				key = serial
			}
			return nil, notFound("reservation", key)
		}
		return nil, err
	}
	return &r, nil
}

// GetReservation accepts either the id or the serial number.
func GetReservation(ctx context.Context, idOrSerial string) (*Reservation, error) {
	db := config.GetDB().WithContext(ctx)
	var r Reservation
	err := db.Where("id = ? OR serial = ?", idOrSerial, idOrSerial).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("reservation", idOrSerial)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func ListReservationsByProperty(ctx context.Context, propertyId string) ([]Reservation, error) {
	var rows []Reservation
	err := config.GetDB().WithContext(ctx).
		Where("property_id = ?", propertyId).
		Order("created_at DESC, id").
		Find(&rows).Error
	return rows, err
}

// ListMyReservations returns reservations where the user is the customer or the owner.
func ListMyReservations(ctx context.Context, userId string) ([]Reservation, error) {
	if userId == "" {
		return []Reservation{}, nil
	}
	var rows []Reservation
	err := config.GetDB().WithContext(ctx).
		Where("customer_user_id = ? OR owner_user_id = ?", userId, userId).
		Order("created_at DESC, id").
		Find(&rows).Error
	return rows, err
}

func ListAllReservations(ctx context.Context, status ReservationStatus) ([]Reservation, error) {
	db := config.GetDB().WithContext(ctx)
	if status != "" {
		if !status.IsValid() {
			return nil, newValidationError("invalid status", map[string]string{"status": "oneof"})
		}
		db = db.Where("status = ?", status)
	}
	var rows []Reservation
	err := db.Order("created_at DESC, id").Find(&rows).Error
	return rows, err
}
