package models

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createTestTemplate(t *testing.T) *ContractTemplate {
	t.Helper()
	tpl, err := CreateTemplate(as(ownerActor), &NewContractTemplate{
		ID:     "tpl-standard",
		Name:   "Standard residential lease",
		Scope:  TemplateScopeUnified,
		BodyEn: "Lease {{contractNumber}} between {{ownerName}} and {{tenantName}} from {{startDate}} to {{endDate}}. Witness: {{witness}}",
		BodyAr: "عقد إيجار {{contractNumber}} بين {{ownerName}} و {{tenantName}}",
		Fields: []TemplateField{
			{Key: "contractNumber", Label: Bilingual{En: "Contract number", Ar: "رقم العقد"}},
			{Key: "ownerName", Label: Bilingual{En: "Owner", Ar: "المالك"}, Required: true},
			{Key: "tenantName", Label: Bilingual{En: "Tenant", Ar: "المستأجر"}, Required: true},
			{Key: "startDate", Label: Bilingual{En: "Start", Ar: "البداية"}, Required: true},
			{Key: "endDate", Label: Bilingual{En: "End", Ar: "النهاية"}, Required: true},
			{Key: "witness", Label: Bilingual{En: "Witness", Ar: "الشاهد"}, Required: true},
		},
	})
	require.NoError(t, err)
	return tpl
}

func TestCreateTemplate_Validation(t *testing.T) {
	setupTestDB(t)

	tests := []struct {
		name  string
		input *NewContractTemplate
		field string
	}{
		{"missing name", &NewContractTemplate{Scope: TemplateScopeUnified, BodyEn: "x"}, "name"},
		{"bad scope", &NewContractTemplate{Name: "T", Scope: "global", BodyEn: "x"}, "scope"},
		{"per unit without property", &NewContractTemplate{Name: "T", Scope: TemplateScopePerUnit, BodyEn: "x"}, "property_id"},
		{"empty bodies", &NewContractTemplate{Name: "T", Scope: TemplateScopeUnified}, "body_en"},
		{"duplicate keys", &NewContractTemplate{Name: "T", Scope: TemplateScopeUnified, BodyEn: "x",
			Fields: []TemplateField{{Key: "a"}, {Key: "a"}}}, "fields.a"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CreateTemplate(as(ownerActor), tc.input)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tc.field)
		})
	}
}

func TestContractTemplate_RenderAndMissing(t *testing.T) {
	tpl := ContractTemplate{
		BodyEn: "Hello {{ name }}, unit {{unit}}",
		BodyAr: "مرحبا {{name}}",
		Fields: []TemplateField{{Key: "name", Required: true}, {Key: "unit"}},
	}
	body := tpl.Render(map[string]string{"name": "Aisha"})
	assert.Equal(t, "Hello Aisha, unit ", body.En)
	assert.Equal(t, "مرحبا Aisha", body.Ar)
	assert.Equal(t, []string{"name"}, tpl.MissingRequired(map[string]string{"name": "  "}))
	assert.Empty(t, tpl.MissingRequired(map[string]string{"name": "Aisha"}))
	assert.Empty(t, tpl.UndeclaredPlaceholders())

	tpl.BodyEn += " {{extra}}"
	assert.Equal(t, []string{"extra"}, tpl.UndeclaredPlaceholders())
}

func TestTemplateStore_CacheInvalidation(t *testing.T) {
	setupTestDB(t)
	mr := miniredis.RunT(t)
	config.UseRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { config.UseRedis(nil) })

	createTestTemplate(t)
	list, err := ListTemplates(as(ownerActor), "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, mr.Exists("ContractTemplateList:all"))

	got, err := GetTemplate(as(ownerActor), "tpl-standard")
	require.NoError(t, err)
	assert.Equal(t, "Standard residential lease", got.Name)
	assert.True(t, mr.Exists("ContractTemplate:tpl-standard"))

	_, err = CreateTemplate(as(ownerActor), &NewContractTemplate{
		ID: "tpl-tower", Name: "Tower A lease", Scope: TemplateScopePerUnit, PropertyId: "prop-1", BodyEn: "Tower lease {{tenantName}}",
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("ContractTemplateList:all"))

	list, err = ListTemplates(as(ownerActor), "")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	perUnit, err := ListTemplates(as(ownerActor), TemplateScopePerUnit)
	require.NoError(t, err)
	require.Len(t, perUnit, 1)
	assert.Equal(t, "tpl-tower", perUnit[0].ID)

	_, err = ListTemplates(as(ownerActor), "global")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = GetTemplate(as(ownerActor), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateContract_FromReservation(t *testing.T) {
	setupTestDB(t)
	createTestTemplate(t)
	r := createTestReservation(t)

	_, err := CreateContract(as(tenantActor), &NewContract{TemplateId: "tpl-standard", ReservationId: r.ID})
	require.ErrorIs(t, err, ErrForbiddenActor)

	_, err = CreateContract(as(otherOwner), &NewContract{TemplateId: "tpl-standard", ReservationId: r.ID})
	require.ErrorIs(t, err, ErrForbiddenActor)

	_, err = CreateContract(as(ownerActor), &NewContract{TemplateId: "missing", ReservationId: r.ID})
	require.ErrorIs(t, err, ErrValidation)

	c, err := CreateContract(as(ownerActor), &NewContract{TemplateId: "tpl-standard", ReservationId: r.Serial})
	require.NoError(t, err)
	assert.Equal(t, "CTR-000001", c.ContractNumber)
	assert.Equal(t, ContractStatusDraft, c.Status)
	assert.Equal(t, ContractLanguage, c.Language)
	assert.Equal(t, "tenant-1", c.Tenant.UserId)
	assert.Equal(t, "owner-1", c.Owner.UserId)
	assert.Equal(t, "Lease CTR-000001 between Hamad and Aisha from 2025-01-01 to 2026-01-01. Witness: ", c.BodyEn)
	assert.Contains(t, c.BodyAr, "CTR-000001")

	linked, err := GetReservation(as(ownerActor), r.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.ContractSnapshot)
	assert.Equal(t, c.ID, linked.ContractSnapshot.ContractId)
	assert.False(t, linked.ContractSnapshot.TenantAccepted)

	again, err := CreateContract(as(ownerActor), &NewContract{TemplateId: "tpl-standard", ReservationId: r.ID})
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
}

func TestUpdateContractDraft_RerendersAndRecomputesTerm(t *testing.T) {
	setupTestDB(t)
	createTestTemplate(t)
	r := createTestReservation(t)
	c, err := CreateContract(as(ownerActor), &NewContract{TemplateId: "tpl-standard", ReservationId: r.ID})
	require.NoError(t, err)

	_, err = UpdateContractDraft(as(tenantActor), c.ID, &ContractPatch{Fields: map[string]string{"witness": "Khalid"}})
	require.ErrorIs(t, err, ErrForbiddenActor)

	updated, err := UpdateContractDraft(as(ownerActor), c.ID, &ContractPatch{
		Fields:         map[string]string{"witness": "Khalid"},
		DurationMonths: intPtr(6),
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-07-01", formatDate(updated.EndDate))
	assert.Equal(t, "Lease CTR-000001 between Hamad and Aisha from 2025-01-01 to 2025-07-01. Witness: Khalid", updated.BodyEn)

	linked, err := GetReservation(as(ownerActor), r.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.ContractSnapshot)
	assert.Equal(t, updated.BodyEn, linked.ContractSnapshot.Body.En)

	_, err = UpdateContractDraft(as(ownerActor), c.ID, &ContractPatch{EndDate: strPtr("2024-01-01")})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestContractSignatureFlow(t *testing.T) {
	db := setupTestDB(t)
	createTestTemplate(t)
	r := createTestReservation(t)
	_, err := ApproveReservation(as(ownerActor), r.ID)
	require.NoError(t, err)
	c, err := CreateContract(as(ownerActor), &NewContract{TemplateId: "tpl-standard", ReservationId: r.ID})
	require.NoError(t, err)

	_, err = ApplyContractAction(as(ownerActor), c.ID, ContractActionInput{Action: ContractActionLandlordApprove})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.NotErrorIs(t, err, ErrForbiddenActor)

	_, err = ApplyContractAction(as(ownerActor), c.ID, ContractActionInput{Action: ContractActionRequestSignature})
	require.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "fields.witness")

	_, err = UpdateContractDraft(as(ownerActor), c.ID, &ContractPatch{Fields: map[string]string{"witness": "Khalid"}})
	require.NoError(t, err)

	sent, err := ApplyContractAction(as(ownerActor), c.ContractNumber, ContractActionInput{Action: ContractActionSendForSignature})
	require.NoError(t, err)
	assert.Equal(t, ContractStatusAwaitingTenantSignature, sent.Status)
	require.NotNil(t, sent.SignatureDeadline)
	assert.True(t, sent.SignatureDeadline.After(time.Now()))

	_, err = ApplyContractAction(as(ownerActor), c.ID, ContractActionInput{Action: ContractActionTenantAccept})
	require.ErrorIs(t, err, ErrForbiddenActor)

	accepted, err := ApplyContractAction(as(tenantActor), c.ID, ContractActionInput{Action: ContractActionTenantAccept})
	require.NoError(t, err)
	assert.Equal(t, ContractStatusAwaitingOwnerApproval, accepted.Status)
	require.NotNil(t, accepted.Approval)
	assert.True(t, accepted.Approval.TenantAccepted)

	leased, err := GetReservation(as(ownerActor), r.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatusLeased, leased.Status)
	require.NotNil(t, leased.ContractSnapshot)
	assert.True(t, leased.ContractSnapshot.TenantAccepted)
	assert.Equal(t, "contract:"+c.ContractNumber, leased.SignatureRef)

	_, err = ApplyContractAction(as(otherOwner), c.ID, ContractActionInput{Action: ContractActionLandlordApprove})
	require.ErrorIs(t, err, ErrForbiddenActor)

	approved, err := ApplyContractAction(as(ownerActor), c.ID, ContractActionInput{Action: ContractActionLandlordApprove})
	require.NoError(t, err)
	assert.Equal(t, ContractStatusApproved, approved.Status)
	assert.True(t, approved.Approval.OwnerApproved)

	again, err := ApplyContractAction(as(ownerActor), c.ID, ContractActionInput{Action: ContractActionLandlordApprove})
	require.NoError(t, err)
	assert.Equal(t, ContractStatusApproved, again.Status)

	active, err := ApplyContractAction(as(ownerActor), c.ID, ContractActionInput{Action: ContractActionActivate})
	require.NoError(t, err)
	assert.Equal(t, ContractStatusActive, active.Status)

	assert.EqualValues(t, 1, countRows(t, db, &History{}, "reference_type = ? AND action_type = ?", "contract", string(ContractActionLandlordApprove)))
}

func TestContractAcceptedBeforeReservationApproval(t *testing.T) {
	setupTestDB(t)
	createTestTemplate(t)
	r := createTestReservation(t)
	c, err := CreateContract(as(ownerActor), &NewContract{
		TemplateId: "tpl-standard", ReservationId: r.ID, Fields: map[string]string{"witness": "Khalid"},
	})
	require.NoError(t, err)
	_, err = ApplyContractAction(as(ownerActor), c.ID, ContractActionInput{Action: ContractActionSendForSignature})
	require.NoError(t, err)
	_, err = ApplyContractAction(as(tenantActor), c.ID, ContractActionInput{Action: ContractActionTenantAccept})
	require.NoError(t, err)

	reserved, err := GetReservation(as(ownerActor), r.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatusReserved, reserved.Status)
	assert.True(t, reserved.ContractSnapshot.TenantAccepted)

	approved, err := ApproveReservation(as(ownerActor), r.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatusLeased, approved.Status)
}

func TestCancelReservationCancelsLinkedContract(t *testing.T) {
	setupTestDB(t)
	createTestTemplate(t)
	r := createTestReservation(t)
	c, err := CreateContract(as(ownerActor), &NewContract{TemplateId: "tpl-standard", ReservationId: r.ID})
	require.NoError(t, err)

	_, err = ApplyReservationAction(as(tenantActor), r.ID, ReservationActionInput{Action: ReservationActionCancel, Reason: "moved abroad"})
	require.NoError(t, err)

	closed, err := GetContract(as(ownerActor), c.ID)
	require.NoError(t, err)
	assert.Equal(t, ContractStatusCancelled, closed.Status)
	assert.Equal(t, "moved abroad", closed.CancellationReason)
}

func TestExpireStaleContracts(t *testing.T) {
	db := setupTestDB(t)
	createTestTemplate(t)
	c, err := CreateContract(as(ownerActor), &NewContract{
		TemplateId: "tpl-standard",
		Owner:      &Party{UserId: "owner-1", Name: "Hamad"},
		Tenant:     &Party{UserId: "tenant-1", Name: "Aisha"},
		StartDate:  strPtr("2025-01-01"),
		EndDate:    strPtr("2025-12-31"),
		Fields:     map[string]string{"ownerName": "Hamad", "tenantName": "Aisha", "witness": "Khalid"},
	})
	require.NoError(t, err)
	_, err = ApplyContractAction(as(ownerActor), c.ID, ContractActionInput{Action: ContractActionSendForSignature})
	require.NoError(t, err)

	n, err := ExpireStaleContracts(as(ownerActor), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&Contract{}).Where("id = ?", c.ID).Update("signature_deadline", past).Error)
	n, err = ExpireStaleContracts(as(ownerActor), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := GetContract(as(ownerActor), c.ID)
	require.NoError(t, err)
	assert.Equal(t, ContractStatusCancelled, expired.Status)
	assert.Equal(t, "expired", expired.CancellationReason)
}

func TestContractDocument(t *testing.T) {
	doc, err := ContractDocument(&Contract{ContractNumber: "CTR-000009", BodyEn: "**Rent** <b>x</b>", BodyAr: "الإيجار"})
	require.NoError(t, err)
	html := string(doc)
	assert.Contains(t, html, "Lease Contract CTR-000009")
	assert.Contains(t, html, "<strong>Rent</strong>")
	assert.Contains(t, html, `dir="rtl"`)
	assert.NotContains(t, html, "<b>x</b>")
}

// recordRowLocks collects the table of every SELECT ... FOR UPDATE issued on db.
func recordRowLocks(t *testing.T, db *gorm.DB) *[]string {
	t.Helper()
	var tables []string
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("test:row_locks", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Clauses["FOR"]; ok && tx.Statement.Schema != nil {
			tables = append(tables, tx.Statement.Schema.Table)
		}
	}))
	return &tables
}

func assertLockedBefore(t *testing.T, locks []string, first, second string) {
	t.Helper()
	i, j := slices.Index(locks, first), slices.Index(locks, second)
	require.NotEqual(t, -1, i, "no %s lock in %v", first, locks)
	require.NotEqual(t, -1, j, "no %s lock in %v", second, locks)
	assert.Less(t, i, j, "lock order %v", locks)
}

func TestLockOrder_ReservationBeforeContract(t *testing.T) {
	db := setupTestDB(t)
	mr := miniredis.RunT(t)
	config.UseRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { config.UseRedis(nil) })

	createTestTemplate(t)
	r := createTestReservation(t)
	_, err := ApproveReservation(as(ownerActor), r.ID)
	require.NoError(t, err)
	c, err := CreateContract(as(ownerActor), &NewContract{TemplateId: "tpl-standard", ReservationId: r.ID})
	require.NoError(t, err)

	locks := recordRowLocks(t, db)

	*locks = nil
	_, err = UpdateContractDraft(as(ownerActor), c.ID, &ContractPatch{Fields: map[string]string{"witness": "Khalid"}})
	require.NoError(t, err)
	assertLockedBefore(t, *locks, "reservations", "contracts")

	_, err = ApplyContractAction(as(ownerActor), c.ID, ContractActionInput{Action: ContractActionSendForSignature})
	require.NoError(t, err)

	*locks = nil
	_, err = ApplyContractAction(as(tenantActor), c.ID, ContractActionInput{Action: ContractActionTenantAccept})
	require.NoError(t, err)
	assertLockedBefore(t, *locks, "reservations", "contracts")

	invoices, err := ListInvoices(as(ownerActor), InvoiceFilter{ReservationId: r.ID})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	*locks = nil
	_, _, err = ApplyPayment(as(tenantActor), invoices[0].InvoiceNumber, PaymentInput{Amount: invoices[0].Amount, Method: "card"})
	require.NoError(t, err)
	assertLockedBefore(t, *locks, "reservations", "invoices")

	for _, key := range mr.Keys() {
		assert.False(t, strings.HasPrefix(key, "lock:"), "redis lock %s left behind", key)
	}
}

func TestLockOrder_ReservationCancelLocksReservationFirst(t *testing.T) {
	db := setupTestDB(t)
	createTestTemplate(t)
	r := createTestReservation(t)
	_, err := CreateContract(as(ownerActor), &NewContract{TemplateId: "tpl-standard", ReservationId: r.ID})
	require.NoError(t, err)

	locks := recordRowLocks(t, db)
	_, err = ApplyReservationAction(as(tenantActor), r.ID, ReservationActionInput{Action: ReservationActionCancel, Reason: "moved abroad"})
	require.NoError(t, err)
	assertLockedBefore(t, *locks, "reservations", "contracts")
}
