package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/middlewares"
	"github.com/mmdatafocus/lease_backend/models"
	"github.com/mmdatafocus/lease_backend/utils"
	"github.com/mmdatafocus/lease_backend/workflow"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("JWT_SECRET", "handler-secret")
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

	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	r := gin.New()
	r.Use(middlewares.AuthMiddleware(), middlewares.SessionMiddleware(), middlewares.LoaderMiddleware())
	h := &Handler{Logger: logger}
	h.Register(r)
	return &testServer{t: t, router: r}
}

func (s *testServer) token(userId, name string, role models.ActorRole) string {
	token, _, err := utils.JwtGenerate(utils.JwtCustomClaim{UserId: userId, Username: userId, Name: name, Role: string(role)})
	require.NoError(s.t, err)
	return token
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

var reservationBody = map[string]any{
	"property_id":     "prop-1",
	"unit_id":         "4B",
	"start_date":      "2025-01-01",
	"duration_months": 12,
	"monthly_rent":    100,
	"deposit_amount":  200,
	"customer":        map[string]any{"name": "Aisha", "phone": "+1 650 253 0000", "email": "aisha@example.com"},
	"owner":           map[string]any{"user_id": "owner-1", "name": "Hamad", "email": "hamad@example.com"},
}

func TestReservationRoutes(t *testing.T) {
	s := newTestServer(t)
	tenant := s.token("tenant-1", "Aisha", models.ActorRoleTenant)
	stranger := s.token("tenant-2", "Other", models.ActorRoleTenant)
	owner := s.token("owner-1", "Hamad", models.ActorRoleOwner)
	accounting := s.token("acc-1", "Accounts", models.ActorRoleAccounting)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/reservation", "", reservationBody).Code)

	w := s.do(http.MethodPost, "/reservation", tenant, reservationBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decode[models.Reservation](t, w)
	assert.Equal(t, "RES-000001", created.Serial)
	assert.Equal(t, models.ReservationStatusReserved, created.Status)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/reservation/"+created.Serial, tenant, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/reservation/"+created.ID, stranger, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/reservation/missing", tenant, nil).Code)

	mine := decode[[]models.Reservation](t, s.do(http.MethodGet, "/reservation", tenant, nil))
	assert.Len(t, mine, 1)
	assert.Empty(t, decode[[]models.Reservation](t, s.do(http.MethodGet, "/reservation", stranger, nil)))

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/reservation/"+created.ID+"/approve", tenant, nil).Code)

	w = s.do(http.MethodPatch, "/reservation/"+created.ID, owner, map[string]any{"action": "bogus"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]any](t, w)
	assert.Contains(t, body, "fields")

	w = s.do(http.MethodPatch, "/reservation/"+created.ID, tenant, map[string]any{"action": "tenantSign"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/reservation/"+created.ID+"/reject", owner, map[string]any{"reason": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/reservation/"+created.ID+"/approve", owner, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.ReservationStatusApproved, decode[models.Reservation](t, w).Status)

	invoices := decode[[]models.Invoice](t, s.do(http.MethodGet, "/invoice", tenant, nil))
	require.Len(t, invoices, 1)
	assert.Empty(t, decode[[]models.Invoice](t, s.do(http.MethodGet, "/invoice", stranger, nil)))

	invoicePath := fmt.Sprintf("/invoice/%d", invoices[0].ID)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, invoicePath, stranger, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/invoice/999", accounting, nil).Code)

	w = s.do(http.MethodPost, invoicePath+"/pay", tenant, map[string]any{"amount": 200, "method": "card"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, invoicePath+"/pay", tenant, map[string]any{"amount": 200, "method": "card"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, invoicePath, tenant, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"payment"`)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/reservation/export", tenant, nil).Code)
	w = s.do(http.MethodGet, "/reservation/export", accounting, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	history := decode[[]models.History](t, s.do(http.MethodGet, "/history/reservation/"+created.ID, accounting, nil))
	assert.NotEmpty(t, history)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/history/reservation/"+created.ID, owner, nil).Code)
}

func TestLoginRoute(t *testing.T) {
	s := newTestServer(t)
	_, err := models.CreateUser(models.ContextWithActor(t.Context(), models.SystemActor()), &models.NewUser{
		Username: "hamad", Name: "Hamad", Password: "long-enough", Role: models.ActorRoleOwner,
	})
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/login", "", map[string]any{"username": "hamad", "password": "long-enough"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	info := decode[models.LoginInfo](t, w)
	assert.NotEmpty(t, info.Token)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/login", "", map[string]any{"username": "hamad", "password": "wrong-password"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/login", "", map[string]any{"username": "hamad"}).Code)

	w = s.do(http.MethodGet, "/reservation", info.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&models.ValidationError{Message: "bad"}, http.StatusBadRequest},
		{&models.TransitionError{Entity: "reservation", Action: "approve", Forbidden: true}, http.StatusForbidden},
		{&models.TransitionError{Entity: "reservation", Action: "approve"}, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", models.ErrConflict), http.StatusConflict},
		{fmt.Errorf("reservation %q: %w", "x", models.ErrNotFound), http.StatusNotFound},
		{models.ErrInvalidCredentials, http.StatusUnauthorized},
		{workflow.ErrIdempotencyInProgress, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
