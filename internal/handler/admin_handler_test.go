package handler_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminRequest(token, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/subscriptions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAdminAction_Success(t *testing.T) {
	f := newFixture()
	f.admin.result = &domain.AdminActionResult{
		Success:   true,
		Action:    domain.AdminActivate,
		OldStatus: domain.StatusTrial,
		NewStatus: domain.StatusActive,
	}

	rec := f.do(t, adminRequest("jwt-admin", `{"subscription_id":"sub-1","action":"activate","days":90}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"action":"activate","old_status":"trial","new_status":"active"}`, rec.Body.String())
	assert.Equal(t, "jwt-admin", f.admin.token)
	require.NotNil(t, f.admin.req.Days)
	assert.Equal(t, 90, *f.admin.req.Days)
}

func TestAdminAction_MissingToken(t *testing.T) {
	f := newFixture()

	rec := f.do(t, adminRequest("", `{"subscription_id":"sub-1","action":"cancel"}`))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Forbidden"}`, rec.Body.String())
	assert.Nil(t, f.admin.req)
}

func TestAdminAction_BadBody(t *testing.T) {
	f := newFixture()

	rec := f.do(t, adminRequest("jwt-admin", `{"subscription_id":`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, f.admin.req)
}

func TestAdminAction_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"forbidden", &domain.ErrForbidden{Action: "admin"}, http.StatusForbidden},
		{"validation", &domain.ErrValidation{Field: "action", Message: "unknown action"}, http.StatusBadRequest},
		{"not found", &domain.ErrNotFound{Resource: "subscription", ID: "sub-404"}, http.StatusNotFound},
		{"store failure", &domain.ErrExternalService{Service: "supabase/update_subscription", Err: errBoom}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.admin.err = tt.err

			rec := f.do(t, adminRequest("jwt-admin", `{"subscription_id":"sub-1","action":"suspend"}`))

			assert.Equal(t, tt.code, rec.Code)
			assert.NotContains(t, rec.Body.String(), "boom")
		})
	}
}
