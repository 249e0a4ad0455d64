package supabase_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/observability"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/resilience"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/supabase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	anonKey    = "anon-key"
	serviceKey = "service-key"
)

// captured is what the fake PostgREST saw for the last request.
type captured struct {
	method string
	path   string
	query  map[string][]string
	header http.Header
	body   map[string]any
}

func newTestClient(t *testing.T, status int, response string) (*supabase.Client, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.Query()
		got.header = r.Header.Clone()
		got.body = nil
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	cfg := resilience.Config{MaxRetries: 0, InitialBackoff: time.Millisecond, MaxConcurrency: 4}
	client := supabase.NewClient(srv.Client(), srv.URL, anonKey, serviceKey,
		resilience.NewCircuitBreaker("supabase-test"), cfg, zap.NewNop())
	return client, got
}

func TestGetSubscriptionByEmpresa(t *testing.T) {
	client, got := newTestClient(t, http.StatusOK,
		`[{"id":"sub-1","empresa_id":"E1","status":"active","is_recurring":true}]`)

	sub, err := client.GetSubscriptionByEmpresa(context.Background(), "E1")
	require.NoError(t, err)

	assert.Equal(t, "sub-1", sub.ID)
	assert.Equal(t, domain.StatusActive, sub.Status)
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/rest/v1/subscriptions", got.path)
	assert.Equal(t, []string{"eq.E1"}, got.query["empresa_id"])
	assert.Equal(t, anonKey, got.header.Get("apikey"))
	assert.Equal(t, "Bearer "+serviceKey, got.header.Get("Authorization"))
}

func TestGetSubscription_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.StatusOK, `[]`)

	_, err := client.GetSubscription(context.Background(), "sub-404")

	var notFound *domain.ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestUpsertSubscription_MergesOnEmpresa(t *testing.T) {
	client, got := newTestClient(t, http.StatusCreated, `[{"id":"sub-1","empresa_id":"E1","status":"active"}]`)
	start := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	sub, err := client.UpsertSubscription(context.Background(), &domain.Subscription{
		EmpresaID:          "E1",
		Status:             domain.StatusActive,
		CurrentPeriodStart: &start,
	})
	require.NoError(t, err)

	assert.Equal(t, "sub-1", sub.ID)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, []string{"empresa_id"}, got.query["on_conflict"])
	assert.Contains(t, got.header.Get("Prefer"), "resolution=merge-duplicates")
	assert.Equal(t, "2026-10-16T00:00:00Z", got.body["current_period_start"])
	assert.NotContains(t, got.body, "trial_end_date", "unset timestamps are not sent")
}

func TestInsertPayment_ConflictIsDuplicate(t *testing.T) {
	client, got := newTestClient(t, http.StatusConflict,
		`{"code":"23505","message":"duplicate key value violates unique constraint"}`)

	err := client.InsertPayment(context.Background(), &domain.Payment{
		ExternalEventID: "evt_1",
		Status:          domain.PaymentApproved,
		AmountCents:     9900,
	})

	var dup *domain.ErrDuplicate
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "/rest/v1/payments", got.path)
	assert.Equal(t, "evt_1", got.body["external_event_id"])
}

func TestInsertPayment_SendsClientID(t *testing.T) {
	client, got := newTestClient(t, http.StatusCreated, ``)

	err := client.InsertPayment(context.Background(), &domain.Payment{
		ID:              "8f6c2d0e-5b7a-4f1e-9a3c-1d2e3f4a5b6c",
		ExternalEventID: "evt_1",
		Status:          domain.PaymentApproved,
	})
	require.NoError(t, err)

	assert.Equal(t, "8f6c2d0e-5b7a-4f1e-9a3c-1d2e3f4a5b6c", got.body["id"])
}

func TestPaymentIDByEvent(t *testing.T) {
	client, got := newTestClient(t, http.StatusOK, `[{"id":"pay-1"}]`)

	id, err := client.PaymentIDByEvent(context.Background(), "evt_1")
	require.NoError(t, err)

	assert.Equal(t, "pay-1", id)
	assert.Equal(t, "/rest/v1/payments", got.path)
	assert.Equal(t, []string{"eq.evt_1"}, got.query["external_event_id"])
	assert.Equal(t, []string{"id"}, got.query["select"])

	client, _ = newTestClient(t, http.StatusOK, `[]`)
	_, err = client.PaymentIDByEvent(context.Background(), "evt_2")
	var notFound *domain.ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestClaimEvent(t *testing.T) {
	claim := &domain.EventClaim{
		ID:        "claim-1",
		EventID:   "evt_c",
		Type:      domain.EventSubscriptionCanceled,
		EmpresaID: "E1",
		ClaimedAt: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}

	client, got := newTestClient(t, http.StatusCreated, ``)
	require.NoError(t, client.ClaimEvent(context.Background(), claim))
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/rest/v1/processed_events", got.path)
	assert.Equal(t, "claim-1", got.body["id"])
	assert.Equal(t, "evt_c", got.body["event_id"])
	assert.Equal(t, "E1", got.body["empresa_id"])

	client, _ = newTestClient(t, http.StatusConflict, `{"code":"23505","message":"duplicate key"}`)
	var dup *domain.ErrDuplicate
	assert.ErrorAs(t, client.ClaimEvent(context.Background(), claim), &dup)
}

func TestEventClaimed(t *testing.T) {
	client, got := newTestClient(t, http.StatusOK, `[{"id":"claim-1"}]`)
	claimed, err := client.EventClaimed(context.Background(), "evt_c")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, []string{"eq.evt_c"}, got.query["event_id"])

	client, _ = newTestClient(t, http.StatusOK, `[]`)
	claimed, err = client.EventClaimed(context.Background(), "evt_d")
	require.NoError(t, err)
	assert.False(t, claimed)

	client, _ = newTestClient(t, http.StatusInternalServerError, `{"message":"boom"}`)
	_, err = client.EventClaimed(context.Background(), "evt_e")
	var ext *domain.ErrExternalService
	assert.ErrorAs(t, err, &ext)
}

func TestListTrialsEndingBefore_KeepsSubSecondPrecision(t *testing.T) {
	client, got := newTestClient(t, http.StatusOK, `[]`)
	cutoff := time.Date(2026, 10, 16, 12, 0, 0, 500_000_000, time.UTC)

	_, err := client.ListTrialsEndingBefore(context.Background(), cutoff)
	require.NoError(t, err)

	assert.Equal(t, []string{"lt.2026-10-16T12:00:00.5Z"}, got.query["trial_end_date"])
}

func TestFailuresCountAsExternalErrors(t *testing.T) {
	metrics := observability.NewMetrics()

	client, _ := newTestClient(t, http.StatusInternalServerError, `{"message":"boom"}`)
	client.WithMetrics(metrics)
	_, err := client.PaymentExists(context.Background(), "evt_1")
	require.Error(t, err)

	client, _ = newTestClient(t, http.StatusConflict, `{"code":"23505"}`)
	client.WithMetrics(metrics)
	_ = client.InsertPayment(context.Background(), &domain.Payment{ExternalEventID: "evt_1", Status: domain.PaymentApproved})

	assert.Equal(t, int64(1), metrics.Snapshot().ExternalErrors, "a unique violation is not an outage")
}

func TestServerErrorIsExternalService(t *testing.T) {
	client, _ := newTestClient(t, http.StatusInternalServerError, `{"message":"boom"}`)

	_, err := client.PaymentExists(context.Background(), "evt_1")

	var ext *domain.ErrExternalService
	assert.ErrorAs(t, err, &ext)
}

func TestBulkUpdateStatus(t *testing.T) {
	client, got := newTestClient(t, http.StatusOK, `[{"id":"a"},{"id":"b"}]`)

	n, err := client.BulkUpdateStatus(context.Background(), []string{"a", "b", "c"}, domain.StatusTrial, domain.StatusExpired)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, http.MethodPatch, got.method)
	assert.Equal(t, []string{"in.(a,b,c)"}, got.query["id"])
	assert.Equal(t, []string{"eq.trial"}, got.query["status"])
	assert.Equal(t, "expired", got.body["status"])
}

func TestBulkUpdateStatus_NoIDs(t *testing.T) {
	client, got := newTestClient(t, http.StatusOK, `[]`)

	n, err := client.BulkUpdateStatus(context.Background(), nil, domain.StatusTrial, domain.StatusExpired)
	require.NoError(t, err)

	assert.Zero(t, n)
	assert.Empty(t, got.method, "no request issued")
}

func TestInsertNotification(t *testing.T) {
	n := &domain.Notification{EmpresaID: "E1", Type: domain.NotificationTrialExpiring, DedupeKey: "trial_expiring:E1:2"}

	client, got := newTestClient(t, http.StatusCreated, `[{"id":"n-1"}]`)
	created, err := client.InsertNotification(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "n-1", n.ID)
	assert.Equal(t, []string{"dedupe_key"}, got.query["on_conflict"])
	assert.Contains(t, got.header.Get("Prefer"), "resolution=ignore-duplicates")

	client, _ = newTestClient(t, http.StatusCreated, `[]`)
	created, err = client.InsertNotification(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, created, "skipped row means the key already existed")
}

func TestIsSuperAdmin_UsesCallerToken(t *testing.T) {
	client, got := newTestClient(t, http.StatusOK, `true`)

	ok, err := client.ForCaller("caller-jwt").IsSuperAdmin(context.Background())
	require.NoError(t, err)

	assert.True(t, ok)
	assert.Equal(t, "/rest/v1/rpc/is_super_admin", got.path)
	assert.Equal(t, "Bearer caller-jwt", got.header.Get("Authorization"))
	assert.NotContains(t, got.header.Get("Authorization"), serviceKey)
}

func TestIsSuperAdmin_RejectedTokenIsNotAdmin(t *testing.T) {
	client, _ := newTestClient(t, http.StatusUnauthorized, `{"message":"JWT expired"}`)

	ok, err := client.ForCaller("expired-jwt").IsSuperAdmin(context.Background())

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLogSubscriptionAction(t *testing.T) {
	client, got := newTestClient(t, http.StatusNoContent, ``)

	err := client.LogSubscriptionAction(context.Background(), domain.AuditEntry{
		SubscriptionID: "sub-1",
		Action:         domain.AdminSuspend,
		OldStatus:      domain.StatusActive,
		NewStatus:      domain.StatusSuspended,
	})
	require.NoError(t, err)

	assert.Equal(t, "/rest/v1/rpc/log_subscription_action", got.path)
	assert.Equal(t, "suspend", got.body["p_action"])
	assert.Equal(t, "suspended", got.body["p_new_status"])
}

func TestSetProfilesActive(t *testing.T) {
	client, got := newTestClient(t, http.StatusNoContent, ``)

	require.NoError(t, client.SetProfilesActive(context.Background(), "E1", false))

	assert.Equal(t, "/rest/v1/perfis", got.path)
	assert.Equal(t, []string{"eq.E1"}, got.query["empresa_id"])
	assert.Equal(t, false, got.body["ativo"])
}
