package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/boddenberg/gestor-assinaturas-go/internal/access"
	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/handler"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/observability"

	"go.uber.org/zap"
)

var errBoom = errors.New("boom")

type stubWebhooks struct {
	result    *domain.WebhookResult
	err       error
	body      string
	signature string
}

func (s *stubWebhooks) Handle(_ context.Context, body []byte, signature string) (*domain.WebhookResult, error) {
	s.body = string(body)
	s.signature = signature
	if s.err != nil {
		return nil, s.err
	}
	if s.result == nil {
		return &domain.WebhookResult{}, nil
	}
	return s.result, nil
}

type stubSweeper struct {
	result *domain.SweepResult
	err    error
	runs   int
}

func (s *stubSweeper) Run(context.Context) (*domain.SweepResult, error) {
	s.runs++
	return s.result, s.err
}

type stubAdmin struct {
	result *domain.AdminActionResult
	err    error
	token  string
	req    *domain.AdminActionRequest
}

func (s *stubAdmin) Execute(_ context.Context, token string, req *domain.AdminActionRequest) (*domain.AdminActionResult, error) {
	s.token = token
	s.req = req
	return s.result, s.err
}

type stubStatus struct {
	decisions map[string]access.Decision
	tenants   map[string]string
	created   bool
	trialErr  error
	trialFor  string
}

func (s *stubStatus) Current(_ context.Context, empresaID string) access.Decision {
	if d, ok := s.decisions[empresaID]; ok {
		return d
	}
	return access.Evaluate(nil, testNow)
}

func (s *stubStatus) Check(ctx context.Context, empresaID, path string) access.Verdict {
	g := access.NewGuard(access.DefaultBillingPath, access.DefaultAllowList)
	return g.Decide(path, access.Loaded, s.Current(ctx, empresaID))
}

func (s *stubStatus) TenantOf(_ context.Context, userID string) (string, error) {
	if e, ok := s.tenants[userID]; ok {
		return e, nil
	}
	return "", &domain.ErrNotFound{Resource: "profile", ID: userID}
}

func (s *stubStatus) StartTrial(_ context.Context, empresaID string) (*domain.Subscription, bool, error) {
	s.trialFor = empresaID
	if s.trialErr != nil {
		return nil, false, s.trialErr
	}
	return domain.NewTrialSubscription(empresaID, testNow), s.created, nil
}

func (s *stubStatus) BillingPath() string { return access.DefaultBillingPath }

// stubTokens accepts tokens of the form "user:<id>".
type stubTokens struct{}

func (stubTokens) Verify(token string) (*domain.Caller, error) {
	id, ok := strings.CutPrefix(token, "user:")
	if !ok || id == "" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	return &domain.Caller{UserID: id, Email: id + "@example.com", Role: "authenticated"}, nil
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type fixture struct {
	webhooks *stubWebhooks
	sweeper  *stubSweeper
	admin    *stubAdmin
	status   *stubStatus
	store    stubPinger
	metrics  *observability.Metrics
}

const testCronSecret = "cron-secret"

func newFixture() *fixture {
	return &fixture{
		webhooks: &stubWebhooks{},
		sweeper:  &stubSweeper{},
		admin:    &stubAdmin{},
		status: &stubStatus{
			decisions: map[string]access.Decision{},
			tenants:   map[string]string{},
		},
		metrics: observability.NewMetrics(),
	}
}

func (f *fixture) router() http.Handler {
	return handler.NewRouter(handler.Options{
		Webhooks:   f.webhooks,
		Sweeper:    f.sweeper,
		Admin:      f.admin,
		Status:     f.status,
		Tokens:     stubTokens{},
		Store:      f.store,
		CronSecret: testCronSecret,
	}, f.metrics, zap.NewNop())
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router().ServeHTTP(rec, req)
	return rec
}
