package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/access"
	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/observability"
	"github.com/boddenberg/gestor-assinaturas-go/internal/port"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// WebhookProcessor verifies and applies a raw billing webhook delivery.
type WebhookProcessor interface {
	Handle(ctx context.Context, body []byte, signature string) (*domain.WebhookResult, error)
}

// TrialSweeper runs one trial expiry pass.
type TrialSweeper interface {
	Run(ctx context.Context) (*domain.SweepResult, error)
}

// SubscriptionAdmin executes privileged subscription actions.
type SubscriptionAdmin interface {
	Execute(ctx context.Context, callerToken string, req *domain.AdminActionRequest) (*domain.AdminActionResult, error)
}

// StatusReader answers subscription status questions for a tenant.
type StatusReader interface {
	Current(ctx context.Context, empresaID string) access.Decision
	Check(ctx context.Context, empresaID, path string) access.Verdict
	TenantOf(ctx context.Context, userID string) (string, error)
	StartTrial(ctx context.Context, empresaID string) (*domain.Subscription, bool, error)
	BillingPath() string
}

// Pinger reports whether the persistence backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the collaborators the router dispatches to.
type Options struct {
	Webhooks   WebhookProcessor
	Sweeper    TrialSweeper
	Admin      SubscriptionAdmin
	Status     StatusReader
	Tokens     port.TokenVerifier
	Store      Pinger
	CronSecret string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(opts Options, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(observability.RequestMetricsMiddleware(metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(opts.Store, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Billing provider callbacks. Authenticated by HMAC signature.
		r.Post("/webhooks/billing", webhookHandler(opts.Webhooks, logger))

		// Scheduled jobs. Authenticated by the shared cron secret.
		r.Post("/jobs/trial-sweep", trialSweepHandler(opts.Sweeper, opts.CronSecret, logger))

		// Super admin console. Authorization happens in the service,
		// under the caller's own token.
		r.Post("/admin/subscriptions", adminActionHandler(opts.Admin, logger))

		r.Get("/ops/billing-metrics", billingMetricsHandler(metrics))

		// Tenant-facing routes.
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(opts.Tokens, opts.Status, logger))

			r.Get("/subscription/status", subscriptionStatusHandler(opts.Status))
			r.Get("/subscription/guard", subscriptionGuardHandler(opts.Status))
			r.Post("/subscriptions/trial", startTrialHandler(opts.Status, logger))

			r.Group(func(r chi.Router) {
				r.Use(RequireAccess(opts.Status, logger))
				r.Get("/app/session", sessionHandler(opts.Status))
			})
		})
	})

	return r
}

func healthzHandler(store Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "billing-api", Status: "healthy", LastChecked: now},
		}

		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			start := time.Now()
			err := store.Ping(ctx)
			latency := time.Since(start).Milliseconds()
			status := "healthy"
			if err != nil {
				logger.Warn("health check: store unreachable", zap.Error(err))
				status = "degraded"
			}
			services = append(services, domain.ServiceHealth{
				Name: "store", Status: status, LatencyMs: latency, LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status != "healthy" {
				overallStatus = s.Status
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overallStatus, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func billingMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
