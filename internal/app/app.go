// Package app wires configuration into the persistence gateway, the services
// and their outbound channels. Both binaries build on it.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/boddenberg/gestor-assinaturas-go/internal/access"
	"github.com/boddenberg/gestor-assinaturas-go/internal/config"
	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/handler"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/cache"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/client"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/notify"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/observability"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/postgres"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/resilience"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/supabase"
	"github.com/boddenberg/gestor-assinaturas-go/internal/port"
	"github.com/boddenberg/gestor-assinaturas-go/internal/service"

	"go.uber.org/zap"
)

// App holds the wired services.
type App struct {
	Status   *service.StatusService
	Webhooks *service.WebhookService
	Sweeper  *service.SweeperService
	Admin    *service.AdminService
	Tokens   *service.TokenVerifier
	Store    port.BillingStore
	Metrics  *observability.Metrics

	cfg     *config.Config
	closers []func()
}

// Build connects the persistence gateway and constructs every service.
func Build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, Metrics: metrics, Tokens: service.NewTokenVerifier(cfg.SupabaseJWTSecret)}

	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// --- Persistence ---
	var authz port.AuthorizerFactory
	if cfg.UsePostgres() {
		logger.Info("using Postgres as data backend")
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, int32(cfg.MaxConcurrency), logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		a.Store = pg
		authz = postgres.NewAuthorizer(pg.Pool(), a.Tokens, logger)
	} else {
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))
		sb := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			resilienceCfg,
			logger,
		).WithMetrics(metrics)
		a.Store = sb
		authz = sb
	}

	// --- Status reader ---
	var statusCache port.Cache[*domain.Subscription]
	if cfg.StatusCacheTTL > 0 {
		c := cache.New[*domain.Subscription](cfg.StatusCacheTTL)
		a.closers = append(a.closers, c.Close)
		statusCache = c
	}
	guard := access.NewGuard(cfg.BillingPath, access.DefaultAllowList)
	a.Status = service.NewStatusService(a.Store, statusCache, guard, metrics, logger)

	// --- Outbound channels ---
	var notifiers []port.Notifier
	if cfg.PostmarkServerToken != "" {
		email, err := notify.NewEmailNotifier(cfg.PostmarkServerToken, cfg.PostmarkFrom, logger)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, email.WithMetrics(metrics))
		logger.Info("email notifications enabled")
	}
	if cfg.WhatsAppAPIURL != "" {
		notifiers = append(notifiers, client.NewWhatsAppClient(
			httpClient, cfg.WhatsAppAPIURL, cfg.WhatsAppToken,
			resilience.NewCircuitBreaker("whatsapp"), resilienceCfg, logger,
		).WithMetrics(metrics))
		logger.Info("whatsapp notifications enabled")
	}

	// --- Services ---
	a.Webhooks = service.NewWebhookService(a.Store, cfg.WebhookSecret, cfg.WebhookAllowLegacyToken, a.Status, metrics, logger)
	a.Sweeper = service.NewSweeperService(a.Store, notifiers, cfg.NotifyConcurrency, a.Status, metrics, logger)
	a.Admin = service.NewAdminService(a.Store, authz, a.Status, metrics, logger)

	return a, nil
}

// Router builds the HTTP handler over the wired services.
func (a *App) Router(logger *zap.Logger) http.Handler {
	return handler.NewRouter(handler.Options{
		Webhooks:   a.Webhooks,
		Sweeper:    a.Sweeper,
		Admin:      a.Admin,
		Status:     a.Status,
		Tokens:     a.Tokens,
		Store:      a.Store,
		CronSecret: a.cfg.CronSecret,
	}, a.Metrics, logger)
}

// Close releases pools and background workers in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
