package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/access"
	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/observability"
	"github.com/boddenberg/gestor-assinaturas-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var statusTracer = otel.Tracer("service/status")

const statusCacheName = "subscription_status"

// StatusInvalidator drops cached subscription state of a tenant after a write.
type StatusInvalidator interface {
	Invalidate(empresaID string)
}

// StatusService reads the tenant subscription and turns it into an access
// decision. Reads go through an optional TTL cache and fail closed.
type StatusService struct {
	store   port.StatusStore
	cache   port.Cache[*domain.Subscription]
	guard   *access.Guard
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	// bumped on every Invalidate; a read that overlaps one does not fill the
	// cache, so it cannot put back the row the write just dropped
	epoch atomic.Uint64
}

// NewStatusService creates a status reader. A nil cache disables caching.
func NewStatusService(store port.StatusStore, cache port.Cache[*domain.Subscription], guard *access.Guard, metrics *observability.Metrics, logger *zap.Logger) *StatusService {
	return &StatusService{
		store:   store,
		cache:   cache,
		guard:   guard,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Current returns the access decision for a tenant. Persistence errors yield a
// denied decision, never an error.
func (s *StatusService) Current(ctx context.Context, empresaID string) access.Decision {
	d, _ := s.load(ctx, empresaID)
	return d
}

// Check runs the route guard for path against the tenant's current state.
// Allow-listed paths never touch the store.
func (s *StatusService) Check(ctx context.Context, empresaID, path string) access.Verdict {
	if s.guard.Allowed(path) {
		return access.Verdict{Outcome: access.OutcomeAllow}
	}
	d, state := s.load(ctx, empresaID)
	return s.guard.Decide(path, state, d)
}

// BillingPath is where denied callers are sent.
func (s *StatusService) BillingPath() string {
	return s.guard.BillingPath()
}

func (s *StatusService) load(ctx context.Context, empresaID string) (access.Decision, access.LoadState) {
	ctx, span := statusTracer.Start(ctx, "StatusService.Current")
	defer span.End()
	span.SetAttributes(attribute.String("empresa.id", empresaID))

	if empresaID == "" {
		return s.decide(nil), access.Loaded
	}

	sub, err := s.read(ctx, empresaID)
	if err != nil {
		s.logger.Error("subscription status read failed, denying access",
			zap.String("empresa_id", empresaID),
			zap.Error(err),
		)
		s.metrics.IncrAccessDecision(false)
		return access.Denied(), access.Failed
	}
	return s.decide(sub), access.Loaded
}

func (s *StatusService) decide(sub *domain.Subscription) access.Decision {
	d := access.Evaluate(sub, s.now())
	s.metrics.IncrAccessDecision(d.Granted)
	return d
}

// read returns the tenant's subscription, or nil when the tenant has none.
func (s *StatusService) read(ctx context.Context, empresaID string) (*domain.Subscription, error) {
	if s.cache != nil {
		if sub, ok := s.cache.Get(empresaID); ok {
			s.metrics.IncrCacheHit(statusCacheName)
			return sub, nil
		}
		s.metrics.IncrCacheMiss(statusCacheName)
	}

	epoch := s.epoch.Load()
	sub, err := s.store.GetSubscriptionByEmpresa(ctx, empresaID)
	var notFound *domain.ErrNotFound
	switch {
	case errors.As(err, &notFound):
		sub = nil
	case err != nil:
		return nil, err
	}

	if s.cache != nil && s.epoch.Load() == epoch {
		s.cache.Set(empresaID, sub)
	}
	return sub, nil
}

// Invalidate drops the cached row of a tenant. Only this process's cache is
// affected; other replicas catch up when their entry expires.
func (s *StatusService) Invalidate(empresaID string) {
	if s.cache != nil && empresaID != "" {
		s.epoch.Add(1)
		s.cache.Delete(empresaID)
	}
}

// TenantOf resolves the tenant of an authenticated user through its profile.
func (s *StatusService) TenantOf(ctx context.Context, userID string) (string, error) {
	ctx, span := statusTracer.Start(ctx, "StatusService.TenantOf")
	defer span.End()

	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return "", err
	}
	if profile.EmpresaID == "" {
		return "", &domain.ErrNotFound{Resource: "empresa", ID: userID}
	}
	return profile.EmpresaID, nil
}

// StartTrial creates the 7-day trial of a tenant. When the tenant already has
// a subscription it is returned unchanged and created is false.
func (s *StatusService) StartTrial(ctx context.Context, empresaID string) (sub *domain.Subscription, created bool, err error) {
	ctx, span := statusTracer.Start(ctx, "StatusService.StartTrial")
	defer span.End()
	span.SetAttributes(attribute.String("empresa.id", empresaID))

	existing, err := s.store.GetSubscriptionByEmpresa(ctx, empresaID)
	if err == nil {
		return existing, false, nil
	}
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		return nil, false, err
	}

	sub, err = s.store.CreateSubscription(ctx, domain.NewTrialSubscription(empresaID, s.now()))
	var dup *domain.ErrDuplicate
	if errors.As(err, &dup) {
		// Lost a race with a concurrent signup for the same tenant.
		existing, err := s.store.GetSubscriptionByEmpresa(ctx, empresaID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	s.Invalidate(empresaID)
	s.logger.Info("trial started",
		zap.String("empresa_id", empresaID),
		zap.Timep("trial_end_date", sub.TrialEndDate),
	)
	return sub, true, nil
}
