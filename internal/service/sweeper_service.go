package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/access"
	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/observability"
	"github.com/boddenberg/gestor-assinaturas-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var sweepTracer = otel.Tracer("service/sweeper")

// ExpiringSoonWindow is how far ahead the sweeper warns about ending trials.
const ExpiringSoonWindow = 3 * 24 * time.Hour

const inAppChannel = "in_app"

// SweeperService expires lapsed trials and warns tenants whose trial ends soon.
type SweeperService struct {
	store       port.SweepStore
	notifiers   []port.Notifier
	concurrency int
	invalidator StatusInvalidator
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewSweeperService creates the trial sweeper. concurrency bounds the
// notification fan-out.
func NewSweeperService(store port.SweepStore, notifiers []port.Notifier, concurrency int, invalidator StatusInvalidator, metrics *observability.Metrics, logger *zap.Logger) *SweeperService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &SweeperService{
		store:       store,
		notifiers:   notifiers,
		concurrency: concurrency,
		invalidator: invalidator,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Run performs one sweep. Status updates are committed before any
// notification is attempted, and notification failures never fail the sweep.
func (s *SweeperService) Run(ctx context.Context) (*domain.SweepResult, error) {
	ctx, span := sweepTracer.Start(ctx, "SweeperService.Run")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("trial_sweep", time.Since(start)) }()

	now := s.now().UTC()

	lapsed, err := s.store.ListTrialsEndingBefore(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list lapsed trials: %w", err)
	}

	ids := make([]string, 0, len(lapsed))
	for _, sub := range lapsed {
		ids = append(ids, sub.ID)
	}

	updated, err := s.store.BulkUpdateStatus(ctx, ids, domain.StatusTrial, domain.StatusExpired)
	if err != nil {
		return nil, fmt.Errorf("expire %d trials: %w", len(ids), err)
	}
	s.metrics.AddTrialsExpired(updated)
	if s.invalidator != nil {
		for _, sub := range lapsed {
			s.invalidator.Invalidate(sub.EmpresaID)
		}
	}

	expiring, err := s.store.ListTrialsEndingBetween(ctx, now, now.Add(ExpiringSoonWindow))
	if err != nil {
		return nil, fmt.Errorf("list expiring trials: %w", err)
	}
	expiring = onePerTenant(expiring)

	s.warnAll(ctx, expiring, now)

	span.SetAttributes(
		attribute.Int("sweep.expired", updated),
		attribute.Int("sweep.expiring_soon", len(expiring)),
	)
	s.logger.Info("trial sweep finished",
		zap.Int("lapsed_found", len(lapsed)),
		zap.Int("expired_updated", updated),
		zap.Int("expiring_soon", len(expiring)),
	)

	return &domain.SweepResult{
		Success:              true,
		ExpiredTrialsUpdated: updated,
		TrialsExpiringSoon:   len(expiring),
	}, nil
}

func onePerTenant(subs []domain.Subscription) []domain.Subscription {
	seen := make(map[string]bool, len(subs))
	out := subs[:0]
	for _, sub := range subs {
		if sub.TrialEndDate == nil || seen[sub.EmpresaID] {
			continue
		}
		seen[sub.EmpresaID] = true
		out = append(out, sub)
	}
	return out
}

// warnAll notifies every expiring tenant with bounded concurrency.
func (s *SweeperService) warnAll(ctx context.Context, subs []domain.Subscription, now time.Time) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			s.warnTenant(gctx, sub, now)
			return nil
		})
	}
	_ = g.Wait()
}

// warnTenant stores the in-app notification and, when it is new, pushes it
// through the outbound channels. Every failure is logged and swallowed.
func (s *SweeperService) warnTenant(ctx context.Context, sub domain.Subscription, now time.Time) {
	days := access.DaysRemaining(*sub.TrialEndDate, now)
	n := trialExpiringNotification(sub.EmpresaID, days, now)

	created, err := s.store.InsertNotification(ctx, n)
	if err != nil {
		s.metrics.IncrTrialWarning(inAppChannel, "failed")
		s.logger.Warn("sweep: notification insert failed",
			zap.String("empresa_id", sub.EmpresaID),
			zap.Error(err),
		)
		return
	}
	if !created {
		s.metrics.IncrTrialWarning(inAppChannel, "duplicate")
		return
	}
	s.metrics.IncrTrialWarning(inAppChannel, "sent")

	if len(s.notifiers) == 0 {
		return
	}

	empresa, err := s.store.GetEmpresa(ctx, sub.EmpresaID)
	if err != nil {
		s.logger.Warn("sweep: empresa lookup failed, skipping outbound channels",
			zap.String("empresa_id", sub.EmpresaID),
			zap.Error(err),
		)
		return
	}

	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, empresa, n); err != nil {
			s.metrics.IncrTrialWarning(notifier.Name(), "failed")
			s.logger.Warn("sweep: outbound notification failed",
				zap.String("channel", notifier.Name()),
				zap.String("empresa_id", sub.EmpresaID),
				zap.Error(err),
			)
			continue
		}
		s.metrics.IncrTrialWarning(notifier.Name(), "sent")
	}
}

func trialExpiringNotification(empresaID string, days int, now time.Time) *domain.Notification {
	msg := fmt.Sprintf("Seu período de teste termina em %d dias. Assine para continuar usando o sistema.", days)
	switch days {
	case 0:
		msg = "Seu período de teste termina hoje. Assine para continuar usando o sistema."
	case 1:
		msg = "Seu período de teste termina amanhã. Assine para continuar usando o sistema."
	}

	return &domain.Notification{
		ID:        uuid.NewString(),
		EmpresaID: empresaID,
		Type:      domain.NotificationTrialExpiring,
		Title:     "Período de teste terminando",
		Message:   msg,
		DedupeKey: fmt.Sprintf("%s:%s:%d", domain.NotificationTrialExpiring, empresaID, days),
		CreatedAt: now,
	}
}
