package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/observability"
	"github.com/boddenberg/gestor-assinaturas-go/internal/port"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var adminTracer = otel.Tracer("service/admin")

// AdminService forces subscription transitions on operator command.
// Authorization runs under the caller's own session (authz); every mutation
// runs through the service-role store. The two never share a credential.
type AdminService struct {
	store       port.AdminStore
	authz       port.AuthorizerFactory
	validate    *validator.Validate
	invalidator StatusInvalidator
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewAdminService creates the admin subscription manager.
func NewAdminService(store port.AdminStore, authz port.AuthorizerFactory, invalidator StatusInvalidator, metrics *observability.Metrics, logger *zap.Logger) *AdminService {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &AdminService{
		store:       store,
		authz:       authz,
		validate:    v,
		invalidator: invalidator,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Execute authorizes the caller and applies the requested action.
func (s *AdminService) Execute(ctx context.Context, callerToken string, req *domain.AdminActionRequest) (*domain.AdminActionResult, error) {
	ctx, span := adminTracer.Start(ctx, "AdminService.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("admin.action", req.Action),
		attribute.String("subscription.id", req.SubscriptionID),
	)

	if err := s.authorize(ctx, callerToken); err != nil {
		return nil, err
	}

	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	sub, err := s.store.GetSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}

	result, err := s.apply(ctx, sub, req)
	if err != nil {
		s.metrics.IncrAdminAction(req.Action, "failure")
		return nil, err
	}
	s.metrics.IncrAdminAction(req.Action, "success")

	if s.invalidator != nil {
		s.invalidator.Invalidate(sub.EmpresaID)
	}

	// The transition is committed. Audit failures are logged, not returned.
	entry := domain.AuditEntry{
		SubscriptionID: sub.ID,
		Action:         req.Action,
		OldStatus:      result.OldStatus,
		NewStatus:      result.NewStatus,
	}
	if err := s.store.LogSubscriptionAction(ctx, entry); err != nil {
		s.logger.Error("admin: audit log failed",
			zap.String("subscription_id", sub.ID),
			zap.String("action", req.Action),
			zap.Error(err),
		)
	}

	return result, nil
}

func (s *AdminService) authorize(ctx context.Context, callerToken string) error {
	if callerToken == "" {
		return &domain.ErrForbidden{Action: "manage subscriptions"}
	}

	ok, err := s.authz.ForCaller(callerToken).IsSuperAdmin(ctx)
	if err != nil {
		return fmt.Errorf("check super admin: %w", err)
	}
	if !ok {
		s.logger.Warn("admin: caller is not a super admin")
		return &domain.ErrForbidden{Action: "manage subscriptions"}
	}
	return nil
}

func (s *AdminService) validateRequest(req *domain.AdminActionRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &domain.ErrValidation{Field: fe.Field(), Message: "failed on '" + fe.Tag() + "'"}
		}
		return &domain.ErrValidation{Field: "body", Message: err.Error()}
	}

	switch req.Action {
	case domain.AdminActivate, domain.AdminSuspend, domain.AdminCancel, domain.AdminDelete:
		return nil
	}
	return &domain.ErrValidation{Field: "action", Message: "unknown action: " + req.Action}
}

func (s *AdminService) apply(ctx context.Context, sub *domain.Subscription, req *domain.AdminActionRequest) (*domain.AdminActionResult, error) {
	now := s.now().UTC()
	result := &domain.AdminActionResult{
		Success:   true,
		Action:    req.Action,
		OldStatus: sub.Status,
	}

	switch req.Action {
	case domain.AdminActivate:
		days := domain.DefaultActivationDays
		if req.Days != nil {
			days = *req.Days
		}
		end := now.AddDate(0, 0, days)
		upd := domain.SubscriptionUpdate{
			Status:             domain.StatusPtr(domain.StatusActive),
			CurrentPeriodStart: &now,
			CurrentPeriodEnd:   &end,
		}
		if err := s.store.UpdateSubscription(ctx, sub.ID, upd); err != nil {
			return nil, fmt.Errorf("activate subscription %s: %w", sub.ID, err)
		}
		if err := s.store.SetProfilesActive(ctx, sub.EmpresaID, true); err != nil {
			return nil, fmt.Errorf("reactivate profiles of %s: %w", sub.EmpresaID, err)
		}
		result.NewStatus = domain.StatusActive

	case domain.AdminSuspend:
		upd := domain.SubscriptionUpdate{Status: domain.StatusPtr(domain.StatusSuspended)}
		if err := s.store.UpdateSubscription(ctx, sub.ID, upd); err != nil {
			return nil, fmt.Errorf("suspend subscription %s: %w", sub.ID, err)
		}
		if err := s.store.SetProfilesActive(ctx, sub.EmpresaID, false); err != nil {
			return nil, fmt.Errorf("deactivate profiles of %s: %w", sub.EmpresaID, err)
		}
		result.NewStatus = domain.StatusSuspended

	case domain.AdminCancel:
		upd := domain.SubscriptionUpdate{
			Status:   domain.StatusPtr(domain.StatusCancelled),
			CancelAt: &now,
		}
		if err := s.store.UpdateSubscription(ctx, sub.ID, upd); err != nil {
			return nil, fmt.Errorf("cancel subscription %s: %w", sub.ID, err)
		}
		if err := s.store.SetProfilesActive(ctx, sub.EmpresaID, false); err != nil {
			return nil, fmt.Errorf("deactivate profiles of %s: %w", sub.EmpresaID, err)
		}
		result.NewStatus = domain.StatusCancelled

	case domain.AdminDelete:
		// Profiles are switched off before the row goes away.
		if err := s.store.SetProfilesActive(ctx, sub.EmpresaID, false); err != nil {
			return nil, fmt.Errorf("deactivate profiles of %s: %w", sub.EmpresaID, err)
		}
		if err := s.store.DeleteSubscription(ctx, sub.ID); err != nil {
			s.restoreProfiles(ctx, sub)
			return nil, fmt.Errorf("delete subscription %s: %w", sub.ID, err)
		}
		s.logger.Warn("admin: subscription deleted (irreversible)",
			zap.String("subscription_id", sub.ID),
			zap.String("empresa_id", sub.EmpresaID),
			zap.String("old_status", string(sub.Status)),
		)
		result.NewStatus = domain.StatusDeleted
	}

	s.logger.Info("admin: subscription transition",
		zap.String("subscription_id", sub.ID),
		zap.String("action", req.Action),
		zap.String("old_status", string(result.OldStatus)),
		zap.String("new_status", string(result.NewStatus)),
	)
	return result, nil
}

// restoreProfiles undoes the profile switch-off of a delete whose row removal
// failed. Only tenants whose status still grants access get their profiles back.
func (s *AdminService) restoreProfiles(ctx context.Context, sub *domain.Subscription) {
	if sub.Status != domain.StatusActive && sub.Status != domain.StatusTrial {
		return
	}
	if err := s.store.SetProfilesActive(ctx, sub.EmpresaID, true); err != nil {
		s.logger.Error("admin: delete failed and profiles stay deactivated",
			zap.String("subscription_id", sub.ID),
			zap.String("empresa_id", sub.EmpresaID),
			zap.String("status", string(sub.Status)),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("admin: delete failed, profiles reactivated",
		zap.String("subscription_id", sub.ID),
		zap.String("empresa_id", sub.EmpresaID),
	)
}
