package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/observability"
	"github.com/boddenberg/gestor-assinaturas-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var webhookTracer = otel.Tracer("service/webhook")

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

// Webhook outcomes, as counted in metrics.
const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeRejected  = "rejected"
	outcomeError     = "error"
)

// paymentStatusByEvent maps ledger-writing event types to the payment status
// they record. subscription_canceled writes no ledger row and is claimed in
// processed_events instead.
var paymentStatusByEvent = map[string]domain.PaymentStatus{
	domain.EventPixGenerated:     domain.PaymentPending,
	domain.EventPurchaseApproved: domain.PaymentApproved,
	domain.EventPurchaseRefused:  domain.PaymentRefused,
	domain.EventRefund:           domain.PaymentRefunded,
	domain.EventChargeback:       domain.PaymentRefunded,
}

// WebhookService applies billing provider events to the ledger and the
// subscription rows, at most once per event id.
type WebhookService struct {
	store       port.WebhookStore
	secret      []byte
	allowLegacy bool
	invalidator StatusInvalidator
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewWebhookService creates the webhook ingestion service. When allowLegacy is
// set, a signature header equal to the raw secret is also accepted.
func NewWebhookService(store port.WebhookStore, secret string, allowLegacy bool, invalidator StatusInvalidator, metrics *observability.Metrics, logger *zap.Logger) *WebhookService {
	return &WebhookService{
		store:       store,
		secret:      []byte(secret),
		allowLegacy: allowLegacy,
		invalidator: invalidator,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the signature header against the raw body.
func (s *WebhookService) VerifySignature(body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return &domain.ErrInvalidSignature{Reason: "missing " + SignatureHeader}
	}
	if len(s.secret) == 0 {
		return &domain.ErrInvalidSignature{Reason: "no secret configured"}
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	if got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256=")); err == nil && hmac.Equal(got, mac.Sum(nil)) {
		return nil
	}

	if s.allowLegacy && subtle.ConstantTimeCompare([]byte(signature), s.secret) == 1 {
		return nil
	}
	return &domain.ErrInvalidSignature{Reason: "mismatch"}
}

// Handle verifies and decodes a raw delivery, then processes it.
func (s *WebhookService) Handle(ctx context.Context, body []byte, signature string) (*domain.WebhookResult, error) {
	if err := s.VerifySignature(body, signature); err != nil {
		s.metrics.IncrWebhook("unknown", outcomeRejected)
		return nil, err
	}

	var event domain.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.metrics.IncrWebhook("unknown", outcomeRejected)
		return nil, &domain.ErrValidation{Field: "body", Message: "invalid JSON"}
	}
	return s.ProcessEvent(ctx, &event)
}

// ProcessEvent applies one event. A redelivered event id is a successful no-op.
// Unknown event types are acknowledged without side effects.
func (s *WebhookService) ProcessEvent(ctx context.Context, event *domain.WebhookEvent) (*domain.WebhookResult, error) {
	ctx, span := webhookTracer.Start(ctx, "WebhookService.ProcessEvent")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("webhook_process", time.Since(start)) }()

	key := event.EventKey()
	span.SetAttributes(
		attribute.String("webhook.type", event.Type),
		attribute.String("webhook.event_id", key),
	)
	result := &domain.WebhookResult{EventID: key, Type: event.Type}

	if key == "" {
		s.metrics.IncrWebhook(event.Type, outcomeRejected)
		return nil, &domain.ErrValidation{Field: "id", Message: "event id is required"}
	}

	paymentStatus, writesLedger := paymentStatusByEvent[event.Type]
	if !writesLedger && event.Type != domain.EventSubscriptionCanceled {
		s.logger.Info("webhook: unknown event type acknowledged",
			zap.String("type", event.Type),
			zap.String("event_id", key),
		)
		s.metrics.IncrWebhook(event.Type, outcomeIgnored)
		result.Ignored = true
		return result, nil
	}

	seen, err := s.seen(ctx, key, writesLedger)
	if err != nil {
		return s.fail(event, fmt.Errorf("check event %s: %w", key, err))
	}
	if seen {
		return s.duplicate(event, result), nil
	}

	sub, empresaID, err := s.resolveTenant(ctx, event)
	if err != nil {
		return s.fail(event, fmt.Errorf("resolve tenant: %w", err))
	}
	result.EmpresaID = empresaID

	// Only the delivery that wins the claim applies subscription effects.
	won, err := s.claim(ctx, event, writesLedger, paymentStatus, sub, empresaID)
	if err != nil {
		return s.fail(event, fmt.Errorf("claim event %s: %w", key, err))
	}
	if !won {
		return s.duplicate(event, result), nil
	}

	if err := s.applyEffect(ctx, event, sub, empresaID); err != nil {
		return s.fail(event, err)
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(empresaID)
	}
	s.metrics.IncrWebhook(event.Type, outcomeProcessed)
	s.logger.Info("webhook processed",
		zap.String("type", event.Type),
		zap.String("event_id", key),
		zap.String("empresa_id", empresaID),
	)
	return result, nil
}

// seen reports whether an event id was already processed. Ledger events are
// looked up in payments, the others in the event claims.
func (s *WebhookService) seen(ctx context.Context, key string, writesLedger bool) (bool, error) {
	if writesLedger {
		return s.store.PaymentExists(ctx, key)
	}
	return s.store.EventClaimed(ctx, key)
}

// claim records the event under a fresh id: the payment row for ledger events,
// an event claim otherwise. On a unique violation the stored id is read back.
// When it is ours, an earlier attempt of this same insert committed and only
// its answer was lost, so the claim still belongs to this delivery.
func (s *WebhookService) claim(ctx context.Context, event *domain.WebhookEvent, writesLedger bool, status domain.PaymentStatus, sub *domain.Subscription, empresaID string) (bool, error) {
	key := event.EventKey()
	claimID := uuid.NewString()

	var (
		err    error
		lookup func(context.Context, string) (string, error)
	)
	if writesLedger {
		p := s.paymentFor(event, status, sub, empresaID)
		p.ID = claimID
		err = s.store.InsertPayment(ctx, p)
		lookup = s.store.PaymentIDByEvent
	} else {
		err = s.store.ClaimEvent(ctx, &domain.EventClaim{
			ID:        claimID,
			EventID:   key,
			Type:      event.Type,
			EmpresaID: empresaID,
			ClaimedAt: s.now().UTC(),
		})
		lookup = s.store.EventClaimID
	}

	var dup *domain.ErrDuplicate
	if !errors.As(err, &dup) {
		return err == nil, err
	}

	stored, err := lookup(ctx, key)
	var notFound *domain.ErrNotFound
	if errors.As(err, &notFound) {
		return false, fmt.Errorf("event %s rejected as duplicate but no claim is stored", key)
	}
	if err != nil {
		return false, fmt.Errorf("read back claim: %w", err)
	}
	if stored != claimID {
		return false, nil
	}
	s.logger.Warn("webhook: claim committed by an earlier attempt, applying effects",
		zap.String("type", event.Type),
		zap.String("event_id", key),
	)
	return true, nil
}

func (s *WebhookService) duplicate(event *domain.WebhookEvent, result *domain.WebhookResult) *domain.WebhookResult {
	s.logger.Info("webhook: event already processed",
		zap.String("type", event.Type),
		zap.String("event_id", result.EventID),
	)
	s.metrics.IncrWebhook(event.Type, outcomeDuplicate)
	result.Duplicate = true
	return result
}

func (s *WebhookService) fail(event *domain.WebhookEvent, err error) (*domain.WebhookResult, error) {
	s.metrics.IncrWebhook(event.Type, outcomeError)
	return nil, err
}

func (s *WebhookService) paymentFor(event *domain.WebhookEvent, status domain.PaymentStatus, sub *domain.Subscription, empresaID string) *domain.Payment {
	p := &domain.Payment{
		ExternalEventID: event.EventKey(),
		EmpresaID:       empresaID,
		CustomerEmail:   event.Data.CustomerEmail,
		AmountCents:     event.Data.AmountCents,
		Currency:        event.Data.Currency,
		Method:          event.Data.PaymentMethod,
		Status:          status,
		OccurredAt:      s.now().UTC(),
	}
	if sub != nil {
		p.SubscriptionID = sub.ID
	}
	return p
}

// resolveTenant finds the tenant an event belongs to: metadata first, then the
// provider subscription id, then the customer email. The tenant's current
// subscription is returned when it exists. An unresolvable event yields "".
func (s *WebhookService) resolveTenant(ctx context.Context, event *domain.WebhookEvent) (*domain.Subscription, string, error) {
	var notFound *domain.ErrNotFound

	if empresaID := event.EmpresaID(); empresaID != "" {
		sub, err := s.store.GetSubscriptionByEmpresa(ctx, empresaID)
		if errors.As(err, &notFound) {
			return nil, empresaID, nil
		}
		if err != nil {
			return nil, "", err
		}
		return sub, empresaID, nil
	}

	if extID := event.Data.SubscriptionID; extID != "" {
		sub, err := s.store.GetSubscriptionByExternalID(ctx, extID)
		switch {
		case err == nil:
			return sub, sub.EmpresaID, nil
		case !errors.As(err, &notFound):
			return nil, "", err
		}
	}

	if email := event.Data.CustomerEmail; email != "" {
		profile, err := s.store.FindProfileByEmail(ctx, email)
		switch {
		case err == nil && profile.EmpresaID != "":
			sub, err := s.store.GetSubscriptionByEmpresa(ctx, profile.EmpresaID)
			if errors.As(err, &notFound) {
				return nil, profile.EmpresaID, nil
			}
			if err != nil {
				return nil, "", err
			}
			return sub, profile.EmpresaID, nil
		case err != nil && !errors.As(err, &notFound):
			return nil, "", err
		}
	}

	return nil, "", nil
}

// applyEffect performs the subscription transition of an event.
func (s *WebhookService) applyEffect(ctx context.Context, event *domain.WebhookEvent, sub *domain.Subscription, empresaID string) error {
	switch event.Type {
	case domain.EventPurchaseApproved, domain.EventRefund, domain.EventChargeback, domain.EventSubscriptionCanceled:
	default:
		return nil
	}

	if empresaID == "" {
		s.logger.Warn("webhook: tenant not resolved, subscription untouched",
			zap.String("type", event.Type),
			zap.String("event_id", event.EventKey()),
			zap.String("subscription_id", event.Data.SubscriptionID),
		)
		return nil
	}

	now := s.now().UTC()

	switch event.Type {
	case domain.EventPurchaseApproved:
		periodEnd := now.AddDate(0, 1, 0)
		row := &domain.Subscription{
			EmpresaID:              empresaID,
			Status:                 domain.StatusActive,
			CurrentPeriodStart:     &now,
			CurrentPeriodEnd:       &periodEnd,
			ExternalSubscriptionID: event.Data.SubscriptionID,
			IsRecurring:            true,
		}
		if _, err := s.store.UpsertSubscription(ctx, row); err != nil {
			return fmt.Errorf("activate subscription for %s: %w", empresaID, err)
		}

	case domain.EventRefund, domain.EventChargeback:
		if sub == nil {
			s.logger.Warn("webhook: refund for tenant without subscription",
				zap.String("empresa_id", empresaID),
				zap.String("event_id", event.EventKey()),
			)
			return nil
		}
		if !domain.CanTransition(sub.Status, domain.StatusSuspended) {
			s.logger.Info("webhook: refund leaves subscription unchanged",
				zap.String("empresa_id", empresaID),
				zap.String("status", string(sub.Status)),
			)
			return nil
		}
		upd := domain.SubscriptionUpdate{Status: domain.StatusPtr(domain.StatusSuspended)}
		if err := s.store.UpdateSubscriptionByEmpresa(ctx, empresaID, upd); err != nil {
			return fmt.Errorf("suspend subscription for %s: %w", empresaID, err)
		}

	case domain.EventSubscriptionCanceled:
		if sub == nil || sub.Status == domain.StatusCancelled {
			return nil
		}
		upd := domain.SubscriptionUpdate{
			Status:   domain.StatusPtr(domain.StatusCancelled),
			CancelAt: &now,
		}
		if err := s.store.UpdateSubscriptionByEmpresa(ctx, empresaID, upd); err != nil {
			return fmt.Errorf("cancel subscription for %s: %w", empresaID, err)
		}
	}
	return nil
}
