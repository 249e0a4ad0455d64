// Package notify holds the outbound notification channels used by the trial
// sweeper.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/observability"

	"github.com/mrz1836/postmark"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("notify")

// ErrInvalidConfig is returned when a channel is built without its credentials.
var ErrInvalidConfig = errors.New("notify: invalid config")

// EmailNotifier sends notifications as transactional email through Postmark.
type EmailNotifier struct {
	client  *postmark.Client
	from    string
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewEmailNotifier builds a Postmark-backed notifier. Only the server token is
// needed to send.
func NewEmailNotifier(serverToken, from string, logger *zap.Logger) (*EmailNotifier, error) {
	if serverToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if from == "" {
		return nil, fmt.Errorf("%w: sender address is required", ErrInvalidConfig)
	}
	return &EmailNotifier{
		client: postmark.NewClient(serverToken, ""),
		from:   from,
		logger: logger,
	}, nil
}

// WithBaseURL points the notifier at another Postmark-compatible endpoint.
func (e *EmailNotifier) WithBaseURL(url string) *EmailNotifier {
	e.client.BaseURL = url
	return e
}

// WithMetrics counts failed deliveries in billing_external_errors_total.
func (e *EmailNotifier) WithMetrics(m *observability.Metrics) *EmailNotifier {
	e.metrics = m
	return e
}

func (e *EmailNotifier) countError() {
	if e.metrics != nil {
		e.metrics.IncrExternalError("postmark")
	}
}

func (e *EmailNotifier) Name() string { return "email" }

// Notify emails the company contact address. Companies without one are skipped.
func (e *EmailNotifier) Notify(ctx context.Context, empresa *domain.Empresa, n *domain.Notification) error {
	if empresa == nil || empresa.Email == "" {
		return nil
	}
	ctx, span := tracer.Start(ctx, "EmailNotifier.Notify")
	defer span.End()
	span.SetAttributes(
		attribute.String("empresa.id", empresa.ID),
		attribute.String("notification.type", n.Type),
	)

	resp, err := e.client.SendEmail(ctx, postmark.Email{
		From:       e.from,
		To:         empresa.Email,
		Subject:    n.Title,
		Tag:        n.Type,
		TextBody:   n.Message,
		HTMLBody:   renderHTML(empresa, n),
		TrackOpens: true,
	})
	if err != nil {
		e.countError()
		return &domain.ErrExternalService{Service: "postmark", Err: err}
	}
	if resp.ErrorCode > 0 {
		e.countError()
		e.logger.Warn("postmark rejected message",
			zap.String("empresa_id", empresa.ID),
			zap.Any("error_code", resp.ErrorCode),
			zap.String("message", resp.Message),
		)
		return &domain.ErrExternalService{
			Service: "postmark",
			Err:     fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		}
	}
	return nil
}

func renderHTML(empresa *domain.Empresa, n *domain.Notification) string {
	return fmt.Sprintf("<p>Olá, %s.</p><p><strong>%s</strong></p><p>%s</p>",
		html.EscapeString(empresa.Nome), html.EscapeString(n.Title), html.EscapeString(n.Message))
}
