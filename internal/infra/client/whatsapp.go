package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/observability"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("client")

// WhatsAppClient sends text messages through the WhatsApp gateway used by the
// product for tenant communication.
type WhatsAppClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewWhatsAppClient creates a new WhatsAppClient.
func NewWhatsAppClient(httpClient *http.Client, baseURL, token string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *WhatsAppClient {
	return &WhatsAppClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

// WithMetrics counts failed sends in billing_external_errors_total.
func (c *WhatsAppClient) WithMetrics(m *observability.Metrics) *WhatsAppClient {
	c.metrics = m
	return c
}

type whatsAppMessage struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Send delivers one text message to phone.
func (c *WhatsAppClient) Send(ctx context.Context, phone, text string) error {
	ctx, span := tracer.Start(ctx, "WhatsAppClient.Send")
	defer span.End()

	body, err := json.Marshal(whatsAppMessage{Phone: phone, Message: text})
	if err != nil {
		return err
	}

	_, err = c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			url := fmt.Sprintf("%s/v1/messages", c.baseURL)
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return resilience.Permanent(err)
			}
			httpReq.Header.Set("Content-Type", "application/json")
			if c.token != "" {
				httpReq.Header.Set("Authorization", "Bearer "+c.token)
			}

			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return nil
			case resp.StatusCode < 500:
				return resilience.Permanent(fmt.Errorf("whatsapp gateway returned status %d", resp.StatusCode))
			default:
				return fmt.Errorf("whatsapp gateway returned status %d", resp.StatusCode)
			}
		})
	})
	if err != nil {
		c.logger.Warn("whatsapp: send failed", zap.Error(err))
		if c.metrics != nil {
			c.metrics.IncrExternalError("whatsapp")
		}
		return &domain.ErrExternalService{Service: "whatsapp", Err: err}
	}
	return nil
}

// Name implements port.Notifier.
func (c *WhatsAppClient) Name() string { return "whatsapp" }

// Notify implements port.Notifier. Companies without a phone are skipped.
func (c *WhatsAppClient) Notify(ctx context.Context, empresa *domain.Empresa, n *domain.Notification) error {
	if empresa == nil || empresa.Telefone == "" {
		return nil
	}
	ctx, span := tracer.Start(ctx, "WhatsAppClient.Notify")
	defer span.End()
	span.SetAttributes(attribute.String("empresa.id", empresa.ID))

	return c.Send(ctx, empresa.Telefone, fmt.Sprintf("*%s*\n%s", n.Title, n.Message))
}
