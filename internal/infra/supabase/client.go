// Package supabase provides the persistence gateway over Supabase
// (PostgREST tables + RPC stored procedures). Row operations run with the
// service role key; privilege checks run with the caller's own bearer token.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/observability"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	bulkhead       *resilience.Bulkhead
	metrics        *observability.Metrics
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		bulkhead:       resilience.NewBulkhead(cfg.MaxConcurrency),
		logger:         logger,
	}
}

// WithMetrics counts failed calls in billing_external_errors_total.
func (c *Client) WithMetrics(m *observability.Metrics) *Client {
	c.metrics = m
	return c
}

// request describes one PostgREST call. Path is relative to /rest/v1/.
type request struct {
	method string
	path   string
	body   any
	prefer string
	// bearer overrides the service role key (caller-scoped calls).
	bearer string
}

// apiError is a non-2xx answer from PostgREST.
type apiError struct {
	Method  string
	Path    string
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("supabase %s %s returned %d (%s): %s", e.Method, e.Path, e.Status, e.Code, e.Message)
}

// isUniqueViolation reports a PostgREST conflict caused by a unique constraint.
func (e *apiError) isUniqueViolation() bool {
	return e.Status == http.StatusConflict || e.Code == "23505"
}

// send executes a single attempt. 4xx answers are marked permanent so they are
// neither retried nor counted by the circuit breaker.
func (c *Client) send(ctx context.Context, r request) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, r.path)

	var reader io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return nil, resilience.Permanent(err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, url, reader)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", r.method),
			zap.String("path", r.path),
			zap.Error(err),
		)
		return nil, resilience.Permanent(err)
	}

	bearer := r.bearer
	if bearer == "" {
		bearer = c.serviceRoleKey
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", bearer))
	req.Header.Set("Content-Type", "application/json")
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", r.method),
			zap.String("path", r.path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", r.method),
			zap.String("path", r.path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", r.method),
			zap.String("path", r.path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		apiErr := &apiError{Method: r.method, Path: r.path, Status: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		if resp.StatusCode < 500 {
			return nil, resilience.Permanent(apiErr)
		}
		return nil, apiErr
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", r.method),
		zap.String("path", r.path),
		zap.Int("status", resp.StatusCode),
	)

	return body, nil
}

// execute runs a request through the bulkhead, circuit breaker and retry
// policy and maps failures to domain errors.
func (c *Client) execute(ctx context.Context, op string, r request) ([]byte, error) {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/" + op, Err: err}
	}
	defer c.bulkhead.Release()

	var body []byte
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			b, err := c.send(ctx, r)
			if err != nil {
				return err
			}
			body = b
			return nil
		})
	})
	if err == nil {
		return body, nil
	}

	var apiErr *apiError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.countError()
		return nil, &domain.ErrCircuitOpen{Service: "supabase"}
	case errors.As(err, &apiErr) && apiErr.isUniqueViolation():
		return nil, &domain.ErrDuplicate{Key: op}
	default:
		c.countError()
		return nil, &domain.ErrExternalService{Service: "supabase/" + op, Err: err}
	}
}

func (c *Client) countError() {
	if c.metrics != nil {
		c.metrics.IncrExternalError("supabase")
	}
}

// Ping checks that PostgREST answers with the service role key.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	_, err := c.send(ctx, request{method: http.MethodGet, path: "subscriptions?select=id&limit=1"})
	return err
}

// decodeRows decodes a PostgREST array answer. An empty body yields no rows.
func decodeRows[T any](body []byte) ([]T, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var rows []T
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
