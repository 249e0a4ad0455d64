package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Stored procedures (PostgREST /rpc)
// ============================================================

// LogSubscriptionAction records an admin transition through log_subscription_action.
func (c *Client) LogSubscriptionAction(ctx context.Context, entry domain.AuditEntry) error {
	ctx, span := tracer.Start(ctx, "Supabase.LogSubscriptionAction")
	defer span.End()
	span.SetAttributes(
		attribute.String("subscription.id", entry.SubscriptionID),
		attribute.String("action", entry.Action),
	)

	_, err := c.execute(ctx, "log_subscription_action", request{
		method: http.MethodPost,
		path:   "rpc/log_subscription_action",
		body: map[string]any{
			"p_subscription_id": entry.SubscriptionID,
			"p_action":          entry.Action,
			"p_old_status":      string(entry.OldStatus),
			"p_new_status":      string(entry.NewStatus),
		},
	})
	return err
}

// callerScope evaluates privilege checks with the caller's own access token.
// Row level security applies; the service role key is never sent.
type callerScope struct {
	client *Client
	token  string
}

// ForCaller returns an Authorizer bound to the caller's bearer token.
func (c *Client) ForCaller(token string) port.Authorizer {
	return &callerScope{client: c, token: token}
}

// IsSuperAdmin calls is_super_admin() as the caller.
func (s *callerScope) IsSuperAdmin(ctx context.Context) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.IsSuperAdmin")
	defer span.End()

	if s.token == "" {
		return false, nil
	}

	body, err := s.client.execute(ctx, "is_super_admin", request{
		method: http.MethodPost,
		path:   "rpc/is_super_admin",
		body:   map[string]any{},
		bearer: s.token,
	})
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			return false, nil
		}
		return false, err
	}

	var ok bool
	if err := json.Unmarshal(body, &ok); err != nil {
		return false, fmt.Errorf("decode is_super_admin: %w", err)
	}
	span.SetAttributes(attribute.Bool("super_admin", ok))
	return ok, nil
}
