package supabase

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Subscriptions: CRUD via PostgREST
// ============================================================

const subscriptionsTable = "subscriptions"

// subscriptionRow renders the columns to write. Unset timestamps are omitted
// so an upsert merge never clears columns the caller did not mean to touch.
func subscriptionRow(sub *domain.Subscription) map[string]any {
	row := map[string]any{
		"empresa_id":   sub.EmpresaID,
		"status":       string(sub.Status),
		"is_recurring": sub.IsRecurring,
		"updated_at":   formatTime(time.Now()),
	}
	for column, t := range map[string]*time.Time{
		"trial_start_date":     sub.TrialStartDate,
		"trial_end_date":       sub.TrialEndDate,
		"current_period_start": sub.CurrentPeriodStart,
		"current_period_end":   sub.CurrentPeriodEnd,
		"cancel_at":            sub.CancelAt,
	} {
		if t != nil {
			row[column] = formatTime(*t)
		}
	}
	if sub.ExternalSubscriptionID != "" {
		row["external_subscription_id"] = sub.ExternalSubscriptionID
	}
	return row
}

func (c *Client) getOneSubscription(ctx context.Context, op string, q *query, id string) (*domain.Subscription, error) {
	body, err := c.execute(ctx, op, request{method: http.MethodGet, path: q.limit("1").path()})
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows[domain.Subscription](body)
	if err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "subscription", ID: id}
	}
	return &rows[0], nil
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSubscription")
	defer span.End()
	span.SetAttributes(attribute.String("subscription.id", id))

	return c.getOneSubscription(ctx, "get_subscription", from(subscriptionsTable).eq("id", id), id)
}

func (c *Client) GetSubscriptionByEmpresa(ctx context.Context, empresaID string) (*domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSubscriptionByEmpresa")
	defer span.End()
	span.SetAttributes(attribute.String("empresa.id", empresaID))

	return c.getOneSubscription(ctx, "get_subscription", from(subscriptionsTable).eq("empresa_id", empresaID), empresaID)
}

func (c *Client) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSubscriptionByExternalID")
	defer span.End()

	return c.getOneSubscription(ctx, "get_subscription", from(subscriptionsTable).eq("external_subscription_id", externalID), externalID)
}

func (c *Client) CreateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateSubscription")
	defer span.End()

	body, err := c.execute(ctx, "create_subscription", request{
		method: http.MethodPost,
		path:   subscriptionsTable,
		body:   subscriptionRow(sub),
		prefer: "return=representation",
	})
	if err != nil {
		return nil, err
	}
	return firstSubscription(body, "insert")
}

// UpsertSubscription merges on the empresa_id unique key so concurrent writers
// for the same tenant converge on one row.
func (c *Client) UpsertSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertSubscription")
	defer span.End()
	span.SetAttributes(attribute.String("empresa.id", sub.EmpresaID))

	body, err := c.execute(ctx, "upsert_subscription", request{
		method: http.MethodPost,
		path:   from(subscriptionsTable).set("on_conflict", "empresa_id").path(),
		body:   subscriptionRow(sub),
		prefer: "resolution=merge-duplicates,return=representation",
	})
	if err != nil {
		return nil, err
	}
	return firstSubscription(body, "upsert")
}

func firstSubscription(body []byte, op string) (*domain.Subscription, error) {
	rows, err := decodeRows[domain.Subscription](body)
	if err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no result from subscriptions %s", op)
	}
	return &rows[0], nil
}

func (c *Client) UpdateSubscription(ctx context.Context, id string, upd domain.SubscriptionUpdate) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateSubscription")
	defer span.End()
	span.SetAttributes(attribute.String("subscription.id", id))

	_, err := c.execute(ctx, "update_subscription", request{
		method: http.MethodPatch,
		path:   from(subscriptionsTable).eq("id", id).path(),
		body:   upd.Fields(time.Now()),
		prefer: "return=minimal",
	})
	return err
}

func (c *Client) UpdateSubscriptionByEmpresa(ctx context.Context, empresaID string, upd domain.SubscriptionUpdate) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateSubscriptionByEmpresa")
	defer span.End()
	span.SetAttributes(attribute.String("empresa.id", empresaID))

	_, err := c.execute(ctx, "update_subscription", request{
		method: http.MethodPatch,
		path:   from(subscriptionsTable).eq("empresa_id", empresaID).path(),
		body:   upd.Fields(time.Now()),
		prefer: "return=minimal",
	})
	return err
}

func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteSubscription")
	defer span.End()
	span.SetAttributes(attribute.String("subscription.id", id))

	_, err := c.execute(ctx, "delete_subscription", request{
		method: http.MethodDelete,
		path:   from(subscriptionsTable).eq("id", id).path(),
	})
	return err
}

// --- Trials ---

func (c *Client) ListTrialsEndingBefore(ctx context.Context, t time.Time) ([]domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListTrialsEndingBefore")
	defer span.End()

	q := from(subscriptionsTable).
		eq("status", string(domain.StatusTrial)).
		lt("trial_end_date", t).
		set("select", "id,empresa_id,status,trial_start_date,trial_end_date")
	return c.listSubscriptions(ctx, q)
}

func (c *Client) ListTrialsEndingBetween(ctx context.Context, start, end time.Time) ([]domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListTrialsEndingBetween")
	defer span.End()

	q := from(subscriptionsTable).
		eq("status", string(domain.StatusTrial)).
		gte("trial_end_date", start).
		lte("trial_end_date", end).
		set("order", "trial_end_date.asc")
	return c.listSubscriptions(ctx, q)
}

func (c *Client) listSubscriptions(ctx context.Context, q *query) ([]domain.Subscription, error) {
	body, err := c.execute(ctx, "list_subscriptions", request{method: http.MethodGet, path: q.path()})
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[domain.Subscription](body)
	if err != nil {
		return nil, fmt.Errorf("decode subscriptions: %w", err)
	}
	return rows, nil
}

// BulkUpdateStatus issues one PATCH over the id set. The status filter keeps
// rows that moved on concurrently (e.g. activated by a webhook) untouched.
func (c *Client) BulkUpdateStatus(ctx context.Context, ids []string, fromStatus, to domain.SubscriptionStatus) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.BulkUpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.Int("subscriptions.count", len(ids)))

	if len(ids) == 0 {
		return 0, nil
	}

	q := from(subscriptionsTable).
		in("id", ids).
		eq("status", string(fromStatus)).
		set("select", "id")
	body, err := c.execute(ctx, "bulk_update_status", request{
		method: http.MethodPatch,
		path:   q.path(),
		body:   domain.SubscriptionUpdate{Status: &to}.Fields(time.Now()),
		prefer: "return=representation",
	})
	if err != nil {
		return 0, err
	}

	rows, err := decodeRows[struct {
		ID string `json:"id"`
	}](body)
	if err != nil {
		return 0, fmt.Errorf("decode bulk update: %w", err)
	}
	span.SetAttributes(attribute.Int("subscriptions.updated", len(rows)))
	return len(rows), nil
}
