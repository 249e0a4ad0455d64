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
// Payments ledger, append-only
// ============================================================

const paymentsTable = "payments"

func (c *Client) PaymentExists(ctx context.Context, externalEventID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.PaymentExists")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", externalEventID))

	q := from(paymentsTable).
		eq("external_event_id", externalEventID).
		set("select", "id").
		limit("1")
	body, err := c.execute(ctx, "payment_exists", request{method: http.MethodGet, path: q.path()})
	if err != nil {
		return false, err
	}

	rows, err := decodeRows[struct {
		ID string `json:"id"`
	}](body)
	if err != nil {
		return false, fmt.Errorf("decode payments: %w", err)
	}
	return len(rows) > 0, nil
}

// PaymentIDByEvent reads back the ledger row id stored for an event.
func (c *Client) PaymentIDByEvent(ctx context.Context, externalEventID string) (string, error) {
	ctx, span := tracer.Start(ctx, "Supabase.PaymentIDByEvent")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", externalEventID))

	return c.idByEvent(ctx, "payment_id_by_event", paymentsTable, "external_event_id", externalEventID)
}

// idByEvent returns the id column of the row whose column equals eventID.
func (c *Client) idByEvent(ctx context.Context, op, table, column, eventID string) (string, error) {
	q := from(table).
		eq(column, eventID).
		set("select", "id").
		limit("1")
	body, err := c.execute(ctx, op, request{method: http.MethodGet, path: q.path()})
	if err != nil {
		return "", err
	}

	rows, err := decodeRows[struct {
		ID string `json:"id"`
	}](body)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", table, err)
	}
	if len(rows) == 0 {
		return "", &domain.ErrNotFound{Resource: table, ID: eventID}
	}
	return rows[0].ID, nil
}

// InsertPayment relies on the unique external_event_id constraint: a second
// insert for the same event surfaces as *domain.ErrDuplicate.
func (c *Client) InsertPayment(ctx context.Context, p *domain.Payment) error {
	ctx, span := tracer.Start(ctx, "Supabase.InsertPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", p.ExternalEventID),
		attribute.String("payment.status", string(p.Status)),
	)

	row := map[string]any{
		"external_event_id": p.ExternalEventID,
		"amount_cents":      p.AmountCents,
		"status":            string(p.Status),
		"occurred_at":       formatTime(p.OccurredAt),
	}
	optional := map[string]string{
		"id":              p.ID,
		"subscription_id": p.SubscriptionID,
		"empresa_id":      p.EmpresaID,
		"customer_email":  p.CustomerEmail,
		"currency":        p.Currency,
		"method":          p.Method,
	}
	for column, v := range optional {
		if v != "" {
			row[column] = v
		}
	}
	if p.OccurredAt.IsZero() {
		row["occurred_at"] = formatTime(time.Now())
	}

	_, err := c.execute(ctx, "insert_payment", request{
		method: http.MethodPost,
		path:   paymentsTable,
		body:   row,
		prefer: "return=minimal",
	})
	return err
}
