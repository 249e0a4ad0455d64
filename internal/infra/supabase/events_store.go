package supabase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Processed events (claims for events without a ledger row)
// ============================================================

const processedEventsTable = "processed_events"

func (c *Client) EventClaimed(ctx context.Context, eventID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.EventClaimed")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", eventID))

	_, err := c.EventClaimID(ctx, eventID)
	if err == nil {
		return true, nil
	}
	var notFound *domain.ErrNotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, err
}

func (c *Client) EventClaimID(ctx context.Context, eventID string) (string, error) {
	return c.idByEvent(ctx, "event_claim_id", processedEventsTable, "event_id", eventID)
}

// ClaimEvent relies on the unique event_id constraint: a second claim for the
// same event surfaces as *domain.ErrDuplicate.
func (c *Client) ClaimEvent(ctx context.Context, claim *domain.EventClaim) error {
	ctx, span := tracer.Start(ctx, "Supabase.ClaimEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", claim.EventID),
		attribute.String("event.type", claim.Type),
	)

	claimedAt := claim.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = time.Now()
	}
	row := map[string]any{
		"event_id":   claim.EventID,
		"type":       claim.Type,
		"claimed_at": formatTime(claimedAt),
	}
	if claim.ID != "" {
		row["id"] = claim.ID
	}
	if claim.EmpresaID != "" {
		row["empresa_id"] = claim.EmpresaID
	}

	_, err := c.execute(ctx, "claim_event", request{
		method: http.MethodPost,
		path:   processedEventsTable,
		body:   row,
		prefer: "return=minimal",
	})
	return err
}
