package supabase

import (
	"context"
	"fmt"
	"net/http"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"

	"github.com/google/uuid"
)

// InsertNotification writes n unless its dedupe key already exists.
// ignore-duplicates makes PostgREST answer an empty array for a skipped row.
func (c *Client) InsertNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.InsertNotification")
	defer span.End()

	id := n.ID
	if id == "" {
		id = uuid.New().String()
	}

	body, err := c.execute(ctx, "insert_notification", request{
		method: http.MethodPost,
		path:   from("notifications").set("on_conflict", "dedupe_key").set("select", "id").path(),
		body: map[string]any{
			"id":         id,
			"empresa_id": n.EmpresaID,
			"type":       n.Type,
			"title":      n.Title,
			"message":    n.Message,
			"dedupe_key": n.DedupeKey,
			"created_at": formatTime(n.CreatedAt),
		},
		prefer: "resolution=ignore-duplicates,return=representation",
	})
	if err != nil {
		return false, err
	}

	rows, err := decodeRows[struct {
		ID string `json:"id"`
	}](body)
	if err != nil {
		return false, fmt.Errorf("decode notification: %w", err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	n.ID = rows[0].ID
	return true, nil
}
