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
// Profiles (perfis) & companies (empresas)
// ============================================================

func (c *Client) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	return c.getOneProfile(ctx, from("perfis").eq("id", userID), userID)
}

func (c *Client) FindProfileByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindProfileByEmail")
	defer span.End()

	return c.getOneProfile(ctx, from("perfis").eq("email", email), email)
}

func (c *Client) getOneProfile(ctx context.Context, q *query, id string) (*domain.Profile, error) {
	q.set("select", "id,empresa_id,email,nome,ativo").limit("1")
	body, err := c.execute(ctx, "get_profile", request{method: http.MethodGet, path: q.path()})
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows[domain.Profile](body)
	if err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: id}
	}
	return &rows[0], nil
}

// SetProfilesActive flips ativo for every profile of the tenant in one PATCH.
func (c *Client) SetProfilesActive(ctx context.Context, empresaID string, ativo bool) error {
	ctx, span := tracer.Start(ctx, "Supabase.SetProfilesActive")
	defer span.End()
	span.SetAttributes(
		attribute.String("empresa.id", empresaID),
		attribute.Bool("ativo", ativo),
	)

	_, err := c.execute(ctx, "set_profiles_active", request{
		method: http.MethodPatch,
		path:   from("perfis").eq("empresa_id", empresaID).path(),
		body: map[string]any{
			"ativo":      ativo,
			"updated_at": formatTime(time.Now()),
		},
		prefer: "return=minimal",
	})
	return err
}

func (c *Client) GetEmpresa(ctx context.Context, id string) (*domain.Empresa, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetEmpresa")
	defer span.End()
	span.SetAttributes(attribute.String("empresa.id", id))

	q := from("empresas").eq("id", id).set("select", "id,nome,email,telefone").limit("1")
	body, err := c.execute(ctx, "get_empresa", request{method: http.MethodGet, path: q.path()})
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows[domain.Empresa](body)
	if err != nil {
		return nil, fmt.Errorf("decode empresa: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "empresa", ID: id}
	}
	return &rows[0], nil
}
