package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/port"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Authorizer evaluates privilege checks the way PostgREST would for the
// caller: inside a transaction that carries the caller's JWT claims and runs
// as the restricted "authenticated" role. Nothing it does is committed.
type Authorizer struct {
	pool     *pgxpool.Pool
	verifier port.TokenVerifier
	logger   *zap.Logger
}

// NewAuthorizer builds an AuthorizerFactory over pool.
func NewAuthorizer(pool *pgxpool.Pool, verifier port.TokenVerifier, logger *zap.Logger) *Authorizer {
	return &Authorizer{pool: pool, verifier: verifier, logger: logger}
}

type callerScope struct {
	authz *Authorizer
	token string
}

// ForCaller returns an Authorizer bound to the caller's bearer token.
func (a *Authorizer) ForCaller(token string) port.Authorizer {
	return &callerScope{authz: a, token: token}
}

func (a *Authorizer) wrap(err error) error {
	a.logger.Error("postgres: is_super_admin failed", zap.Error(err))
	return &domain.ErrExternalService{Service: "postgres/is_super_admin", Err: err}
}

// IsSuperAdmin calls is_super_admin() under the caller's claims. A token that
// fails verification is simply not an admin.
func (s *callerScope) IsSuperAdmin(ctx context.Context) (bool, error) {
	ctx, span := tracer.Start(ctx, "Postgres.IsSuperAdmin")
	defer span.End()

	if s.token == "" {
		return false, nil
	}
	caller, err := s.authz.verifier.Verify(s.token)
	if err != nil {
		s.authz.logger.Debug("is_super_admin: token rejected", zap.Error(err))
		return false, nil
	}

	claims, err := json.Marshal(caller)
	if err != nil {
		return false, fmt.Errorf("encode claims: %w", err)
	}

	tx, err := s.authz.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return false, s.authz.wrap(err)
	}
	// Never committed: the claims and role only live for this check.
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT set_config('request.jwt.claims', $1, true)`, string(claims)); err != nil {
		return false, s.authz.wrap(err)
	}
	if _, err := tx.Exec(ctx, `SET LOCAL ROLE authenticated`); err != nil {
		return false, s.authz.wrap(err)
	}
	var ok bool
	if err := tx.QueryRow(ctx, `SELECT COALESCE(is_super_admin(), false)`).Scan(&ok); err != nil {
		return false, s.authz.wrap(err)
	}

	span.SetAttributes(attribute.Bool("super_admin", ok))
	return ok, nil
}
