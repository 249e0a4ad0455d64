// Package postgres is the direct-database persistence gateway. It talks to the
// same Supabase Postgres schema as the PostgREST adapter, over pgx, for
// deployments that run next to the database.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("postgres")

const uniqueViolation = "23505"

// Store implements port.BillingStore on a pgx pool. The pool connects with a
// role that bypasses row level security, the equivalent of the service role.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string, maxConns int32, logger *zap.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}

	return New(pool, logger), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close closes the connection pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Postgres.Ping")
	defer span.End()
	return s.pool.Ping(ctx)
}

// wrap maps driver errors to domain errors. Unique violations become
// *domain.ErrDuplicate; everything else is an external service failure.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &domain.ErrDuplicate{Key: op}
	}
	s.logger.Error("postgres: query failed", zap.String("op", op), zap.Error(err))
	return &domain.ErrExternalService{Service: "postgres/" + op, Err: err}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// nullable turns an empty string into SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
