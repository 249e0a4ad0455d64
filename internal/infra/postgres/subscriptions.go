package postgres

import (
	"context"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Subscriptions
// ============================================================

const subscriptionColumns = `id::text, empresa_id::text, status, trial_start_date, trial_end_date,
	current_period_start, current_period_end, cancel_at, external_subscription_id,
	is_recurring, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub        domain.Subscription
		status     string
		externalID *string
	)
	err := row.Scan(
		&sub.ID,
		&sub.EmpresaID,
		&status,
		&sub.TrialStartDate,
		&sub.TrialEndDate,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CancelAt,
		&externalID,
		&sub.IsRecurring,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Status = domain.SubscriptionStatus(status)
	if externalID != nil {
		sub.ExternalSubscriptionID = *externalID
	}
	return &sub, nil
}

func (s *Store) getOneSubscription(ctx context.Context, where, arg string) (*domain.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE `+where+` = $1 LIMIT 1`, arg))
	if isNoRows(err) {
		return nil, &domain.ErrNotFound{Resource: "subscription", ID: arg}
	}
	if err != nil {
		return nil, s.wrap("get_subscription", err)
	}
	return sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetSubscription")
	defer span.End()
	span.SetAttributes(attribute.String("subscription.id", id))

	return s.getOneSubscription(ctx, "id::text", id)
}

func (s *Store) GetSubscriptionByEmpresa(ctx context.Context, empresaID string) (*domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetSubscriptionByEmpresa")
	defer span.End()
	span.SetAttributes(attribute.String("empresa.id", empresaID))

	return s.getOneSubscription(ctx, "empresa_id::text", empresaID)
}

func (s *Store) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetSubscriptionByExternalID")
	defer span.End()

	return s.getOneSubscription(ctx, "external_subscription_id", externalID)
}

func (s *Store) CreateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateSubscription")
	defer span.End()

	created, err := scanSubscription(s.pool.QueryRow(ctx, `
INSERT INTO subscriptions (empresa_id, status, trial_start_date, trial_end_date,
	current_period_start, current_period_end, cancel_at, external_subscription_id, is_recurring)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+subscriptionColumns,
		sub.EmpresaID, string(sub.Status), sub.TrialStartDate, sub.TrialEndDate,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAt,
		nullable(sub.ExternalSubscriptionID), sub.IsRecurring,
	))
	if err != nil {
		return nil, s.wrap("create_subscription", err)
	}
	return created, nil
}

// UpsertSubscription merges on empresa_id. Timestamps and the external id the
// caller left unset keep their stored values.
func (s *Store) UpsertSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Postgres.UpsertSubscription")
	defer span.End()
	span.SetAttributes(attribute.String("empresa.id", sub.EmpresaID))

	saved, err := scanSubscription(s.pool.QueryRow(ctx, `
INSERT INTO subscriptions (empresa_id, status, trial_start_date, trial_end_date,
	current_period_start, current_period_end, cancel_at, external_subscription_id, is_recurring)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (empresa_id) DO UPDATE SET
	status = EXCLUDED.status,
	trial_start_date = COALESCE(EXCLUDED.trial_start_date, subscriptions.trial_start_date),
	trial_end_date = COALESCE(EXCLUDED.trial_end_date, subscriptions.trial_end_date),
	current_period_start = COALESCE(EXCLUDED.current_period_start, subscriptions.current_period_start),
	current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
	cancel_at = COALESCE(EXCLUDED.cancel_at, subscriptions.cancel_at),
	external_subscription_id = COALESCE(EXCLUDED.external_subscription_id, subscriptions.external_subscription_id),
	is_recurring = EXCLUDED.is_recurring,
	updated_at = now()
RETURNING `+subscriptionColumns,
		sub.EmpresaID, string(sub.Status), sub.TrialStartDate, sub.TrialEndDate,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAt,
		nullable(sub.ExternalSubscriptionID), sub.IsRecurring,
	))
	if err != nil {
		return nil, s.wrap("upsert_subscription", err)
	}
	return saved, nil
}

// applyUpdate leaves columns whose parameter is NULL untouched.
func (s *Store) applyUpdate(ctx context.Context, where, arg string, upd domain.SubscriptionUpdate) error {
	var status *string
	if upd.Status != nil {
		v := string(*upd.Status)
		status = &v
	}
	_, err := s.pool.Exec(ctx, `
UPDATE subscriptions SET
	status = COALESCE($2, status),
	current_period_start = COALESCE($3, current_period_start),
	current_period_end = COALESCE($4, current_period_end),
	cancel_at = COALESCE($5, cancel_at),
	is_recurring = COALESCE($6, is_recurring),
	updated_at = now()
WHERE `+where+` = $1`,
		arg, status, upd.CurrentPeriodStart, upd.CurrentPeriodEnd, upd.CancelAt, upd.IsRecurring,
	)
	return s.wrap("update_subscription", err)
}

func (s *Store) UpdateSubscription(ctx context.Context, id string, upd domain.SubscriptionUpdate) error {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateSubscription")
	defer span.End()
	span.SetAttributes(attribute.String("subscription.id", id))

	return s.applyUpdate(ctx, "id::text", id, upd)
}

func (s *Store) UpdateSubscriptionByEmpresa(ctx context.Context, empresaID string, upd domain.SubscriptionUpdate) error {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateSubscriptionByEmpresa")
	defer span.End()
	span.SetAttributes(attribute.String("empresa.id", empresaID))

	return s.applyUpdate(ctx, "empresa_id::text", empresaID, upd)
}

func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Postgres.DeleteSubscription")
	defer span.End()
	span.SetAttributes(attribute.String("subscription.id", id))

	_, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id::text = $1`, id)
	return s.wrap("delete_subscription", err)
}

// --- Trials ---

func (s *Store) ListTrialsEndingBefore(ctx context.Context, t time.Time) ([]domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListTrialsEndingBefore")
	defer span.End()

	return s.listSubscriptions(ctx, `
SELECT `+subscriptionColumns+` FROM subscriptions
WHERE status = $1 AND trial_end_date < $2`,
		string(domain.StatusTrial), t)
}

func (s *Store) ListTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListTrialsEndingBetween")
	defer span.End()

	return s.listSubscriptions(ctx, `
SELECT `+subscriptionColumns+` FROM subscriptions
WHERE status = $1 AND trial_end_date >= $2 AND trial_end_date <= $3
ORDER BY trial_end_date ASC`,
		string(domain.StatusTrial), from, to)
}

func (s *Store) listSubscriptions(ctx context.Context, sql string, args ...any) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, s.wrap("list_subscriptions", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, s.wrap("list_subscriptions", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("list_subscriptions", err)
	}
	return subs, nil
}

// BulkUpdateStatus is one UPDATE over the id set, guarded by the source
// status so rows that moved on concurrently are left alone.
func (s *Store) BulkUpdateStatus(ctx context.Context, ids []string, from, to domain.SubscriptionStatus) (int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.BulkUpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.Int("subscriptions.count", len(ids)))

	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := s.pool.Exec(ctx, `
UPDATE subscriptions SET status = $3, updated_at = now()
WHERE id::text = ANY($1) AND status = $2`,
		ids, string(from), string(to),
	)
	if err != nil {
		return 0, s.wrap("bulk_update_status", err)
	}
	n := int(tag.RowsAffected())
	span.SetAttributes(attribute.Int("subscriptions.updated", n))
	return n, nil
}
