package postgres

import (
	"context"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Payments ledger
// ============================================================

func (s *Store) PaymentExists(ctx context.Context, externalEventID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Postgres.PaymentExists")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", externalEventID))

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE external_event_id = $1)`, externalEventID,
	).Scan(&exists)
	if err != nil {
		return false, s.wrap("payment_exists", err)
	}
	return exists, nil
}

func (s *Store) PaymentIDByEvent(ctx context.Context, externalEventID string) (string, error) {
	ctx, span := tracer.Start(ctx, "Postgres.PaymentIDByEvent")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", externalEventID))

	return s.idByEvent(ctx, "payment_id_by_event",
		`SELECT id::text FROM payments WHERE external_event_id = $1`, externalEventID)
}

func (s *Store) idByEvent(ctx context.Context, op, sql, eventID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, sql, eventID).Scan(&id)
	if isNoRows(err) {
		return "", &domain.ErrNotFound{Resource: op, ID: eventID}
	}
	if err != nil {
		return "", s.wrap(op, err)
	}
	return id, nil
}

// InsertPayment relies on the unique external_event_id constraint.
func (s *Store) InsertPayment(ctx context.Context, p *domain.Payment) error {
	ctx, span := tracer.Start(ctx, "Postgres.InsertPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", p.ExternalEventID),
		attribute.String("payment.status", string(p.Status)),
	)

	occurredAt := p.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO payments (id, external_event_id, subscription_id, empresa_id, customer_email,
	amount_cents, currency, method, status, occurred_at)
VALUES ($1::uuid, $2, $3::uuid, $4::uuid, $5, $6, $7, $8, $9, $10)`,
		id, p.ExternalEventID, nullable(p.SubscriptionID), nullable(p.EmpresaID), nullable(p.CustomerEmail),
		p.AmountCents, nullable(p.Currency), nullable(p.Method), string(p.Status), occurredAt,
	)
	return s.wrap("insert_payment", err)
}

// ============================================================
// Processed events
// ============================================================

func (s *Store) EventClaimed(ctx context.Context, eventID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Postgres.EventClaimed")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", eventID))

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, s.wrap("event_claimed", err)
	}
	return exists, nil
}

func (s *Store) EventClaimID(ctx context.Context, eventID string) (string, error) {
	return s.idByEvent(ctx, "event_claim_id",
		`SELECT id::text FROM processed_events WHERE event_id = $1`, eventID)
}

// ClaimEvent relies on the unique event_id constraint.
func (s *Store) ClaimEvent(ctx context.Context, claim *domain.EventClaim) error {
	ctx, span := tracer.Start(ctx, "Postgres.ClaimEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", claim.EventID),
		attribute.String("event.type", claim.Type),
	)

	id := claim.ID
	if id == "" {
		id = uuid.NewString()
	}
	claimedAt := claim.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO processed_events (id, event_id, type, empresa_id, claimed_at)
VALUES ($1::uuid, $2, $3, $4::uuid, $5)`,
		id, claim.EventID, claim.Type, nullable(claim.EmpresaID), claimedAt,
	)
	return s.wrap("claim_event", err)
}

// ============================================================
// Profiles & companies
// ============================================================

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	return s.getOneProfile(ctx, "id::text", userID)
}

func (s *Store) FindProfileByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Postgres.FindProfileByEmail")
	defer span.End()

	return s.getOneProfile(ctx, "email", email)
}

func (s *Store) getOneProfile(ctx context.Context, where, arg string) (*domain.Profile, error) {
	var (
		p                      domain.Profile
		empresaID, email, nome *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, empresa_id::text, email, nome, ativo FROM perfis WHERE `+where+` = $1 LIMIT 1`, arg,
	).Scan(&p.ID, &empresaID, &email, &nome, &p.Ativo)
	if isNoRows(err) {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: arg}
	}
	if err != nil {
		return nil, s.wrap("get_profile", err)
	}
	p.EmpresaID = deref(empresaID)
	p.Email = deref(email)
	p.Nome = deref(nome)
	return &p, nil
}

func (s *Store) SetProfilesActive(ctx context.Context, empresaID string, ativo bool) error {
	ctx, span := tracer.Start(ctx, "Postgres.SetProfilesActive")
	defer span.End()
	span.SetAttributes(
		attribute.String("empresa.id", empresaID),
		attribute.Bool("ativo", ativo),
	)

	_, err := s.pool.Exec(ctx,
		`UPDATE perfis SET ativo = $2, updated_at = now() WHERE empresa_id::text = $1`, empresaID, ativo)
	return s.wrap("set_profiles_active", err)
}

func (s *Store) GetEmpresa(ctx context.Context, id string) (*domain.Empresa, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetEmpresa")
	defer span.End()
	span.SetAttributes(attribute.String("empresa.id", id))

	var (
		e               domain.Empresa
		email, telefone *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, nome, email, telefone FROM empresas WHERE id::text = $1`, id,
	).Scan(&e.ID, &e.Nome, &email, &telefone)
	if isNoRows(err) {
		return nil, &domain.ErrNotFound{Resource: "empresa", ID: id}
	}
	if err != nil {
		return nil, s.wrap("get_empresa", err)
	}
	e.Email = deref(email)
	e.Telefone = deref(telefone)
	return &e, nil
}

// ============================================================
// Notifications & audit
// ============================================================

// InsertNotification skips the row when the dedupe key already exists.
func (s *Store) InsertNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	ctx, span := tracer.Start(ctx, "Postgres.InsertNotification")
	defer span.End()

	id := n.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tag, err := s.pool.Exec(ctx, `
INSERT INTO notifications (id, empresa_id, type, title, message, dedupe_key, created_at)
VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7)
ON CONFLICT (dedupe_key) DO NOTHING`,
		id, n.EmpresaID, n.Type, n.Title, n.Message, n.DedupeKey, createdAt,
	)
	if err != nil {
		return false, s.wrap("insert_notification", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	n.ID = id
	return true, nil
}

func (s *Store) LogSubscriptionAction(ctx context.Context, entry domain.AuditEntry) error {
	ctx, span := tracer.Start(ctx, "Postgres.LogSubscriptionAction")
	defer span.End()
	span.SetAttributes(
		attribute.String("subscription.id", entry.SubscriptionID),
		attribute.String("action", entry.Action),
	)

	_, err := s.pool.Exec(ctx,
		`SELECT log_subscription_action($1::uuid, $2, $3, $4)`,
		entry.SubscriptionID, entry.Action, string(entry.OldStatus), string(entry.NewStatus),
	)
	return s.wrap("log_subscription_action", err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
