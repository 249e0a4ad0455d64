// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service layer
// from the persistence gateway and the delivery providers.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
)

// SubscriptionStore performs subscription row operations with the privileged
// (service role) credential.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	GetSubscriptionByEmpresa(ctx context.Context, empresaID string) (*domain.Subscription, error)
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error)

	// CreateSubscription inserts a new row. A second row for the same
	// empresa_id yields *domain.ErrDuplicate.
	CreateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	// UpsertSubscription inserts or merges on the empresa_id conflict key.
	UpsertSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, upd domain.SubscriptionUpdate) error
	UpdateSubscriptionByEmpresa(ctx context.Context, empresaID string, upd domain.SubscriptionUpdate) error
	DeleteSubscription(ctx context.Context, id string) error

	// Trials
	ListTrialsEndingBefore(ctx context.Context, t time.Time) ([]domain.Subscription, error)
	ListTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]domain.Subscription, error)
	// BulkUpdateStatus moves every listed row still in status from to status to
	// in a single statement and returns the number of rows changed.
	BulkUpdateStatus(ctx context.Context, ids []string, from, to domain.SubscriptionStatus) (int, error)
}

// PaymentStore is the append-only billing ledger.
type PaymentStore interface {
	PaymentExists(ctx context.Context, externalEventID string) (bool, error)
	// PaymentIDByEvent returns the id of the row recorded for an event, or
	// *domain.ErrNotFound.
	PaymentIDByEvent(ctx context.Context, externalEventID string) (string, error)
	// InsertPayment returns *domain.ErrDuplicate when external_event_id already
	// exists. A non-empty p.ID is stored as the row id.
	InsertPayment(ctx context.Context, p *domain.Payment) error
}

// EventClaimStore records processed events that have no ledger row.
type EventClaimStore interface {
	EventClaimed(ctx context.Context, eventID string) (bool, error)
	// EventClaimID returns the claim id stored for an event, or *domain.ErrNotFound.
	EventClaimID(ctx context.Context, eventID string) (string, error)
	// ClaimEvent returns *domain.ErrDuplicate when the event id is already claimed.
	ClaimEvent(ctx context.Context, claim *domain.EventClaim) error
}

// ProfileStore reads user profiles and toggles their active flag per tenant.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	FindProfileByEmail(ctx context.Context, email string) (*domain.Profile, error)
	SetProfilesActive(ctx context.Context, empresaID string, ativo bool) error
}

// EmpresaStore reads tenant companies.
type EmpresaStore interface {
	GetEmpresa(ctx context.Context, id string) (*domain.Empresa, error)
}

// NotificationStore persists in-app notifications.
type NotificationStore interface {
	// InsertNotification stores n unless a row with the same dedupe key exists.
	// It reports whether a new row was written.
	InsertNotification(ctx context.Context, n *domain.Notification) (bool, error)
}

// AuditLogger records administrative transitions (log_subscription_action).
type AuditLogger interface {
	LogSubscriptionAction(ctx context.Context, entry domain.AuditEntry) error
}

// BillingStore is the full persistence gateway used by the service.
// Implemented by the Supabase adapter and the Postgres adapter.
type BillingStore interface {
	SubscriptionStore
	PaymentStore
	EventClaimStore
	ProfileStore
	EmpresaStore
	NotificationStore
	AuditLogger
	Ping(ctx context.Context) error
}

// WebhookStore is what webhook ingestion needs from the gateway.
type WebhookStore interface {
	SubscriptionStore
	PaymentStore
	EventClaimStore
	ProfileStore
}

// SweepStore is what the trial sweeper needs from the gateway.
type SweepStore interface {
	SubscriptionStore
	EmpresaStore
	NotificationStore
}

// AdminStore is the service-role side of the admin manager.
type AdminStore interface {
	SubscriptionStore
	ProfileStore
	AuditLogger
}

// StatusStore is what the status reader needs from the gateway.
type StatusStore interface {
	SubscriptionStore
	ProfileStore
}

// Authorizer answers privilege questions under the caller's own restricted
// session. It never shares a credential with the stores above.
type Authorizer interface {
	IsSuperAdmin(ctx context.Context) (bool, error)
}

// AuthorizerFactory builds an Authorizer scoped to one caller bearer token.
type AuthorizerFactory interface {
	ForCaller(token string) Authorizer
}

// TokenVerifier validates a caller bearer token and returns its principal.
type TokenVerifier interface {
	Verify(token string) (*domain.Caller, error)
}

// Notifier delivers a notification through one outbound channel
// (email, WhatsApp, ...).
type Notifier interface {
	Name() string
	Notify(ctx context.Context, empresa *domain.Empresa, n *domain.Notification) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
