// Package domain defines the core billing entities: tenant subscriptions,
// the payments ledger, profiles and notifications. These models are
// independent of the persistence adapters and are shared by every layer.
package domain

import "time"

// TrialDuration is the fixed trial window granted at tenant signup.
const TrialDuration = 7 * 24 * time.Hour

// ============================================================
// Subscription
// ============================================================

// SubscriptionStatus is the persisted lifecycle state of a tenant subscription.
type SubscriptionStatus string

const (
	StatusTrial     SubscriptionStatus = "trial"
	StatusActive    SubscriptionStatus = "active"
	StatusSuspended SubscriptionStatus = "suspended"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"

	// StatusDeleted is never persisted. It reports the admin delete action.
	StatusDeleted SubscriptionStatus = "deleted"
)

// Valid reports whether s is one of the known statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusSuspended, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Subscription is the single authoritative subscription row of a tenant (empresa).
type Subscription struct {
	ID                     string             `json:"id"`
	EmpresaID              string             `json:"empresa_id"`
	Status                 SubscriptionStatus `json:"status"`
	TrialStartDate         *time.Time         `json:"trial_start_date,omitempty"`
	TrialEndDate           *time.Time         `json:"trial_end_date,omitempty"`
	CurrentPeriodStart     *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
	CancelAt               *time.Time         `json:"cancel_at,omitempty"`
	ExternalSubscriptionID string             `json:"external_subscription_id,omitempty"`
	IsRecurring            bool               `json:"is_recurring"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// NewTrialSubscription builds the row created at tenant signup.
func NewTrialSubscription(empresaID string, now time.Time) *Subscription {
	start := now.UTC()
	end := start.Add(TrialDuration)
	return &Subscription{
		EmpresaID:      empresaID,
		Status:         StatusTrial,
		TrialStartDate: &start,
		TrialEndDate:   &end,
		CreatedAt:      start,
		UpdatedAt:      start,
	}
}

// TrialExpiredAt reports whether the trial window has lapsed at now.
// A trial with no end date is treated as lapsed.
func (s *Subscription) TrialExpiredAt(now time.Time) bool {
	if s.TrialEndDate == nil {
		return true
	}
	return now.After(*s.TrialEndDate)
}

// transitions lists the allowed lifecycle moves. Nothing leads back to trial.
var transitions = map[SubscriptionStatus][]SubscriptionStatus{
	StatusTrial:     {StatusActive, StatusSuspended, StatusExpired, StatusCancelled},
	StatusActive:    {StatusActive, StatusSuspended, StatusCancelled},
	StatusSuspended: {StatusActive, StatusSuspended, StatusCancelled},
	StatusExpired:   {StatusActive, StatusCancelled},
	StatusCancelled: {StatusActive, StatusCancelled},
}

// CanTransition reports whether a subscription may move from one status to another.
func CanTransition(from, to SubscriptionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SubscriptionUpdate is a partial update applied to a subscription row.
// Nil fields are left untouched.
type SubscriptionUpdate struct {
	Status             *SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAt           *time.Time
	IsRecurring        *bool
}

// Fields renders the update as a column map (PostgREST PATCH body).
func (u SubscriptionUpdate) Fields(now time.Time) map[string]any {
	fields := map[string]any{"updated_at": now.UTC().Format(time.RFC3339)}
	if u.Status != nil {
		fields["status"] = string(*u.Status)
	}
	if u.CurrentPeriodStart != nil {
		fields["current_period_start"] = u.CurrentPeriodStart.UTC().Format(time.RFC3339)
	}
	if u.CurrentPeriodEnd != nil {
		fields["current_period_end"] = u.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	if u.CancelAt != nil {
		fields["cancel_at"] = u.CancelAt.UTC().Format(time.RFC3339)
	}
	if u.IsRecurring != nil {
		fields["is_recurring"] = *u.IsRecurring
	}
	return fields
}

// StatusPtr returns a pointer to s.
func StatusPtr(s SubscriptionStatus) *SubscriptionStatus { return &s }

// ============================================================
// Payments ledger
// ============================================================

// PaymentStatus is the status of a ledger entry.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRefused  PaymentStatus = "refused"
	PaymentRefunded PaymentStatus = "refunded"
)

// Payment is an append-only billing ledger entry keyed by the provider event id.
type Payment struct {
	ID              string        `json:"id,omitempty"`
	ExternalEventID string        `json:"external_event_id"`
	SubscriptionID  string        `json:"subscription_id,omitempty"`
	EmpresaID       string        `json:"empresa_id,omitempty"`
	CustomerEmail   string        `json:"customer_email,omitempty"`
	AmountCents     int64         `json:"amount_cents"`
	Currency        string        `json:"currency,omitempty"`
	Method          string        `json:"method,omitempty"`
	Status          PaymentStatus `json:"status"`
	OccurredAt      time.Time     `json:"occurred_at"`
}

// EventClaim marks a provider event that writes no ledger row
// (subscription_canceled) as processed, keyed by the event id.
type EventClaim struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	Type      string    `json:"type"`
	EmpresaID string    `json:"empresa_id,omitempty"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// ============================================================
// Profiles, companies, notifications
// ============================================================

// Profile is a user profile (perfis) linked to a tenant.
type Profile struct {
	ID        string `json:"id"`
	EmpresaID string `json:"empresa_id"`
	Email     string `json:"email,omitempty"`
	Nome      string `json:"nome,omitempty"`
	Ativo     bool   `json:"ativo"`
}

// Empresa is a tenant company.
type Empresa struct {
	ID       string `json:"id"`
	Nome     string `json:"nome"`
	Email    string `json:"email,omitempty"`
	Telefone string `json:"telefone,omitempty"`
}

// NotificationTrialExpiring is the notification type raised by the sweeper.
const NotificationTrialExpiring = "trial_expiring"

// Notification is an in-app notification row.
type Notification struct {
	ID        string    `json:"id,omitempty"`
	EmpresaID string    `json:"empresa_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	DedupeKey string    `json:"dedupe_key"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEntry is one recorded administrative transition.
type AuditEntry struct {
	SubscriptionID string
	Action         string
	OldStatus      SubscriptionStatus
	NewStatus      SubscriptionStatus
}
