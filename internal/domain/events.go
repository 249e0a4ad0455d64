package domain

// ============================================================
// Billing provider webhook events
// ============================================================

// Event types sent by the billing provider.
const (
	EventPixGenerated         = "pix_gerado"
	EventPurchaseApproved     = "purchase_approved"
	EventPurchaseRefused      = "purchase_refused"
	EventRefund               = "refund"
	EventChargeback           = "chargeback"
	EventSubscriptionCanceled = "subscription_canceled"
)

// WebhookEvent is the JSON envelope posted by the billing provider.
type WebhookEvent struct {
	Type string           `json:"type"`
	ID   string           `json:"id"`
	Data WebhookEventData `json:"data"`
}

// WebhookEventData carries the event payload. Every field is optional.
type WebhookEventData struct {
	ID             string           `json:"id,omitempty"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	CustomerEmail  string           `json:"customer_email,omitempty"`
	AmountCents    int64            `json:"amount_cents,omitempty"`
	Currency       string           `json:"currency,omitempty"`
	PaymentMethod  string           `json:"payment_method,omitempty"`
	Status         string           `json:"status,omitempty"`
	Metadata       *WebhookMetadata `json:"metadata,omitempty"`
}

// WebhookMetadata is the merchant metadata echoed back by the provider.
type WebhookMetadata struct {
	EmpresaID string `json:"empresa_id,omitempty"`
}

// EventKey returns the idempotency key of the event: the envelope id,
// falling back to data.id.
func (e *WebhookEvent) EventKey() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Data.ID
}

// EmpresaID returns the tenant id carried in the event metadata, if any.
func (e *WebhookEvent) EmpresaID() string {
	if e.Data.Metadata == nil {
		return ""
	}
	return e.Data.Metadata.EmpresaID
}

// WebhookResult describes what processing an event did.
type WebhookResult struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Duplicate bool   `json:"duplicate"`
	Ignored   bool   `json:"ignored"`
	EmpresaID string `json:"empresa_id,omitempty"`
}

// ============================================================
// Admin manager
// ============================================================

// Admin actions accepted by the subscription manager.
const (
	AdminActivate = "activate"
	AdminSuspend  = "suspend"
	AdminCancel   = "cancel"
	AdminDelete   = "delete"
)

// DefaultActivationDays is used when an activate request omits days.
const DefaultActivationDays = 30

// AdminActionRequest is the body of POST /v1/admin/subscriptions.
type AdminActionRequest struct {
	SubscriptionID string `json:"subscription_id" validate:"required"`
	Action         string `json:"action" validate:"required"`
	Days           *int   `json:"days,omitempty" validate:"omitempty,min=1,max=3650"`
}

// AdminActionResult is returned after a forced transition.
type AdminActionResult struct {
	Success   bool               `json:"success"`
	Action    string             `json:"action"`
	OldStatus SubscriptionStatus `json:"old_status"`
	NewStatus SubscriptionStatus `json:"new_status"`
}

// ============================================================
// Sweeper
// ============================================================

// SweepResult summarises one trial sweep.
type SweepResult struct {
	Success              bool `json:"success"`
	ExpiredTrialsUpdated int  `json:"expiredTrialsUpdated"`
	TrialsExpiringSoon   int  `json:"trialsExpiringSoon"`
}
