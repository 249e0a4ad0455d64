package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// BillingMetrics is returned by GET /v1/ops/billing-metrics.
type BillingMetrics struct {
	WebhooksProcessed  int64   `json:"webhooksProcessed"`
	WebhooksDuplicate  int64   `json:"webhooksDuplicate"`
	WebhooksIgnored    int64   `json:"webhooksIgnored"`
	WebhooksRejected   int64   `json:"webhooksRejected"`
	TrialsExpired      int64   `json:"trialsExpired"`
	TrialWarningsSent  int64   `json:"trialWarningsSent"`
	AdminActions       int64   `json:"adminActions"`
	ExternalErrors     int64   `json:"externalErrors"`
	AccessDeniedRate   float64 `json:"accessDeniedRate"`
	StatusCacheHitRate float64 `json:"statusCacheHitRate"`
	Period             string  `json:"period"`
}
