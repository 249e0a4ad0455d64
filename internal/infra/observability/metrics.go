package observability

import (
	"strconv"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the billing service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	trialsExpired   prometheus.Counter
	trialWarnings   *prometheus.CounterVec
	adminActions    *prometheus.CounterVec
	accessDecisions *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhook_events_total",
				Help: "Billing provider webhook events by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		trialsExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_trials_expired_total",
				Help: "Trial subscriptions moved to expired by the sweeper.",
			},
		),
		trialWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_trial_warnings_total",
				Help: "Trial expiring-soon notifications by channel and outcome.",
			},
			[]string{"channel", "outcome"},
		),
		adminActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_admin_actions_total",
				Help: "Forced subscription transitions by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		accessDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_access_decisions_total",
				Help: "Access decisions served by the status reader.",
			},
			[]string{"granted"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrWebhook counts a webhook event outcome.
func (m *Metrics) IncrWebhook(eventType, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// AddTrialsExpired adds n expired trials.
func (m *Metrics) AddTrialsExpired(n int) {
	m.trialsExpired.Add(float64(n))
}

// IncrTrialWarning counts one notification attempt on a channel.
func (m *Metrics) IncrTrialWarning(channel, outcome string) {
	m.trialWarnings.WithLabelValues(channel, outcome).Inc()
}

// IncrAdminAction counts a forced transition.
func (m *Metrics) IncrAdminAction(action, outcome string) {
	m.adminActions.WithLabelValues(action, outcome).Inc()
}

// IncrAccessDecision counts an access decision.
func (m *Metrics) IncrAccessDecision(granted bool) {
	m.accessDecisions.WithLabelValues(strconv.FormatBool(granted)).Inc()
}

// Snapshot returns the cumulative billing counters for GET /v1/ops/billing-metrics.
func (m *Metrics) Snapshot() *domain.BillingMetrics {
	outcome := func(want string) func(map[string]string) bool {
		return func(l map[string]string) bool { return l["outcome"] == want }
	}

	granted := sumCounter(m.accessDecisions, func(l map[string]string) bool { return l["granted"] == "true" })
	denied := sumCounter(m.accessDecisions, func(l map[string]string) bool { return l["granted"] == "false" })
	hits := sumCounter(m.cacheHits, nil)
	misses := sumCounter(m.cacheMisses, nil)

	deniedRate := float64(0)
	if granted+denied > 0 {
		deniedRate = denied / (granted + denied)
	}
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.BillingMetrics{
		WebhooksProcessed:  int64(sumCounter(m.webhookEvents, outcome("processed"))),
		WebhooksDuplicate:  int64(sumCounter(m.webhookEvents, outcome("duplicate"))),
		WebhooksIgnored:    int64(sumCounter(m.webhookEvents, outcome("ignored"))),
		WebhooksRejected:   int64(sumCounter(m.webhookEvents, outcome("rejected"))),
		TrialsExpired:      int64(sumCounter(m.trialsExpired, nil)),
		TrialWarningsSent:  int64(sumCounter(m.trialWarnings, outcome("sent"))),
		AdminActions:       int64(sumCounter(m.adminActions, outcome("success"))),
		ExternalErrors:     int64(sumCounter(m.externalErrors, nil)),
		AccessDeniedRate:   deniedRate,
		StatusCacheHitRate: hitRate,
		Period:             "all_time",
	}
}

// sumCounter adds up every counter series of c whose labels satisfy keep.
func sumCounter(c prometheus.Collector, keep func(labels map[string]string) bool) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		pb := &dto.Metric{}
		if err := metric.Write(pb); err != nil || pb.Counter == nil {
			continue
		}
		labels := make(map[string]string, len(pb.GetLabel()))
		for _, lp := range pb.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if keep == nil || keep(labels) {
			total += pb.GetCounter().GetValue()
		}
	}
	return total
}
