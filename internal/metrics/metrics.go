package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts provider webhook deliveries by provider, event type and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auxeira",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total provider webhook requests by provider, event type and HTTP status.",
	}, []string{"provider", "event_type", "status"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "auxeira",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Provider webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// TransitionsTotal counts committed lifecycle transitions.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auxeira",
		Subsystem: "billing",
		Name:      "subscription_transitions_total",
		Help:      "Committed subscription status transitions.",
	}, []string{"from", "to", "reason"})

	// ReconciliationFailuresTotal counts events dropped because no tenant matched.
	ReconciliationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auxeira",
		Subsystem: "billing",
		Name:      "reconciliation_failures_total",
		Help:      "Provider events dropped because their correlation id matched no tenant.",
	}, []string{"event"})

	// ProviderRequestsTotal counts outbound payment-provider calls by outcome.
	ProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auxeira",
		Subsystem: "billing",
		Name:      "provider_requests_total",
		Help:      "Outbound payment provider calls by provider, operation and outcome.",
	}, []string{"provider", "operation", "outcome"})

	// SweepTenantsTotal counts tenants handled by the expiry sweeper.
	SweepTenantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auxeira",
		Subsystem: "billing",
		Name:      "sweep_tenants_total",
		Help:      "Tenants processed by the expiry sweeper by kind and outcome.",
	}, []string{"kind", "outcome"})
)

// Outcome maps an error to a metric label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
