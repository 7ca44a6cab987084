package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for billing and payment
// observability. All metrics include tenant or provider labels for dashboard
// segmentation.
type BusinessMetrics struct {
	// Webhooks
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookIgnored   *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Payments
	PaymentsIngested *prometheus.CounterVec
	CheckoutsCreated *prometheus.CounterVec
	TokenRefreshes   *prometheus.CounterVec

	// Subscriptions
	SubscriptionsCreated *prometheus.CounterVec
	SubscriptionsSynced  *prometheus.CounterVec
	PlanChanges          *prometheus.CounterVec

	// External API performance
	ProviderAPILatency *prometheus.HistogramVec

	// Access gate
	GateDenied *prometheus.CounterVec
}

// Business is the process-wide metrics instance. Nil until Init is called;
// callers guard on that so tests do not need a registry.
var Business *BusinessMetrics

// Init creates and registers all business metrics.
func Init(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "tiendra"
	}

	subsystem := "billing"

	m := &BusinessMetrics{
		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total webhook notifications received",
			},
			[]string{"provider", "topic"},
		),
		WebhookProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total webhook notifications fully processed",
			},
			[]string{"provider", "topic"},
		),
		WebhookIgnored: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_ignored_total",
				Help:      "Total webhook notifications acknowledged but ignored",
			},
			[]string{"provider", "reason"},
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total webhook notifications that failed processing",
			},
			[]string{"provider", "topic", "reason"},
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duration_seconds",
				Help:      "Webhook processing time",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "topic"},
		),
		PaymentsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payments_ingested_total",
				Help:      "Total provider payments upserted from webhooks",
			},
			[]string{"provider", "status"},
		),
		CheckoutsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkouts_created_total",
				Help:      "Total checkout sessions created",
			},
			[]string{"provider"},
		),
		TokenRefreshes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "token_refreshes_total",
				Help:      "Total OAuth token refresh calls",
			},
			[]string{"provider", "outcome"},
		),
		SubscriptionsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriptions_created_total",
				Help:      "Total local subscription rows created",
			},
			[]string{"provider", "plan"},
		),
		SubscriptionsSynced: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriptions_synced_total",
				Help:      "Total subscription rows updated by webhook or sync job",
			},
			[]string{"provider", "source"},
		),
		PlanChanges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "plan_changes_total",
				Help:      "Total subscription plan changes",
			},
			[]string{"provider", "plan"},
		),
		ProviderAPILatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "provider_api_duration_seconds",
				Help:      "Latency of outbound provider API calls",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"provider", "endpoint", "outcome"},
		),
		GateDenied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gate_denied_total",
				Help:      "Requests denied by the billing access gate",
			},
			[]string{"status"},
		),
	}

	Business = m
	return m
}
