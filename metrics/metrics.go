package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	InboundMessages    *prometheus.CounterVec
	RepliesSent        *prometheus.CounterVec
	ClassifierRequests *prometheus.CounterVec
	ClassifierLatency  *prometheus.HistogramVec
	AdapterErrors      *prometheus.CounterVec
	PollTicks          prometheus.Counter
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_messages_total",
				Help:      "Total inbound fan messages ingested, by platform.",
			}, []string{"platform"}),
			RepliesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replies_sent_total",
				Help:      "Total outbound replies, by platform and final status.",
			}, []string{"platform", "status"}),
			ClassifierRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classifier_requests_total",
				Help:      "Total AI gateway requests by outcome.",
			}, []string{"status"}),
			ClassifierLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "classifier_request_duration_seconds",
				Help:      "Latency distribution for AI gateway calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"status"}),
			AdapterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adapter_errors_total",
				Help:      "Total platform adapter errors by platform and code.",
			}, []string{"platform", "code"}),
			PollTicks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_ticks_total",
				Help:      "Total auto-responder poll ticks executed.",
			}),
		}

		prometheus.MustRegister(
			metricsInstance.InboundMessages,
			metricsInstance.RepliesSent,
			metricsInstance.ClassifierRequests,
			metricsInstance.ClassifierLatency,
			metricsInstance.AdapterErrors,
			metricsInstance.PollTicks,
		)
	})
	return metricsInstance
}
