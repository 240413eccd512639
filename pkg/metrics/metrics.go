package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Diagnosis outcomes
const (
	OutcomeGenerated     = "generated"
	OutcomeEmergencyGate = "emergency_gate"
	OutcomeFailed        = "failed"
)

// Metrics holds all application metrics
type Metrics struct {
	// Diagnosis metrics
	DiagnosesTotal   *prometheus.CounterVec
	DiagnosisFlags   *prometheus.CounterVec
	DiagnosisStoreOp *prometheus.CounterVec

	// LLM metrics
	LLMRequests *prometheus.CounterVec
	LLMLatency  prometheus.Histogram

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
	DatabaseLatency    *prometheus.HistogramVec

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxAlertsSent        prometheus.Counter
}

// New creates all application metrics and registers them with reg.
// A nil reg registers with the default prometheus registry.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		DiagnosesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnoses_total",
			Help:      "Total number of diagnosis requests by outcome",
		}, []string{"outcome"}),
		DiagnosisFlags: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnosis_flags_total",
			Help:      "Flags raised by the reply parser",
		}, []string{"flag"}),
		DiagnosisStoreOp: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnosis_store_total",
			Help:      "Best-effort diagnosis persistence attempts",
		}, []string{"status"}),

		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of generative model calls",
		}, []string{"status"}),
		LLMLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of generative model calls",
			Buckets:   []float64{.25, .5, 1, 2, 4, 8, 16, 32},
		}),

		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		OutboxEventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxAlertsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_alerts_sent_total",
			Help:      "Emergency alert emails sent",
		}),
	}
}

// ObserveDB records the result of a database operation.
func (m *Metrics) ObserveDB(operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DatabaseOperations.WithLabelValues(operation, status).Inc()
	m.DatabaseLatency.WithLabelValues(operation).Observe(seconds)
}
