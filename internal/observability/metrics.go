package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	PipelineRequests  *prometheus.CounterVec
	PipelineDuration  prometheus.Histogram
	StageDuration     *prometheus.HistogramVec
	DocsRetrieved     prometheus.Histogram
	RetrievalFailures prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		PipelineRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_requests_total",
			Help:      "Pipeline invocations by terminal status.",
		}, []string{"status"}),
		PipelineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end pipeline latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Per-stage latency in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"stage"}),
		DocsRetrieved: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "docs_retrieved",
			Help:      "Number of passages in the merged retrieval result.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10},
		}),
		RetrievalFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_query_failures_total",
			Help:      "Per-query search failures skipped by the retrieval stage.",
		}),
	}
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
