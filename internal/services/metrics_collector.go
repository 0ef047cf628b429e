package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/temcen/partnerrec/internal/pipeline"
	"github.com/temcen/partnerrec/pkg/models"
)

// Metrics holds the Prometheus collectors of both binaries. The trainer uses
// it as the pipeline observer, the server for request and cache metrics.
type Metrics struct {
	recommendationRequests *prometheus.CounterVec
	recommendationLatency  prometheus.Histogram
	cacheOperations        *prometheus.CounterVec
	trainingRuns           *prometheus.CounterVec
	trainingStageSeconds   *prometheus.HistogramVec
	activeArtifactTrained  prometheus.Gauge
	healthCheckStatus      *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		recommendationRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerrec_recommendation_requests_total",
			Help: "Recommendation requests by answer source",
		}, []string{"source", "degraded"}),

		recommendationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "partnerrec_recommendation_latency_seconds",
			Help:    "Recommendation request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		cacheOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerrec_cache_operations_total",
			Help: "Serving cache reads by list type and result",
		}, []string{"op", "result"}),

		trainingRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerrec_training_runs_total",
			Help: "Pipeline runs by kind and final status",
		}, []string{"kind", "status"}),

		trainingStageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "partnerrec_training_stage_seconds",
			Help:    "Wall time of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),

		activeArtifactTrained: factory.NewGauge(prometheus.GaugeOpts{
			Name: "partnerrec_active_artifact_trained_timestamp",
			Help: "Unix time the served model artifact was trained at",
		}),

		healthCheckStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "partnerrec_health_check_status",
			Help: "Health check status (1 = healthy, 0 = unhealthy)",
		}, []string{"service"}),
	}
}

var _ pipeline.Observer = (*Metrics)(nil)

func (m *Metrics) ObserveRequest(list *models.RecommendationList, d time.Duration) {
	degraded := "false"
	if list.Degraded {
		degraded = "true"
	}
	m.recommendationRequests.WithLabelValues(string(list.Source), degraded).Inc()
	m.recommendationLatency.Observe(d.Seconds())
}

// ObserveCache counts a read; result is hit, miss or error.
func (m *Metrics) ObserveCache(op, result string) {
	m.cacheOperations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.trainingStageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ObserveRun(kind string, status pipeline.RunStatus) {
	m.trainingRuns.WithLabelValues(kind, string(status)).Inc()
}

func (m *Metrics) SetActiveArtifact(trainedAt time.Time) {
	m.activeArtifactTrained.Set(float64(trainedAt.Unix()))
}

// UpdateHealthMetrics updates health check metrics
func (m *Metrics) UpdateHealthMetrics(service string, healthy bool) {
	if healthy {
		m.healthCheckStatus.WithLabelValues(service).Set(1)
	} else {
		m.healthCheckStatus.WithLabelValues(service).Set(0)
	}
}
