// Package metrics exposes Prometheus metrics for the QA pipeline.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "call_qa"

type Metrics struct {
	// Pipeline
	PipelineRuns     *prometheus.CounterVec
	PipelineActive   prometheus.Gauge
	PipelineDuration prometheus.Histogram
	StageDuration    *prometheus.HistogramVec
	StageFailures    *prometheus.CounterVec
	CallScore        prometheus.Histogram

	// Upstream services
	STTSegments *prometheus.CounterVec
	LLMRequests *prometheus.CounterVec

	// Side outputs
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
	ArchiveUploads      *prometheus.CounterVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
}

// DefaultMetrics is registered with the default Prometheus registry.
var DefaultMetrics = NewMetrics()

func NewMetrics() *Metrics {
	return &Metrics{
		PipelineRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by final status",
		}, []string{"status"}),
		PipelineActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_active",
			Help:      "Number of pipeline runs in progress",
		}),
		PipelineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end pipeline duration",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		StageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Stage failures by stage and error kind",
		}, []string{"stage", "kind"}),
		CallScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_overall_score",
			Help:      "Overall scorecard score of graded calls",
			Buckets:   []float64{1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5},
		}),
		STTSegments: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_segments_total",
			Help:      "Audio segments sent for transcription",
		}, []string{"provider", "outcome"}),
		LLMRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Chat completion requests",
		}, []string{"outcome"}),
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
		ArchiveUploads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_uploads_total",
			Help:      "Artifact uploads to object storage",
		}, []string{"outcome"}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) RecordPipelineStart() {
	m.PipelineActive.Inc()
}

func (m *Metrics) RecordPipelineEnd(status string, durationSeconds float64) {
	m.PipelineActive.Dec()
	m.PipelineRuns.WithLabelValues(status).Inc()
	m.PipelineDuration.Observe(durationSeconds)
}

// RecordStage records a stage duration and, when kind is not "none", a failure.
func (m *Metrics) RecordStage(stage, kind string, durationSeconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
	if kind != "none" {
		m.StageFailures.WithLabelValues(stage, kind).Inc()
	}
}

func (m *Metrics) RecordScore(score float64) {
	m.CallScore.Observe(score)
}

func (m *Metrics) RecordSTTSegment(provider string, err error) {
	m.STTSegments.WithLabelValues(provider, outcome(err)).Inc()
}

func (m *Metrics) RecordLLMRequest(err error) {
	m.LLMRequests.WithLabelValues(outcome(err)).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

func (m *Metrics) RecordArchiveUpload(err error) {
	m.ArchiveUploads.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
