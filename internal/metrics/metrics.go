// Package metrics defines Prometheus metrics for quarryd.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quarry_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_http_errors_total",
			Help: "HTTP error responses by error code",
		},
		[]string{"code"},
	)

	BusPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_bus_published_total",
			Help: "Messages published per topic",
		},
		[]string{"topic"},
	)

	BusConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_bus_consumed_total",
			Help: "Messages acked per topic",
		},
		[]string{"topic"},
	)

	BusDeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_bus_dead_lettered_total",
			Help: "Messages dead-lettered per topic",
		},
		[]string{"topic"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quarry_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	DocumentsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_documents_failed_total",
			Help: "Documents terminalized as failed",
		},
	)

	DocumentsReady = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_documents_ready_total",
			Help: "Documents that reached ready",
		},
	)

	ChatStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quarry_chat_streams_active",
			Help: "Chat generations currently streaming",
		},
	)

	ChatCancellations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_chat_cancellations_total",
			Help: "Chat generations cancelled by clients",
		},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quarry_websocket_connections",
			Help: "Active WebSocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal, ErrorsTotal,
		BusPublished, BusConsumed, BusDeadLettered,
		StageDuration, DocumentsFailed, DocumentsReady,
		ChatStreamsActive, ChatCancellations,
		WSConnections,
	)
}
