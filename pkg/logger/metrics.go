package logger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics shared by the engine, the distribution channel and the
// feed. Registered on the default registry via promauto.

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "endpoint", "status"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors",
		},
		[]string{"service", "error_type"},
	)

	ComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indicator_compute_duration_seconds",
			Help:    "Duration of an engine compute pass in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
		[]string{"mode"},
	)

	ComputeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indicator_compute_errors_total",
			Help: "Total number of isolated per-indicator compute errors",
		},
		[]string{"indicator"},
	)

	BarsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indicator_bars_processed_total",
			Help: "Total number of bars consumed by the engine",
		},
		[]string{"kind"},
	)

	ActiveIndicators = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indicator_active_specs",
			Help: "Number of registered indicator specs",
		},
	)

	ChannelQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indicator_channel_queue_depth",
			Help: "Number of updates waiting in the distribution channel",
		},
	)

	ChannelDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indicator_channel_dropped_total",
			Help: "Total number of updates dropped by the drop-oldest policy",
		},
	)

	ChannelValidationErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indicator_channel_validation_errors_total",
			Help: "Total number of updates rejected by validation",
		},
	)

	ChannelDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indicator_channel_delivered_total",
			Help: "Total number of updates applied and fanned out",
		},
	)

	SubscriberFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indicator_channel_subscriber_failures_total",
			Help: "Total number of subscriber callbacks that panicked",
		},
	)

	FeedMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indicator_feed_messages_total",
			Help: "Total number of candle feed messages by outcome",
		},
		[]string{"status"},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indicator_ws_connections",
			Help: "Number of active WebSocket connections",
		},
	)
)
