// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

// Package metrics provides Prometheus metrics collection for observability.
//
// Collectors are registered through promauto at package load and exported as
// package variables; components record through them directly or via the
// helper functions at the bottom of this file. Metrics are exposed at the
// /metrics endpoint in Prometheus text format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Command dispatch metrics
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podsync_commands_total",
			Help: "Total commands dispatched, by command type and result code",
		},
		[]string{"command", "result"},
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "podsync_command_duration_seconds",
			Help:    "End-to-end command execution duration (load, validate, append)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	CommandRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "podsync_command_optimistic_retries_total",
			Help: "Command re-executions caused by append version conflicts",
		},
	)

	// Event store metrics
	EventStoreAppends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "podsync_eventstore_appended_events_total",
			Help: "Events durably appended to the log",
		},
	)

	EventStoreConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "podsync_eventstore_version_conflicts_total",
			Help: "Appends rejected due to an expected-version mismatch",
		},
	)

	EventStoreAppendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "podsync_eventstore_append_duration_seconds",
			Help:    "Append transaction duration including the advisory lock wait",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Aggregate runtime metrics
	AggregateCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "podsync_aggregate_cache_entries",
			Help: "Aggregates currently held in the in-memory cache",
		},
	)

	AggregateReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "podsync_aggregate_replays_total",
			Help: "Aggregate state rebuilds by replaying the stream",
		},
	)

	AggregateReplayedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "podsync_aggregate_replayed_events_total",
			Help: "Events applied during aggregate state rebuilds",
		},
	)

	StreamsPoisoned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "podsync_streams_poisoned",
			Help: "Streams quarantined after a fatal apply error",
		},
	)

	// Projection metrics
	ProjectorPosition = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "podsync_projector_position",
			Help: "Last global position durably applied, per projector",
		},
		[]string{"projector"},
	)

	ProjectorEventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podsync_projector_events_applied_total",
			Help: "Events applied to read models, per projector",
		},
		[]string{"projector"},
	)

	ProjectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podsync_projector_errors_total",
			Help: "Apply failures that triggered a backoff retry, per projector",
		},
		[]string{"projector"},
	)

	ProjectorHalted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "podsync_projector_halted",
			Help: "1 when the projector is halted at a position pending operator action",
		},
		[]string{"projector"},
	)

	ProjectorApplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "podsync_projector_apply_duration_seconds",
			Help:    "Per-event transactional apply duration, per projector",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"projector"},
	)

	// Snapshot worker metrics
	SnapshotCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "podsync_snapshot_cycles_total",
			Help: "Completed snapshot worker cycles",
		},
	)

	SnapshotCheckpoints = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "podsync_snapshot_checkpoints_total",
			Help: "UserCheckpoint events appended by the snapshot worker",
		},
	)

	SnapshotEventsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "podsync_snapshot_events_deleted_total",
			Help: "Raw events physically removed after checkpointing",
		},
	)

	// Ingress shaping
	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "podsync_play_rate_limit_rejections_total",
			Help: "Play-recording commands rejected by the per-user token bucket",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podsync_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "podsync_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "podsync_websocket_connections_active",
			Help: "Active device-notification WebSocket connections",
		},
	)

	WebSocketNotifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "podsync_websocket_notifications_total",
			Help: "Per-user sync nudges delivered over WebSocket",
		},
	)
)

// RecordCommand records one dispatched command with its result code.
func RecordCommand(command, result string, duration time.Duration) {
	CommandsTotal.WithLabelValues(command, result).Inc()
	CommandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordProjectorApply records one successfully applied event.
func RecordProjectorApply(projector string, position int64, duration time.Duration) {
	ProjectorEventsApplied.WithLabelValues(projector).Inc()
	ProjectorPosition.WithLabelValues(projector).Set(float64(position))
	ProjectorApplyDuration.WithLabelValues(projector).Observe(duration.Seconds())
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
