// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

// Package metrics exposes Prometheus instrumentation for the detector, the
// location resolver, the exit node refresher, NATS ingestion and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/exitnodes"
)

var (
	// Detection Metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_events_total",
			Help: "Total number of events routed by the detector",
		},
		[]string{"event"},
	)

	AnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_anomalies_total",
			Help: "Total number of anomalies raised",
		},
		[]string{"kind"},
	)

	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_sink_errors_total",
			Help: "Total number of anomaly records the sink failed to store",
		},
		[]string{"kind"},
	)

	InstrumentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smarthome_instrument_duration_seconds",
			Help:    "Time spent evaluating one event",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		},
	)

	// Location Metrics
	GeoResolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_geo_resolve_total",
			Help: "Live location lookups by outcome",
		},
		[]string{"outcome"}, // resolved, unresolved, timeout, error, breaker_open
	)

	ExitNodeRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_exit_node_refresh_total",
			Help: "Exit node list refreshes by outcome",
		},
		[]string{"outcome"},
	)

	ExitNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smarthome_exit_nodes",
			Help: "Number of addresses in the exit node list",
		},
	)

	// NATS Ingestion Metrics
	NATSMessagesConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_messages_consumed_total",
			Help: "Total number of messages consumed from NATS",
		},
	)

	NATSMessagesParseFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_messages_parse_failed_total",
			Help: "Total number of messages that could not be decoded into events",
		},
	)

	NATSProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nats_processing_duration_seconds",
			Help:    "Time to process one NATS message",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Number of API requests currently being served",
		},
	)
)

// Recorder feeds detector activity into the Prometheus collectors.
type Recorder struct{}

var _ detection.Recorder = Recorder{}

// EventRouted counts an event by name.
func (Recorder) EventRouted(name detection.EventName) {
	EventsTotal.WithLabelValues(string(name)).Inc()
}

// AnomalyRaised counts an anomaly by kind.
func (Recorder) AnomalyRaised(kind detection.Kind) {
	AnomaliesTotal.WithLabelValues(string(kind)).Inc()
}

// SinkFailed counts a failed append.
func (Recorder) SinkFailed(kind detection.Kind) {
	SinkErrorsTotal.WithLabelValues(string(kind)).Inc()
}

// ObserveInstrument records how long one event took.
func (Recorder) ObserveInstrument(d time.Duration) {
	InstrumentDuration.Observe(d.Seconds())
}

// RecordGeoResolve counts a guarded lookup outcome. It matches geoip.OutcomeFunc.
func RecordGeoResolve(outcome string) {
	GeoResolveTotal.WithLabelValues(outcome).Inc()
}

// RecordExitNodeRefresh counts a refresh and tracks the list size.
func RecordExitNodeRefresh(res exitnodes.RefreshResult) {
	ExitNodeRefreshTotal.WithLabelValues(string(res.Outcome)).Inc()
	ExitNodes.Set(float64(res.Count))
}

// RecordNATSConsume counts a consumed message.
func RecordNATSConsume() {
	NATSMessagesConsumed.Inc()
}

// RecordNATSParseFailed counts a message that could not be decoded.
func RecordNATSParseFailed() {
	NATSMessagesParseFailed.Inc()
}

// RecordNATSProcessingDuration records the time spent on one message.
func RecordNATSProcessingDuration(duration time.Duration) {
	NATSProcessingDuration.Observe(duration.Seconds())
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest moves the in-flight gauge up or down.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
