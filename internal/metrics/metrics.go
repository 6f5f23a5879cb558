// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

// Package metrics holds the Prometheus instruments for catalog fetches,
// reconciliation, ingestion and the store.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Catalog API
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onix_fetch_duration_seconds",
			Help:    "Duration of catalog API calls in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // record, status, list
	)

	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onix_fetch_attempts_total",
			Help: "Catalog API HTTP attempts by outcome",
		},
		[]string{"operation", "outcome"}, // ok, transport, content, circuit_open
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onix_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onix_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Reconciliation
	ReconcileIdentifiers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onix_reconcile_identifiers_total",
			Help: "Identifiers classified by reconciliation or list loading",
		},
		[]string{"kind"}, // new, changed, deleted, listed, skipped
	)

	ReconcileErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "onix_reconcile_errors_total",
			Help: "Reconciliation calls aborted without touching the ledger",
		},
	)

	// Ingestion
	RecordsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onix_records_persisted_total",
			Help: "Identifiers written by the persistence worker by outcome",
		},
		[]string{"outcome"}, // processed, error
	)

	PipelineBatchSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onix_pipeline_batch_size",
			Help: "Pending identifiers in the current ledger batch",
		},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onix_pipeline_duration_seconds",
			Help:    "Duration of complete pipeline runs",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 12 * 3600},
		},
	)

	SchemaColumnsAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onix_schema_columns_added_total",
			Help: "Columns added to dynamic tables",
		},
		[]string{"table"},
	)

	// Sync manager
	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onix_sync_last_success_timestamp",
			Help: "Unix time of the last successful sync run",
		},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onix_sync_errors_total",
			Help: "Failed sync runs by stage",
		},
		[]string{"stage"}, // reconcile, ingest, snapshot
	)

	// Events
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onix_events_published_total",
			Help: "Change events published by topic and outcome",
		},
		[]string{"topic", "outcome"},
	)

	// HTTP API (service mode)
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onix_api_requests_total",
			Help: "API requests by method, route pattern and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onix_api_request_duration_seconds",
			Help:    "API request latency by method and route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onix_api_active_requests",
			Help: "API requests in flight",
		},
	)
)

// RecordAPIRequest records one served request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}

// RecordFetch records one catalog call.
func RecordFetch(operation string, duration time.Duration) {
	FetchDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFetchAttempt counts one HTTP attempt.
func RecordFetchAttempt(operation, outcome string) {
	FetchAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordPersisted counts one persistence outcome.
func RecordPersisted(ok bool) {
	if ok {
		RecordsPersisted.WithLabelValues("processed").Inc()
		return
	}
	RecordsPersisted.WithLabelValues("error").Inc()
}

// RecordReconcile counts classified identifiers.
func RecordReconcile(newCount, changedCount, deletedCount int) {
	ReconcileIdentifiers.WithLabelValues("new").Add(float64(newCount))
	ReconcileIdentifiers.WithLabelValues("changed").Add(float64(changedCount))
	ReconcileIdentifiers.WithLabelValues("deleted").Add(float64(deletedCount))
}

// RecordSync records the outcome of a scheduled run. stage names the step that failed.
func RecordSync(stage string, err error) {
	if err != nil {
		SyncErrors.WithLabelValues(stage).Inc()
		return
	}
	SyncLastSuccess.Set(float64(time.Now().Unix()))
}

// RecordEvent counts a publish attempt.
func RecordEvent(topic string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	EventsPublished.WithLabelValues(topic, outcome).Inc()
}
