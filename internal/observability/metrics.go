package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransformationsTotal counts processed stanzas by outcome.
	TransformationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_transformations_total",
		Help: "Total number of message stanzas transformed, by outcome",
	}, []string{"outcome"})

	// TransformationDuration records how long one transformation takes, commit included.
	TransformationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_transformation_duration_seconds",
		Help:    "Duration of a message transformation in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	// StubsCreatedTotal counts placeholder messages created for forward references.
	StubsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_message_stubs_created_total",
		Help: "Total number of placeholder messages created, by referencing kind",
	}, []string{"reason"})

	// StubsPromotedTotal counts placeholders that became real messages.
	StubsPromotedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_message_stubs_promoted_total",
		Help: "Total number of placeholder messages promoted to real messages",
	})

	// ForeignVersionsDroppedTotal counts corrections and retractions held by a
	// placeholder that the real message's author did not send.
	ForeignVersionsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_message_foreign_versions_dropped_total",
		Help: "Total number of corrections and retractions dropped on promotion because the sender was not the author",
	})

	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// CacheLookups counts cache-aside lookups by result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_cache_lookups_total",
		Help: "Total number of cache lookups by cache and result",
	}, []string{"cache", "result"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})
)

// Transformation outcomes.
const (
	OutcomeContent       = "content"
	OutcomeCorrection    = "correction"
	OutcomeRetraction    = "retraction"
	OutcomeReaction      = "reaction"
	OutcomeState         = "state"
	OutcomeErrorStanza   = "error_stanza"
	OutcomeDuplicate     = "duplicate"
	OutcomeDropped       = "dropped"
	OutcomeDecryptFailed = "decrypt_failed"
	OutcomeKeyTransport  = "key_transport"
	OutcomeFailed        = "failed"
)

// RecordTransformation increments the outcome counter.
func RecordTransformation(outcome string) {
	TransformationsTotal.WithLabelValues(outcome).Inc()
}

// TrackTransformation returns a function that records the duration when called (e.g. defer).
func TrackTransformation(mode string) func() {
	start := time.Now()
	return func() {
		TransformationDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
