// Package metrics defines the Prometheus instrumentation surfaced by the
// voice-presence engine, following this corpus's promauto registration
// pattern: package-level collectors constructed once at import time and
// incremented from the call sites that own the event.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VoiceEventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceengine_voice_events_ingested_total",
		Help: "Total number of raw voice-state events received from the gateway.",
	})

	VoiceEventsDebounced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceengine_voice_events_debounced_total",
		Help: "Total number of voice-state events collapsed by the per-user debounce window.",
	})

	AdHocSessionsSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceengine_adhoc_sessions_spawned_total",
		Help: "Total number of ad-hoc sessions spawned after crossing the minPlayers threshold.",
	})

	AdHocSessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceengine_adhoc_sessions_completed_total",
		Help: "Total number of ad-hoc sessions that completed after the grace window elapsed.",
	})

	AdHocSessionsRescued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceengine_adhoc_sessions_rescued_total",
		Help: "Total number of ad-hoc sessions rescued from the grace window by a rejoin.",
	})

	AttendanceSessionsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceengine_attendance_sessions_flushed_total",
		Help: "Total number of attendance sessions persisted by a periodic flush.",
	})

	AttendanceFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voiceengine_attendance_flush_duration_seconds",
		Help:    "Duration of one attendance flush pass over all dirty or active sessions.",
		Buckets: prometheus.DefBuckets,
	})

	SessionTableSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceengine_session_table_size",
		Help: "Current number of live entries in the in-memory session table.",
	})

	ClassificationRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceengine_classification_runs_total",
		Help: "Total number of scheduled-classification loop ticks.",
	})

	ClassificationsByResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceengine_classifications_total",
		Help: "Total number of sessions classified, labeled by outcome.",
	}, []string{"classification"})

	ResolverCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceengine_resolver_cache_hits_total",
		Help: "Total number of game-name resolutions served from cache.",
	})

	ResolverCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceengine_resolver_cache_misses_total",
		Help: "Total number of game-name resolutions that required a store lookup.",
	})

	BindingCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceengine_binding_cache_size",
		Help: "Current number of entries in the channel-binding cache.",
	})

	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceengine_notifications_sent_total",
		Help: "Total number of ad-hoc session notifications (spawn, update, completion) sent or edited.",
	})

	AvailabilityConflictsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceengine_availability_conflicts_detected_total",
		Help: "Total number of availability-window conflicts detected.",
	})
)
