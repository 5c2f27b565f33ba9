package store

import "github.com/carsgate/portal-engine/pkg/metrics"

type storeMetrics struct {
	actions       *metrics.Counter
	imported      *metrics.Counter
	analyzed      *metrics.Counter
	analyzeFailed *metrics.Counter
	finalized     *metrics.Counter
	eventsApplied *metrics.Counter
	inflightGauge *metrics.Gauge
	latency       *metrics.Histogram
}

// newStoreMetrics registers on reg, or returns detached metrics when reg
// is nil so callers never branch on instrumentation.
func newStoreMetrics(reg *metrics.Registry) *storeMetrics {
	if reg == nil {
		return &storeMetrics{
			actions:       &metrics.Counter{},
			imported:      &metrics.Counter{},
			analyzed:      &metrics.Counter{},
			analyzeFailed: &metrics.Counter{},
			finalized:     &metrics.Counter{},
			eventsApplied: &metrics.Counter{},
			inflightGauge: &metrics.Gauge{},
			latency:       &metrics.Histogram{},
		}
	}
	return &storeMetrics{
		actions:       reg.Counter("portal_store_actions_total", "Mutating store actions"),
		imported:      reg.Counter("portal_posts_imported_total", "Posts created by import"),
		analyzed:      reg.Counter("portal_analyses_total", "Successful extractions"),
		analyzeFailed: reg.Counter("portal_analyses_failed_total", "Failed extractions"),
		finalized:     reg.Counter("portal_posts_finalized_total", "Posts marked ready"),
		eventsApplied: reg.Counter("portal_sync_events_applied_total", "Change-feed events that mutated local state"),
		inflightGauge: reg.Gauge("portal_inflight_analyses", "Extractions currently running"),
		latency:       reg.Histogram("portal_extraction_seconds", "Extraction round-trip latency", nil),
	}
}
