// Package metrics provides application-level counters using stdlib expvar.
// Counters are exported on the /debug/vars endpoint of the serve command.
package metrics

import "expvar"

// Artifact cache counters.
var (
	ArtifactsProduced = expvar.NewInt("parsehealthlog_artifacts_produced_total")
	ArtifactsReused   = expvar.NewInt("parsehealthlog_artifacts_reused_total")
	CacheCorruptions  = expvar.NewInt("parsehealthlog_cache_corruptions_total")
)

// Pipeline and timeline counters.
var (
	ExtractionFailures = expvar.NewInt("parsehealthlog_extraction_failures_total")
	ExtractionRetries  = expvar.NewInt("parsehealthlog_extraction_retries_total")
	TransitionWarnings = expvar.NewInt("parsehealthlog_transition_warnings_total")
	EntitiesCreated    = expvar.NewInt("parsehealthlog_entities_created_total")
	EventsAppended     = expvar.NewInt("parsehealthlog_events_appended_total")
	TimelineRebuilds   = expvar.NewInt("parsehealthlog_timeline_rebuilds_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }
