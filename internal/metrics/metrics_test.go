package metrics

import (
	"expvar"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInc(t *testing.T) {
	before := ExtractionFailures.Value()
	Inc(ExtractionFailures)
	Inc(ExtractionFailures)
	assert.Equal(t, before+2, ExtractionFailures.Value())
}

func TestCountersArePublished(t *testing.T) {
	for _, name := range []string{
		"parsehealthlog_artifacts_produced_total",
		"parsehealthlog_artifacts_reused_total",
		"parsehealthlog_cache_corruptions_total",
		"parsehealthlog_extraction_failures_total",
		"parsehealthlog_timeline_rebuilds_total",
	} {
		assert.NotNil(t, expvar.Get(name), name)
	}
}
