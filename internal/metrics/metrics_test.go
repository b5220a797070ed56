package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	t.Run("NilIsNoop", func(t *testing.T) {
		var m *Metrics
		m.IngestRun(OutcomeCompleted)
		m.IngestEntities("track", 3)
		m.PushEvent(true)
		m.PushSubscribers(1)
		m.HTTPRequest("GET", "/api/me", 200, 0.01)
	})

	t.Run("Counts", func(t *testing.T) {
		m := New(prometheus.NewRegistry())

		m.IngestRun(OutcomeCompleted)
		m.IngestRun(OutcomeCompleted)
		m.IngestRun(OutcomeFailed)
		if got := testutil.ToFloat64(m.ingestRuns.WithLabelValues(OutcomeCompleted)); got != 2 {
			t.Errorf("completed runs = %v, want 2", got)
		}

		m.IngestEntities("track", 5)
		m.IngestEntities("track", 0)
		if got := testutil.ToFloat64(m.ingestEntities.WithLabelValues("track")); got != 5 {
			t.Errorf("tracks = %v, want 5", got)
		}

		m.PushEvent(false)
		if got := testutil.ToFloat64(m.pushEvents.WithLabelValues("dropped")); got != 1 {
			t.Errorf("dropped = %v, want 1", got)
		}

		m.PushSubscribers(1)
		m.PushSubscribers(1)
		m.PushSubscribers(-1)
		if got := testutil.ToFloat64(m.pushSubs); got != 1 {
			t.Errorf("subscribers = %v, want 1", got)
		}
	})
}
