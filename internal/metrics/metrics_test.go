package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.DialogueFinished("completed")
	m.DialogueFinished("completed")
	m.RunFinished("ok", 3*time.Second)
	m.AdapterError("generation", "blocked")

	if got := testutil.ToFloat64(m.DialogueOutcomes.WithLabelValues("completed")); got != 2 {
		t.Errorf("dialogue completed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PipelineRuns.WithLabelValues("ok")); got != 1 {
		t.Errorf("runs ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AdapterErrors.WithLabelValues("generation", "blocked")); got != 1 {
		t.Errorf("adapter errors = %v, want 1", got)
	}
}

func TestIndependentRegistries(t *testing.T) {
	// A second instance must not panic on duplicate registration.
	a, b := New(), New()
	a.RunFinished("ok", time.Second)
	if got := testutil.ToFloat64(b.PipelineRuns.WithLabelValues("ok")); got != 0 {
		t.Errorf("registries share state: %v", got)
	}
}

func TestHandlerExposesGauge(t *testing.T) {
	m := New()
	m.RegisterGauge("active_sessions", "Active dialogue sessions.", func() float64 { return 7 })
	m.GenerationFinished("ok", 2*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"natal_chart_active_sessions 7",
		`natal_chart_generation_latency_seconds_count{result="ok"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
