package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestEventsTotalRecordsObservation(t *testing.T) {
	ObserveEvent("memory", "recorded")
	ObserveEvent("memory", "filtered")

	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() != "tracekeeper_events_total" {
			continue
		}
		found = true
		if len(mf.Metric) == 0 {
			t.Fatalf("events_total metric has no samples")
		}
	}
	if !found {
		t.Fatalf("tracekeeper_events_total not found")
	}
}

func TestMetricsEndpointExposesCoreMetrics(t *testing.T) {
	ObserveEvent("pagefault", "recorded")
	ObserveLibraryLookup("hit")
	SetTracerActive(true)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", w.Code)
	}

	body := w.Body.String()
	for _, want := range []string{
		"tracekeeper_events_total",
		"tracekeeper_library_lookups_total",
		"tracekeeper_tracer_active",
		"tracekeeper_up",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics endpoint missing %s", want)
		}
	}
}
