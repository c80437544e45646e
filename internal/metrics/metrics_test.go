package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"asinresolve/internal/metrics"
)

func TestCollectorsRecordObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveCache("hit")
	m.ObserveCache("hit")
	m.ObserveAttempt("search", "candidate")
	m.ObserveDecision("example.com", "denied")
	m.ObserveCooldown("example.com")
	m.ObserveResolution("found", 20*time.Millisecond)
	done := m.TrackInFlight()

	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")); got != 2 {
		t.Fatalf("cache hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SourceAttempts.WithLabelValues("search", "candidate")); got != 1 {
		t.Fatalf("attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BatchInFlight); got != 1 {
		t.Fatalf("in flight = %v, want 1", got)
	}
	done()
	if got := testutil.ToFloat64(m.BatchInFlight); got != 0 {
		t.Fatalf("in flight after done = %v, want 0", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveCache("miss")
	m.ObserveAttempt("search", "failed")
	m.ObserveDecision("example.com", "granted")
	m.ObserveCooldown("example.com")
	m.ObserveResolution("not_found", time.Second)
	m.TrackInFlight()()
}

func TestHandlerExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObserveResolution("found", time.Millisecond)

	srv := httptest.NewServer(metrics.Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `asinresolve_resolver_resolutions_total{status="found"} 1`) {
		t.Fatalf("expected resolution counter in exposition, got:\n%s", body)
	}
}
