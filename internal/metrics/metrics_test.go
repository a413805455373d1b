package metrics_test

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jianglan89/rtp-llm/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("unexpected status code from metrics handler: %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRegistryExposesMetrics(t *testing.T) {
	topology := "metrics_test_topology"

	metrics.EmitBuildInfo()
	metrics.SetSupervised(topology, 3)
	metrics.SetAlive(topology, 2)
	metrics.ObserveSignal("metrics_test_backend", metrics.SignalTerminate, nil)
	metrics.ObserveSignal("metrics_test_backend", metrics.SignalKill, errors.New("boom"))
	metrics.ObserveShutdown(topology, "shutdown_requested", "joined", 2*time.Second)
	metrics.IncJoinFailure("metrics_test_backend")

	body := scrape(t)
	for _, want := range []string{
		`rtpsup_supervised_processes{topology="metrics_test_topology"} 3`,
		`rtpsup_alive_processes{topology="metrics_test_topology"} 2`,
		`rtpsup_process_signals_total{kind="terminate",outcome="sent",process="metrics_test_backend"} 1`,
		`rtpsup_process_signals_total{kind="kill",outcome="error",process="metrics_test_backend"} 1`,
		`rtpsup_shutdowns_total{outcome="joined",reason="shutdown_requested",topology="metrics_test_topology"} 1`,
		`rtpsup_shutdown_duration_seconds_count{topology="metrics_test_topology"} 1`,
		`rtpsup_join_failures_total{process="metrics_test_backend"} 1`,
		"rtpsup_build_info{",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metric line %q in body:\n%s", want, body)
		}
	}
}

func TestResetTopologyDropsGauges(t *testing.T) {
	topology := "metrics_reset_topology"
	metrics.SetSupervised(topology, 1)
	metrics.ResetTopology(topology)

	if body := scrape(t); strings.Contains(body, topology) {
		t.Fatalf("expected gauges for %s to be removed:\n%s", topology, body)
	}
}
