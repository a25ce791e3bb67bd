package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// freshRegistry registers collectors with a new registry. The regOK gate is
// reset so each test gets its own registration.
func freshRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := freshRegistry(t)
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncSpawn(true)
	IncSpawn(false)
	IncKill("unhealthy")
	IncRestart()
	ObserveHealthCheck(false, 0.01)
	RecordStateTransition("starting", "unhealthy")
	SetCurrentState("unhealthy")
	IncOutputLine("stdout")
	IncOutputDropped()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"rad_supervisor_spawns_total":            false,
		"rad_supervisor_kills_total":             false,
		"rad_supervisor_restarts_total":          false,
		"rad_health_checks_total":                false,
		"rad_health_probe_duration_seconds":      false,
		"rad_supervisor_state_transitions_total": false,
		"rad_supervisor_current_state":           false,
		"rad_output_lines_total":                 false,
		"rad_output_dropped_lines_total":         false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write: %v", err)
	}
	return m.GetGauge().GetValue()
}

// seriesCount returns the number of series under name in reg.
func seriesCount(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return len(mf.GetMetric())
		}
	}
	return 0
}

func TestSetCurrentStateIsExclusive(t *testing.T) {
	freshRegistry(t)
	SetCurrentState("healthy")
	SetCurrentState("terminated")
	if v := gaugeValue(t, currentState.WithLabelValues("terminated")); v != 1 {
		t.Fatalf("terminated = %v", v)
	}
	if v := gaugeValue(t, currentState.WithLabelValues("healthy")); v != 0 {
		t.Fatalf("healthy = %v", v)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := freshRegistry(t)
	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()

	IncRestart()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "rad_supervisor_restarts_total") {
		t.Fatalf("metrics output missing restarts_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	reg := freshRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncSpawn(true)
			IncRestart()
			IncOutputLine("stderr")
		}()
	}
	wg.Wait()
	// Ensure gather succeeds under race detector
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// These should be no-ops and not panic when called before Register
	IncSpawn(true)
	IncKill("manual")
	IncRestart()
	ObserveHealthCheck(true, 1.0)
	RecordStateTransition("starting", "healthy")
	SetCurrentState("healthy")
	IncOutputLine("stdout")
	IncOutputDropped()
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Custom registerer for testing error handling
type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}
func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }

func TestSamplerReadsOwnProcess(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, MaxHistory: 2}, nil)
	reg := prometheus.NewRegistry()
	if err := s.RegisterMetrics(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	pid := int32(os.Getpid())
	for i := 0; i < 3; i++ {
		s.collect(context.Background(), pid)
	}
	latest, ok := s.Latest()
	if !ok || latest.PID != pid {
		t.Fatalf("latest = %+v ok=%v", latest, ok)
	}
	if latest.MemoryRSS == 0 {
		t.Fatal("expected non-zero RSS for the test process")
	}
	if n := len(s.History()); n != 2 {
		t.Fatalf("history should be capped at 2, got %d", n)
	}
	if got := seriesCount(t, reg, "rad_server_memory_mb"); got != 1 {
		t.Fatalf("memory series = %d", got)
	}

	// No server: gauges are cleared.
	s.collect(context.Background(), 0)
	if got := seriesCount(t, reg, "rad_server_memory_mb"); got != 0 {
		t.Fatalf("memory series after reset = %d", got)
	}
}

func TestSamplerStartStop(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Interval: 10 * time.Millisecond}, nil)
	pid := os.Getpid()
	s.Start(context.Background(), func() int { return pid })
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.Latest(); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()
	if _, ok := s.Latest(); !ok {
		t.Fatal("sampler never recorded a sample")
	}
}

func TestSamplerDisabled(t *testing.T) {
	s := NewSampler(SamplerConfig{}, nil)
	if s.Enabled() {
		t.Fatal("zero config should be disabled")
	}
	if err := s.RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background(), func() int { return os.Getpid() })
	s.Stop()
	if _, ok := s.Latest(); ok {
		t.Fatal("disabled sampler should not sample")
	}
}
