package prometheus

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	authcore "github.com/kvoss-dev/authcore"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authcore.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authcore.MetricsSnapshot{
		Counters: make(map[authcore.MetricID]uint64, len(f.snapshot.Counters)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestRenderExposesCounters(t *testing.T) {
	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:         3,
				authcore.MetricRefreshReuseDetected: 1,
			},
		},
		dropped: 2,
	}

	out := NewPrometheusExporterFromSource(src).Render()

	for _, want := range []string{
		"authcore_login_success_total 3",
		"authcore_refresh_reuse_detected_total 1",
		"authcore_audit_dropped_total 2",
		"# TYPE authcore_login_success_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
	// Untouched counters still appear, as zero.
	if !strings.Contains(out, "authcore_logout_total 0") {
		t.Fatalf("zero counters must still render:\n%s", out)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	exp := NewPrometheusExporterFromSource(&fakeSource{})

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
}

func TestNilExporterRendersNothing(t *testing.T) {
	var exp *PrometheusExporter
	if out := exp.Render(); out != "" {
		t.Fatalf("nil exporter rendered %q", out)
	}
}
