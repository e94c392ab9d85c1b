package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MrEthical07/dmarcauth"
)

type fakeSource struct {
	snapshot dmarcauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() dmarcauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func sampleSource() fakeSource {
	return fakeSource{
		snapshot: dmarcauth.MetricsSnapshot{
			Counters: map[dmarcauth.MetricID]uint64{
				dmarcauth.MetricLoginSuccess:         7,
				dmarcauth.MetricRefreshTheftDetected: 2,
			},
			Histograms: map[dmarcauth.MetricID][]uint64{
				dmarcauth.MetricRefreshLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 3,
	}
}

func TestCollectorPassesLint(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewCollectorFromSource(sampleSource()))
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("lint problems: %v", problems)
	}
}

func TestCollectorValues(t *testing.T) {
	c := NewCollectorFromSource(sampleSource())

	expected := `
# HELP dmarcauth_refresh_theft_detected_total Revoked refresh tokens presented again.
# TYPE dmarcauth_refresh_theft_detected_total counter
dmarcauth_refresh_theft_detected_total 2
# HELP dmarcauth_audit_dropped_total Audit events dropped under backpressure.
# TYPE dmarcauth_audit_dropped_total counter
dmarcauth_audit_dropped_total 3
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"dmarcauth_refresh_theft_detected_total", "dmarcauth_audit_dropped_total")
	if err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "dmarcauth_refresh_latency_seconds" {
			continue
		}
		h := mf.GetMetric()[0].GetHistogram()
		if h.GetSampleCount() != 36 {
			t.Fatalf("sample count=%d, want 36", h.GetSampleCount())
		}
		if got := h.GetBucket()[0].GetCumulativeCount(); got != 1 {
			t.Fatalf("first bucket=%d", got)
		}
		return
	}
	t.Fatal("latency histogram not gathered")
}

func TestHandlerServesTextFormat(t *testing.T) {
	srv := httptest.NewServer(NewCollectorFromSource(sampleSource()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "dmarcauth_login_success_total 7") {
		t.Fatalf("missing counter:\n%s", body)
	}
}
