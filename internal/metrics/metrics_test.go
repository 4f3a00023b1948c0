package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read scrape: %v", err)
	}
	return string(body)
}

func TestInstrumentCountsRequests(t *testing.T) {
	m := New()
	h := m.Instrument("students", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/students/", nil))

	out := scrape(t, m)
	want := `checkpoint_http_requests_total{method="POST",route="students",status="201"} 1`
	if !strings.Contains(out, want) {
		t.Fatalf("missing %q in scrape output:\n%s", want, out)
	}
	if !strings.Contains(out, "checkpoint_http_request_duration_seconds_count") {
		t.Fatalf("missing latency histogram")
	}
}

func TestRecordTransitionAndLoginFailures(t *testing.T) {
	m := New()
	m.RecordTransition("checked-in")
	m.RecordTransition("checked-in")
	m.RecordTransition("checked-out")
	m.LoginFailed()

	out := scrape(t, m)
	for _, want := range []string{
		`checkpoint_record_transitions_total{status="checked-in"} 2`,
		`checkpoint_record_transitions_total{status="checked-out"} 1`,
		`checkpoint_login_failures_total 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in scrape output", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordTransition("checked-in")
	m.LoginFailed()
	called := false
	m.Instrument("x", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("nil metrics should pass through")
	}
}
