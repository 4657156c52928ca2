package observability

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := newMetrics()
	m.ObserveAPI("GET", "/api/warehouse/boxes", "200", 20*time.Millisecond)
	m.ObserveAPI("POST", "/api/warehouse/boxes", "500", time.Second)
	m.AddReservationsReleased("expired", 3)
	m.IncAuditWriteFailure()
	m.ObserveJob("release-expired-reservations", "ok", 5*time.Millisecond)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`mes_api_requests_total{method="GET",route="/api/warehouse/boxes",status="200"} 1.000000`,
		`mes_api_requests_error_total 1.000000`,
		`mes_reservations_released_total{reason="expired"} 3.000000`,
		`mes_audit_write_failures_total 1.000000`,
		`mes_job_runs_total{task="release-expired-reservations",status="ok"} 1.000000`,
		`mes_api_request_duration_seconds_bucket{method="GET",route="/api/warehouse/boxes",status="200",le="0.025"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q:\n%s", want, out)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/", "200", time.Millisecond)
	m.ApiInflightInc()
	m.AddReservationsReleased("expired", 1)
	m.IncAuditWriteFailure()

	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 503 {
		t.Fatalf("status = %d", rec.Code)
	}
}
