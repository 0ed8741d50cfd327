package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
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
		t.Fatal(err)
	}
	return string(body)
}

func TestMetrics_Exposition(t *testing.T) {
	m := New()
	m.ObserveRun("run", "ok", "", 20*time.Millisecond)
	m.ObserveRun("run", "failed", "panic", time.Millisecond)
	m.ObserveRun("run", "failed", "panic", time.Millisecond)
	m.ObserveCompile(true, 10*time.Millisecond)
	m.ObserveCompile(false, 10*time.Millisecond)
	m.SetBrokerState("graylogic-hub", "connected")
	m.SetWebSocketClients(3)

	out := scrape(t, m)
	for _, want := range []string{
		`graylogic_program_runs_total{entry="run",failure="",outcome="ok"} 1`,
		`graylogic_program_runs_total{entry="run",failure="panic",outcome="failed"} 2`,
		`graylogic_program_compiles_total{result="failed"} 1`,
		`graylogic_program_compile_duration_seconds_count 2`,
		`graylogic_broker_state{client_id="graylogic-hub",state="connected"} 1`,
		`graylogic_broker_state{client_id="graylogic-hub",state="reconnecting"} 0`,
		`graylogic_websocket_clients 3`,
		`go_goroutines`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetrics_BrokerStateMovesBetweenLabels(t *testing.T) {
	m := New()
	m.SetBrokerState("c1", "connected")
	m.SetBrokerState("c1", "reconnecting")

	out := scrape(t, m)
	if !strings.Contains(out, `graylogic_broker_state{client_id="c1",state="connected"} 0`) {
		t.Error("connected gauge not cleared")
	}
	if !strings.Contains(out, `graylogic_broker_state{client_id="c1",state="reconnecting"} 1`) {
		t.Error("reconnecting gauge not set")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRun("run", "ok", "", time.Second)
	m.ObserveCompile(true, time.Second)
	m.SetBrokerState("c", "connected")
	m.SetWebSocketClients(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}
