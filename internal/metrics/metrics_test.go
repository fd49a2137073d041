package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewTwiceDoesNotPanic(t *testing.T) {
	New()
	New()
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveWrite("ok", 20*time.Millisecond)
	m.ObserveSnapshot("applied")
	m.ObserveAuth("sign_in", "ok")
	m.SetActiveSessions(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`budget_sync_writes_total{result="ok"} 1`,
		`budget_sync_snapshots_total{kind="applied"} 1`,
		`budget_active_sessions 3`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveWrite("error", time.Second)
	m.ObserveSnapshot("echo")
	m.ObserveAuth("sign_up", "weak_credential")
	m.ObserveRequest("/x", "2xx", time.Millisecond)
	m.SetActiveSessions(1)
	m.ObserveMirror("ok")
	m.ObserveRateLimited("/auth/signin")
}
