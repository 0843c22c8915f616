package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(BatchesCommitted)
	BatchesCommitted.Inc()
	if after := testutil.ToFloat64(BatchesCommitted); after != before+1 {
		t.Errorf("expected %v, got %v", before+1, after)
	}

	Alerts.WithLabelValues("cpu", "Orange").Inc()
	if v := testutil.ToFloat64(Alerts.WithLabelValues("cpu", "Orange")); v < 1 {
		t.Errorf("alert counter not incremented: %v", v)
	}
}

func TestHandler(t *testing.T) {
	SamplesIngested.Add(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "vigil_samples_ingested_total") {
		t.Error("handler output missing vigil_samples_ingested_total")
	}
}
