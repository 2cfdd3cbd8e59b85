package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandler_Healthz(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "ok" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestHandler_ExposesPipelineMetrics(t *testing.T) {
	PipelineRuns.WithLabelValues("delivered").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `vidrelay_pipeline_runs_total{outcome="delivered"}`) {
		t.Fatalf("pipeline counter missing from exposition:\n%s", body)
	}
}

func TestCounterVecs(t *testing.T) {
	before := testutil.ToFloat64(RedirectResolutions.WithLabelValues("failed"))
	RedirectResolutions.WithLabelValues("failed").Inc()
	if got := testutil.ToFloat64(RedirectResolutions.WithLabelValues("failed")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}

func TestObserveSince(t *testing.T) {
	before := testutil.CollectAndCount(PipelineDuration)
	ObserveSince(PipelineDuration, time.Now().Add(-2*time.Second))
	if after := testutil.CollectAndCount(PipelineDuration); after != before {
		t.Fatalf("histogram should stay a single series, got %d -> %d", before, after)
	}
}
