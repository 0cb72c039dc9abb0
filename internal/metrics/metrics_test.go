package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCountsByStatus(t *testing.T) {
	r := New()
	ctx := context.Background()
	r.Observe(ctx, "reshape", true, 10*time.Millisecond)
	r.Observe(ctx, "reshape", true, 20*time.Millisecond)
	r.Observe(ctx, "fit", false, time.Second)
	r.Observe(ctx, "", true, time.Second)

	if got := testutil.ToFloat64(r.stageTotal.WithLabelValues("reshape", "success")); got != 2 {
		t.Fatalf("reshape success = %v", got)
	}
	if got := testutil.ToFloat64(r.stageTotal.WithLabelValues("fit", "error")); got != 1 {
		t.Fatalf("fit error = %v", got)
	}
	if n := testutil.CollectAndCount(r.stageSeconds); n != 2 {
		t.Fatalf("expected 2 histogram series, got %d", n)
	}
}

func TestDatasetGauges(t *testing.T) {
	r := New()
	r.Dataset(2, 12, 1, 0)
	expected := `
# HELP longitudinal_person_period_rows Rows in the last person-period table.
# TYPE longitudinal_person_period_rows gauge
longitudinal_person_period_rows 12
# HELP longitudinal_missing_outcomes Person-period rows with a missing outcome.
# TYPE longitudinal_missing_outcomes gauge
longitudinal_missing_outcomes 1
`
	if err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected),
		"longitudinal_person_period_rows", "longitudinal_missing_outcomes"); err != nil {
		t.Fatal(err)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.Observe(context.Background(), "load", true, time.Second)
	r.Dataset(1, 2, 3, 4)
	if err := r.Push(context.Background(), "http://example.invalid", "job", "run"); err != nil {
		t.Fatalf("nil push: %v", err)
	}
}

func TestPushSendsGroupedMetrics(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		b, _ := io.ReadAll(req.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New()
	r.Observe(context.Background(), "load", true, time.Millisecond)
	if err := r.Push(context.Background(), srv.URL, "longitudinal", "abc"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if gotPath != "/metrics/job/longitudinal/run_id/abc" {
		t.Fatalf("unexpected push path %q", gotPath)
	}
	if gotBody == "" {
		t.Fatalf("expected a metrics body")
	}
}

func TestPushReportsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	if err := New().Push(context.Background(), srv.URL, "longitudinal", ""); err == nil {
		t.Fatalf("expected push error")
	}
}
