package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/facts", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	before200 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	before404 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))

	resp, err := http.Get(ts.URL + "/facts")
	if err != nil {
		t.Fatal(err)
	}
	if errInner := resp.Body.Close(); errInner != nil {
		t.Log(errInner)
	}

	resp, err = http.Get(ts.URL + "/missing")
	if err != nil {
		t.Fatal(err)
	}
	if errInner := resp.Body.Close(); errInner != nil {
		t.Log(errInner)
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val != before200+1 {
		t.Errorf("expected 200 counter to advance by 1, got %f from %f", val, before200)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")); val != before404+1 {
		t.Errorf("expected 404 counter to advance by 1, got %f from %f", val, before404)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("expected request durations to be observed, got %d", val)
	}
}

func TestObserveHelpers(t *testing.T) {
	ObserveIngest("dipres_ley_2026", "ok", 1024, 120*time.Millisecond)
	ObserveParse("dipres_ley_2026", "ok", 33, 45*time.Millisecond)
	ObserveRateLimitDelay("dipres_ley_2026", time.Second)

	if val := testutil.ToFloat64(ingestRunsTotal.WithLabelValues("dipres_ley_2026", "ok")); val < 1 {
		t.Errorf("expected ingest counter >= 1, got %f", val)
	}
	if val := testutil.ToFloat64(factsWrittenTotal.WithLabelValues("dipres_ley_2026")); val < 33 {
		t.Errorf("expected facts counter >= 33, got %f", val)
	}
	if val := testutil.CollectAndCount(rateLimitDelaysSeconds); val <= 0 {
		t.Errorf("expected rate limit delays to be observed, got %d", val)
	}
}
