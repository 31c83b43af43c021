package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/semsearch/internal/rag"
)

// counterValue returns the value of the counter name with label=value, or -1.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return -1
}

func TestMetrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	// Touch a counter so the registry has something to expose.
	f.do(t, http.MethodGet, "/api/health", "", nil)
	w := f.do(t, http.MethodGet, "/metrics", "", nil)

	if w.Code != http.StatusOK {
		t.Errorf("want 200, got %d", w.Code)
	}
	ct := w.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "semsearch_http_requests_total") {
		t.Error("semsearch_http_requests_total missing from /metrics output")
	}
}

func TestMetrics_SearchOutcomes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	f.do(t, http.MethodPost, "/api/search", "", rag.SearchRequest{Query: "q"})
	f.search.err = rag.ErrEmbeddingUnavailable
	f.do(t, http.MethodPost, "/api/search", "", rag.SearchRequest{Query: "q"})
	f.do(t, http.MethodPost, "/api/search", "", rag.SearchRequest{Query: "q"})

	if got := counterValue(t, f.metrics, "semsearch_search_requests_total", "outcome", "ok"); got != 1 {
		t.Errorf("want ok=1, got %v", got)
	}
	if got := counterValue(t, f.metrics, "semsearch_search_requests_total", "outcome", "unavailable"); got != 2 {
		t.Errorf("want unavailable=2, got %v", got)
	}
}

func TestMetrics_HTTPRequestsByHandler(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	f.do(t, http.MethodGet, "/api/sources/missing", "", nil)

	if got := counterValue(t, f.metrics, "semsearch_http_requests_total", "code", "404"); got != 1 {
		t.Errorf("want 404 count=1, got %v", got)
	}
	if got := counterValue(t, f.metrics, "semsearch_http_requests_total", labelHandler, "source"); got != 1 {
		t.Errorf("want handler=source count=1, got %v", got)
	}
}
