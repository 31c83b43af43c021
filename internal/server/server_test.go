package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/semsearch/internal/ingestion"
	"github.com/54b3r/semsearch/internal/rag"
	"github.com/54b3r/semsearch/internal/registry"
)

// fakeSearcher records requests and returns a canned response or error.
type fakeSearcher struct {
	mu   sync.Mutex
	reqs []rag.SearchRequest
	resp *rag.SearchResponse
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req rag.SearchRequest) (*rag.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp == nil {
		return &rag.SearchResponse{Chunks: []rag.SearchHit{}}, nil
	}
	return f.resp, nil
}

// fakeIndexer marks sources READY in the registry without fetching anything.
type fakeIndexer struct {
	reg       rag.SourceRegistry
	triggered []string
	removeErr error
}

func (f *fakeIndexer) TriggerReindex(ctx context.Context, id string) (ingestion.TriggerResult, error) {
	if id == "" {
		return ingestion.TriggerResult{}, fmt.Errorf("%w: source id is required", rag.ErrInvalidArgument)
	}
	f.triggered = append(f.triggered, id)
	if _, err := f.reg.BeginIndexing(ctx, id); err != nil {
		return ingestion.TriggerResult{Success: false, Message: err.Error(), Err: err}, nil
	}
	if err := f.reg.MarkReady(ctx, id, rag.SystemClock(), 3); err != nil {
		return ingestion.TriggerResult{}, err
	}
	return ingestion.TriggerResult{Success: true, Message: "indexed 3 chunks from source"}, nil
}

func (f *fakeIndexer) RemoveSource(ctx context.Context, id string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	if _, err := f.reg.BeginIndexing(ctx, id); err != nil {
		return err
	}
	return f.reg.Delete(ctx, id)
}

type fixture struct {
	srv     *Server
	handler http.Handler
	search  *fakeSearcher
	indexer *fakeIndexer
	reg     *registry.MemoryRegistry
	metrics *prometheus.Registry
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	metrics := prometheus.NewRegistry()
	cfg.MetricsRegistry = metrics
	cfg.MetricsGatherer = metrics
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1000
		cfg.RateBurst = 1000
	}

	reg := registry.NewMemoryRegistry(nil)
	f := &fixture{
		search:  &fakeSearcher{},
		indexer: &fakeIndexer{reg: reg},
		reg:     reg,
		metrics: metrics,
	}
	srv, err := New(Deps{Search: f.search, Indexer: f.indexer, Registry: reg}, cfg)
	require.NoError(t, err)
	f.srv = srv
	f.handler = srv.Handler()
	return f
}

// newTestServer builds a *Server with fakes and auth disabled.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newFixture(t, nil).srv
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestNew_RequiresDeps(t *testing.T) {
	t.Parallel()
	_, err := New(Deps{}, nil)
	require.Error(t, err)
}

func TestSearch_ReturnsHits(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.search.resp = &rag.SearchResponse{
		Chunks:       []rag.SearchHit{{Text: "cats purr", SourceID: "a", Score: 0.91}},
		TotalResults: 1,
	}

	limit := 5
	w := f.do(t, http.MethodPost, "/api/search", "", rag.SearchRequest{Query: "cats", MaxResults: &limit})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp rag.SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.TotalResults)
	assert.Equal(t, "a", resp.Chunks[0].SourceID)
	require.Len(t, f.search.reqs, 1)
	assert.Equal(t, 5, *f.search.reqs[0].MaxResults)
	assert.Nil(t, f.search.reqs[0].MinSimilarity)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestSearch_ErrorMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		err    error
		status int
		code   rag.Code
		opaque bool
	}{
		{"invalid", fmt.Errorf("%w: query is required", rag.ErrInvalidArgument), http.StatusBadRequest, rag.CodeInvalidArgument, false},
		{"unavailable", fmt.Errorf("rag: %w", rag.ErrEmbeddingUnavailable), http.StatusServiceUnavailable, rag.CodeUnavailable, false},
		{"store unavailable", rag.ErrStoreUnavailable, http.StatusServiceUnavailable, rag.CodeUnavailable, false},
		{"internal", errors.New("disk exploded at /var/secret"), http.StatusInternalServerError, rag.CodeInternal, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			f.search.err = tc.err

			w := f.do(t, http.MethodPost, "/api/search", "", rag.SearchRequest{Query: "q"})
			require.Equal(t, tc.status, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, tc.code, body.Code)
			if tc.opaque {
				assert.Equal(t, "internal error", body.Message)
			}
		})
	}
}

func TestSearch_MalformedBody(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, rag.CodeInvalidArgument, decodeError(t, w).Code)
	assert.Empty(t, f.search.reqs)
}

func TestRoutes_AuthAndRoles(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &Config{APIKey: "user-key", AdminKey: "admin-key"})

	w := f.do(t, http.MethodPost, "/api/search", "", rag.SearchRequest{Query: "q"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/api/search", "user-key", rag.SearchRequest{Query: "q"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/admin/reindex", "user-key", reindexRequest{SourceID: "a"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, f.indexer.triggered)

	w = f.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_SourceLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &Config{AdminKey: "admin"})

	w := f.do(t, http.MethodPost, "/api/admin/sources", "admin",
		registerRequest{ID: "doc", Location: "https://user:pw@example.com/doc?sig=abc"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var reg registerResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&reg))
	assert.Equal(t, rag.StatusPending, reg.Source.Status)
	assert.Equal(t, "https://example.com/doc", reg.Source.Location)
	assert.Nil(t, reg.Reindex)

	w = f.do(t, http.MethodPost, "/api/admin/sources", "admin", registerRequest{ID: "doc", Location: "x"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, rag.CodeAlreadyExists, decodeError(t, w).Code)

	w = f.do(t, http.MethodPost, "/api/admin/reindex", "admin", reindexRequest{SourceID: "doc"})
	require.Equal(t, http.StatusOK, w.Code)
	var tr ingestion.TriggerResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&tr))
	assert.True(t, tr.Success)

	w = f.do(t, http.MethodGet, "/api/sources/doc", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var src sourceResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&src))
	assert.Equal(t, rag.StatusReady, src.Status)
	assert.Equal(t, 3, src.ChunkCount)
	assert.NotNil(t, src.LastIndexedAt)

	w = f.do(t, http.MethodGet, "/api/admin/sources", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list listSourcesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list.Sources, 1)

	w = f.do(t, http.MethodDelete, "/api/admin/sources/doc", "admin", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/api/sources/doc", "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, rag.CodeNotFound, decodeError(t, w).Code)
}

func TestAdmin_RegisterWithReindex(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/admin/sources", "", registerRequest{ID: "doc", Location: "data:,hi", Reindex: true})
	require.Equal(t, http.StatusCreated, w.Code)
	var reg registerResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&reg))
	require.NotNil(t, reg.Reindex)
	assert.True(t, reg.Reindex.Success)
	assert.Equal(t, rag.StatusReady, reg.Source.Status)
	assert.Equal(t, "data:…", reg.Source.Location)
}

func TestAdmin_ReindexFailureIsAuditedWithCode(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	f := newFixture(t, &Config{Logger: slog.New(slog.NewJSONHandler(&logs, nil))})

	w := f.do(t, http.MethodPost, "/api/admin/reindex", "", reindexRequest{SourceID: "missing-id"})
	require.Equal(t, http.StatusOK, w.Code)
	var tr ingestion.TriggerResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&tr))
	assert.False(t, tr.Success)

	var entry map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(logs.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		if m["msg"] == "audit: source change" {
			entry = m
		}
	}
	require.NotNil(t, entry, logs.String())
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "reindex", entry["action"])
	assert.Equal(t, "missing-id", entry["source_id"])
	assert.Equal(t, "not-found", entry["outcome"])
}

func TestAdmin_RegisterWithReindexIsAudited(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	f := newFixture(t, &Config{Logger: slog.New(slog.NewJSONHandler(&logs, nil))})

	w := f.do(t, http.MethodPost, "/api/admin/sources", "", registerRequest{ID: "doc", Location: "data:,hi", Reindex: true})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, logs.String(), `"action":"register"`)
	assert.Contains(t, logs.String(), `"action":"reindex"`)
	assert.NotContains(t, logs.String(), "data:,hi")
}

func TestAdmin_ReindexBlankID(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/admin/reindex", "", reindexRequest{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, rag.CodeInvalidArgument, decodeError(t, w).Code)
}

func TestAdmin_DeleteConflict(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.indexer.removeErr = fmt.Errorf("ingestion: %w", rag.ErrAlreadyIndexing)

	w := f.do(t, http.MethodDelete, "/api/admin/sources/doc", "", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, rag.CodeConflict, decodeError(t, w).Code)
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	want := map[rag.Code]int{
		rag.CodeOK:               200,
		rag.CodeInvalidArgument:  400,
		rag.CodePermissionDenied: 403,
		rag.CodeNotFound:         404,
		rag.CodeAlreadyExists:    409,
		rag.CodeConflict:         409,
		rag.CodeUnavailable:      503,
		rag.CodeDeadline:         504,
		rag.CodeInternal:         500,
	}
	for code, status := range want {
		assert.Equal(t, status, httpStatus(code), code)
	}
}

func TestRequestLogger_RecoversPanicAndKeepsRequestID(t *testing.T) {
	t.Parallel()
	h := requestLogger(slog.New(slog.DiscardHandler), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(requestIDHeader, "req-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))
	var body errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, rag.CodeInternal, body.Code)
	assert.Equal(t, "internal error", body.Message)
}

func TestRequestLogger_ReplacesOversizeRequestID(t *testing.T) {
	t.Parallel()
	h := requestLogger(slog.New(slog.DiscardHandler), okHandler)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("a", maxRequestIDLen+1))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	id := w.Header().Get(requestIDHeader)
	assert.Len(t, id, 36)
}
