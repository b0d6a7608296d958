package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/mnemo/internal/config"
	"github.com/hyperjump/mnemo/internal/models"
)

type fakeIngester struct {
	docs       map[string]*models.Document
	ingestErr  error
	rebuildErr error
	rebuilt    int
}

func (f *fakeIngester) Ingest(_ context.Context, in *models.DocumentInput) (*models.Document, error) {
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	if in.Text == "" {
		return nil, fmt.Errorf("%w: text is required", models.ErrInvalidInput)
	}
	id := in.ID
	if id == "" {
		id = "generated"
	}
	d := &models.Document{ID: id, Text: in.Text, Metadata: in.Metadata, Vector: []float32{1, 2, 3}}
	f.docs[id] = d
	return d, nil
}

func (f *fakeIngester) Remove(_ context.Context, id string) error {
	if _, ok := f.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeIngester) Rebuild(context.Context) error {
	f.rebuilt++
	return f.rebuildErr
}

func (f *fakeIngester) Get(_ context.Context, id string) (*models.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return d, nil
}

func (f *fakeIngester) List(_ context.Context, offset, limit int) ([]*models.Document, error) {
	out := []*models.Document{}
	for _, d := range f.docs {
		out = append(out, d)
	}
	if offset >= len(out) {
		return []*models.Document{}, nil
	}
	return out[offset:min(len(out), offset+limit)], nil
}

type fakeSearcher struct{ err error }

func (f *fakeSearcher) Search(_ context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &models.SearchResponse{
		Query: q.Query,
		Total: 1,
		Results: []*models.SearchResult{{
			DocID:         "a",
			Document:      &models.Document{ID: "a", Text: "alpha", Vector: []float32{1}},
			CombinedScore: 1,
			Rank:          1,
		}},
	}, nil
}

type fakeRouter struct{ err error }

func (f *fakeRouter) Route(_ context.Context, q *models.RouteQuery) (*models.RoutingDecision, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.RoutingDecision{ID: "d1", Query: q.Query, Strategy: models.StrategyPatternMatch, Confidence: 0.8, Payload: "billing"}, nil
}

type fakeFeedback struct{ outcomes map[string]bool }

func (f *fakeFeedback) RecordOutcome(_ context.Context, id string, success bool) error {
	if id != "d1" {
		return fmt.Errorf("decision %s: %w", id, models.ErrNotFound)
	}
	f.outcomes[id] = success
	return nil
}

type fakeStatus struct{}

func (fakeStatus) Status(context.Context) (*models.Status, error) {
	return &models.Status{Documents: 2, VectorNodes: 2, IndexType: "hnsw", Metric: "cosine", Dimensions: 3}, nil
}

type testServer struct {
	handler  http.Handler
	ingester *fakeIngester
	searcher *fakeSearcher
	router   *fakeRouter
	feedback *fakeFeedback
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		ingester: &fakeIngester{docs: map[string]*models.Document{}},
		searcher: &fakeSearcher{},
		router:   &fakeRouter{},
		feedback: &fakeFeedback{outcomes: map[string]bool{}},
	}
	s := New(Deps{
		Ingester:  ts.ingester,
		Documents: ts.ingester,
		Searcher:  ts.searcher,
		Router:    ts.router,
		Feedback:  ts.feedback,
		Status:    fakeStatus{},
	}, config.ServerConfig{}, config.MetricsConfig{Enabled: true, Path: "/metrics"}, nil)
	ts.handler = s.Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(bytes.NewReader(rr.Body.Bytes())).Decode(v))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestDocuments_IngestGetDelete(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/v1/documents", `{"id":"a","text":"alpha","metadata":[{"key":"label","value":"greek"}]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created models.Document
	decodeBody(t, rr, &created)
	assert.Equal(t, "a", created.ID)
	assert.Nil(t, created.Vector, "vectors are not returned over HTTP")
	assert.Equal(t, "greek", created.Metadata.String("label"))
	assert.Len(t, ts.ingester.docs["a"].Vector, 3, "stored document must keep its vector")

	rr = ts.do(t, http.MethodGet, "/api/v1/documents/a", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(t, http.MethodGet, "/api/v1/documents?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Documents []models.Document `json:"documents"`
	}
	decodeBody(t, rr, &list)
	assert.Len(t, list.Documents, 1)

	rr = ts.do(t, http.MethodDelete, "/api/v1/documents/a", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = ts.do(t, http.MethodDelete, "/api/v1/documents/a", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = ts.do(t, http.MethodGet, "/api/v1/documents/a", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDocuments_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed body", http.MethodPost, "/api/v1/documents", `{"text":`, http.StatusBadRequest},
		{"missing text", http.MethodPost, "/api/v1/documents", `{"id":"x"}`, http.StatusBadRequest},
		{"non-numeric limit", http.MethodGet, "/api/v1/documents?limit=ten", "", http.StatusBadRequest},
		{"limit too large", http.MethodGet, "/api/v1/documents?limit=1000", "", http.StatusBadRequest},
		{"negative offset", http.MethodGet, "/api/v1/documents?offset=-1", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestIngest_EmbeddingFailureIsBadGateway(t *testing.T) {
	ts := newTestServer(t)
	ts.ingester.ingestErr = fmt.Errorf("%w: openai: timeout", models.ErrEmbedding)

	rr := ts.do(t, http.MethodPost, "/api/v1/documents", `{"text":"hello"}`)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	var body errorResponse
	decodeBody(t, rr, &body)
	assert.Equal(t, "embedding_failed", body.Code)
	assert.NotContains(t, body.Message, "openai", "provider details stay in the logs")
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/v1/search", `{"query":"alpha"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp models.SearchResponse
	decodeBody(t, rr, &resp)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a", resp.Results[0].DocID)
	assert.Nil(t, resp.Results[0].Document.Vector)

	rr = ts.do(t, http.MethodPost, "/api/v1/search", `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	ts.searcher.err = models.NewDimensionError(3, 4)
	rr = ts.do(t, http.MethodPost, "/api/v1/search", `{"query":"alpha"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRoute(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/v1/route", `{"query":"where is my invoice"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var d models.RoutingDecision
	decodeBody(t, rr, &d)
	assert.Equal(t, models.StrategyPatternMatch, d.Strategy)
	assert.Equal(t, "billing", d.Payload)
}

func TestRoute_AllStrategiesFailed(t *testing.T) {
	ts := newTestServer(t)
	ts.router.err = &models.AllStrategiesFailedError{Stages: []models.StageFailure{
		{Strategy: models.StrategyFastLocal, Reason: "confidence 0.10 below threshold 0.70"},
		{Strategy: models.StrategyPatternMatch, Reason: "confidence 0.00 below threshold 0.50"},
		{Strategy: models.StrategyExternalInference, Reason: "timeout"},
	}}

	rr := ts.do(t, http.MethodPost, "/api/v1/route", `{"query":"??"}`)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	var body errorResponse
	decodeBody(t, rr, &body)
	assert.Equal(t, "all_strategies_failed", body.Code)
	require.Len(t, body.Stages, 3)
	assert.Equal(t, models.StrategyExternalInference, body.Stages[2].Strategy)
}

func TestFeedback(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/v1/feedback", `{"decision_id":"d1","success":false}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]bool{"d1": false}, ts.feedback.outcomes)

	rr = ts.do(t, http.MethodPost, "/api/v1/feedback", `{"decision_id":"d1"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, http.MethodPost, "/api/v1/feedback", `{"decision_id":"zz","success":true}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFeedback_Disabled(t *testing.T) {
	s := New(Deps{Ingester: &fakeIngester{}}, config.ServerConfig{}, config.MetricsConfig{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader(`{"decision_id":"d1","success":true}`))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotImplemented, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code, "metrics endpoint is off unless enabled")
}

func TestRebuildAndInternalErrors(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/v1/index/rebuild", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, ts.ingester.rebuilt)

	ts.ingester.rebuildErr = errors.New("sqlite: disk I/O error at /var/lib/secret.db")
	rr = ts.do(t, http.MethodPost, "/api/v1/index/rebuild", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret")
}

func TestStatusAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var st models.Status
	decodeBody(t, rr, &st)
	assert.Equal(t, int64(2), st.Documents)
	assert.Equal(t, "hnsw", st.IndexType)

	rr = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "mnemo_http_requests_total")
}

func TestPanicIsRecovered(t *testing.T) {
	s := New(Deps{}, config.ServerConfig{}, config.MetricsConfig{}, nil)
	rr := httptest.NewRecorder()
	// a nil Router panics inside the handler
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/route", strings.NewReader(`{"query":"x"}`)))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var body errorResponse
	decodeBody(t, rr, &body)
	assert.Equal(t, "internal_error", body.Code)
}
