package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openoverheid/docpipe/api/handlers"
	"github.com/openoverheid/docpipe/api/routes"
	"github.com/openoverheid/docpipe/internal/broker/memq"
	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/internal/stages/searchindex"
	"github.com/openoverheid/docpipe/pkg/logger"
)

type fakeStore struct {
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Store(_ context.Context, r io.Reader, key string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.objects[key] = data
	return key, nil
}

func (s *fakeStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.objects[key])), nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) CleanupBefore(context.Context, time.Time) error { return nil }

type fakeSearcher struct {
	result *searchindex.SearchResult
	err    error
	query  string
	rows   int
}

func (s *fakeSearcher) Search(_ context.Context, query string, rows int) (*searchindex.SearchResult, error) {
	s.query = query
	s.rows = rows
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *memq.Broker, *fakeStore, *ledger.MemoryLedger) {
	r, b, store, led, _ := setupRouterWithSearch(t, &fakeSearcher{result: &searchindex.SearchResult{}})
	return r, b, store, led
}

func setupRouterWithSearch(t *testing.T, searcher *fakeSearcher) (*gin.Engine, *memq.Broker, *fakeStore, *ledger.MemoryLedger, *fakeSearcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b := memq.New()
	store := newFakeStore()
	led := ledger.NewMemory()

	h := handlers.NewHandlers(b.Publisher("ingestion"), store, led, searcher, logger.NewTestLogger())
	r := gin.New()
	routes.SetupRoutes(r, h)
	return r, b, store, led, searcher
}

func TestIngestByURL(t *testing.T) {
	r, b, _, _ := setupRouter(t)

	body := `{"url": "https://docs.example.org/report.pdf", "source": "crawler"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp handlers.IngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.DocumentID)
	assert.Equal(t, "report.pdf", resp.Name)
	assert.True(t, resp.Queued)

	require.Equal(t, 1, b.Pending("ingestion"))
	consumer := b.Consumer("ingestion")
	deliveries, err := consumer.Receive(context.Background(), 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	env, err := envelope.Decode(deliveries[0].Message().Body)
	require.NoError(t, err)
	require.NotNil(t, env.Document)
	assert.Equal(t, "crawler", env.Document.Source)
	assert.Equal(t, "https://docs.example.org/report.pdf", env.Document.URL)
	assert.Equal(t, "pdf", env.Document.Extension)
}

func TestIngestByURLMissingURL(t *testing.T) {
	r, b, _, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", bytes.NewBufferString(`{"name": "x.pdf"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, b.Pending("ingestion"))
}

func TestIngestUpload(t *testing.T) {
	r, b, store, _ := setupRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "besluit.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("source", "loket"))
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, store.objects, 1)

	deliveries, err := b.Consumer("ingestion").Receive(context.Background(), 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	env, err := envelope.Decode(deliveries[0].Message().Body)
	require.NoError(t, err)
	assert.Equal(t, "loket", env.Document.Source)
	assert.Equal(t, "besluit.pdf", env.Document.Name)
	// the URL references the stored object key
	_, stored := store.objects[env.Document.URL]
	assert.True(t, stored)
}

func TestGetStatus(t *testing.T) {
	r, _, _, led := setupRouter(t)

	_, err := led.Upsert(context.Background(), "doc-1", "validation", ledger.StatusOK, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status/doc-1", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var rec ledger.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "doc-1", rec.ID)
	require.Contains(t, rec.States, "validation")
	assert.Equal(t, ledger.StatusOK, rec.States["validation"].Status)
}

func TestGetStatusNotFound(t *testing.T) {
	r, _, _, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status/missing", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListStatus(t *testing.T) {
	r, _, _, led := setupRouter(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := led.Upsert(context.Background(), id, "ingestion", ledger.StatusStarted, nil)
		require.NoError(t, err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status?limit=2", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Count   int              `json:"count"`
		Records []*ledger.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Records, 2)
}

func TestSearch(t *testing.T) {
	searcher := &fakeSearcher{result: &searchindex.SearchResult{
		NumFound: 1,
		Docs:     []map[string]any{{"id": "doc-1", "official_title_s": "Besluit X"}},
	}}
	r, _, _, _, _ := setupRouterWithSearch(t, searcher)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/search?q=besluit&rows=5", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "besluit", searcher.query)
	assert.Equal(t, 5, searcher.rows)

	var resp handlers.SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "besluit", resp.Query)
	assert.Equal(t, 1, resp.NumFound)
	require.Len(t, resp.Documents, 1)
	assert.Equal(t, "doc-1", resp.Documents[0]["id"])
}

func TestSearchRequiresQuery(t *testing.T) {
	r, _, _, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchEngineUnavailable(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("connection refused")}
	r, _, _, _, _ := setupRouterWithSearch(t, searcher)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/search?q=besluit", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHealthz(t *testing.T) {
	r, _, _, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
