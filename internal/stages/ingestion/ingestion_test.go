package ingestion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/pkg/logger"
)

type fakeFetcher struct {
	content []byte
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	return f.content, f.err
}

func pdfEnv(ext string) *envelope.Envelope {
	return &envelope.Envelope{Document: &envelope.Document{
		Source:    "url",
		ID:        "doc-1",
		Name:      "wet." + ext,
		URL:       "https://example.org/wet." + ext,
		Extension: ext,
		Payload:   map[string]any{},
	}}
}

func TestDiscardsNonPDF(t *testing.T) {
	led := ledger.NewMemory()
	s := New(&fakeFetcher{}, led, logger.NewTestLogger())

	outcome, err := s.Process(context.Background(), pdfEnv("docx"))
	require.NoError(t, err)
	assert.True(t, outcome.Discarded())

	rec, err := led.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSkipped, rec.States["ingestion"].Status)
}

func TestDiscardsMissingURL(t *testing.T) {
	led := ledger.NewMemory()
	s := New(&fakeFetcher{}, led, logger.NewTestLogger())

	env := pdfEnv("pdf")
	env.Document.URL = ""
	outcome, err := s.Process(context.Background(), env)
	require.NoError(t, err)
	assert.True(t, outcome.Discarded())

	rec, err := led.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusError, rec.States["ingestion"].Status)
}

func TestDiscardsOnFetchFailure(t *testing.T) {
	led := ledger.NewMemory()
	s := New(&fakeFetcher{err: errors.New("connection refused")}, led, logger.NewTestLogger())

	outcome, err := s.Process(context.Background(), pdfEnv("pdf"))
	require.NoError(t, err)
	assert.True(t, outcome.Discarded())

	rec, err := led.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusError, rec.States["ingestion"].Status)
	assert.Equal(t, "fetch_failed", rec.States["ingestion"].Extra["reason"])
}

func TestDiscardsOnCorruptPDF(t *testing.T) {
	led := ledger.NewMemory()
	s := New(&fakeFetcher{content: []byte("this is not a pdf")}, led, logger.NewTestLogger())

	outcome, err := s.Process(context.Background(), pdfEnv("pdf"))
	require.NoError(t, err)
	assert.True(t, outcome.Discarded())

	rec, err := led.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "extraction_failed", rec.States["ingestion"].Extra["reason"])
}

func TestFetcherReadsLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("local content"), 0o644))

	f := NewDocumentFetcher(nil)
	content, err := f.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []byte("local content"), content)
}

func TestFetcherDownloadsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote content"))
	}))
	defer srv.Close()

	f := NewDocumentFetcher(nil)
	content, err := f.Fetch(context.Background(), srv.URL+"/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("remote content"), content)
}

func TestFetcherRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewDocumentFetcher(nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.pdf")
	require.Error(t, err)
}

func TestFetcherRejectsUnresolvableRef(t *testing.T) {
	f := NewDocumentFetcher(nil)
	_, err := f.Fetch(context.Background(), "no/such/key")
	require.Error(t, err)
}
