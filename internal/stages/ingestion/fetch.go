package ingestion

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openoverheid/docpipe/pkg/storage"
)

// Fetcher resolves a document reference to its raw bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// DocumentFetcher resolves, in order: a local filesystem path (shared
// volume), an http(s) URL, and finally an object-store key. Government
// portals frequently present broken certificate chains, so URL fetches
// skip TLS verification.
type DocumentFetcher struct {
	store      storage.Storage
	httpClient *http.Client
}

func NewDocumentFetcher(store storage.Storage) *DocumentFetcher {
	return &DocumentFetcher{
		store: store,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

func (f *DocumentFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty document reference")
	}

	if _, err := os.Stat(ref); err == nil {
		return os.ReadFile(ref)
	}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return f.fetchURL(ctx, ref)
	}

	if f.store != nil {
		rc, err := f.store.Get(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch object %q: %w", ref, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	return nil, fmt.Errorf("unresolvable document reference: %q", ref)
}

func (f *DocumentFetcher) fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d downloading %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}
