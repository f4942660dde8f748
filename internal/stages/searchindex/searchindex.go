// Package searchindex implements the search indexing stage: the envelope is
// flattened into a Solr document using dynamic field suffixes and posted to
// the collection's JSON update endpoint.
package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/internal/pipeline"
	"github.com/openoverheid/docpipe/pkg/logger"
)

type Config struct {
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
}

// Client posts documents to a Solr collection.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Index posts one document and commits immediately.
func (c *Client) Index(ctx context.Context, doc map[string]any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal search document: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/update/json/docs?commit=true&wt=json", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach search engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("indexing failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// SearchResult is Solr's response section for a select query.
type SearchResult struct {
	NumFound int              `json:"numFound"`
	Docs     []map[string]any `json:"docs"`
}

// Search runs a select query against the collection.
func (c *Client) Search(ctx context.Context, query string, rows int) (*SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("rows", fmt.Sprintf("%d", rows))
	params.Set("wt", "json")

	endpoint := fmt.Sprintf("%s/%s/select?%s", c.baseURL, c.collection, params.Encode())
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach search engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var body struct {
		Response SearchResult `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &body.Response, nil
}

// BuildDocument flattens the envelope for indexing. Field names follow the
// schemaless dynamic suffix convention: _s string, _t text, _ss strings,
// _dt date, _b bool.
func BuildDocument(env *envelope.Envelope) map[string]any {
	doc := map[string]any{}

	if env.Document != nil {
		d := env.Document
		doc["id"] = env.DocumentID()
		doc["source_s"] = d.Source
		doc["name_s"] = d.Name
		doc["extension_s"] = d.Extension
		doc["url_s"] = d.URL
		if text, ok := d.Payload["extracted_text"].(string); ok {
			doc["content_t"] = text
		}
	}

	if env.Validation != nil {
		doc["validation_status_s"] = env.Validation.Status
		doc["validation_timestamp_dt"] = env.Validation.Timestamp.UTC().Format(time.RFC3339)
	}

	if env.PII != nil {
		doc["has_pii_b"] = env.PII.HasPII
		doc["pii_engine_s"] = env.PII.Engine
		doc["pii_timestamp_dt"] = env.PII.Timestamp.UTC().Format(time.RFC3339)
	}

	if env.Metadata != nil {
		m := env.Metadata
		doc["official_title_s"] = m.OfficialTitle
		doc["document_type_s"] = m.DocumentType
		doc["issuing_authority_s"] = m.IssuingAuthority
		doc["official_publication_s"] = m.OfficialPublication
		doc["publication_number_s"] = m.PublicationNumber
		doc["summary_t"] = m.Summary
		doc["keywords_ss"] = m.Keywords
		doc["geographic_scope_ss"] = m.GeographicScope
		doc["sector_scope_ss"] = m.SectorScope
		doc["target_audience_ss"] = m.TargetAudience
		doc["has_sanction_regime_b"] = m.HasSanctionRegime
		if m.PublicationDate != nil {
			doc["publication_date_dt"] = m.PublicationDate.UTC().Format(time.RFC3339)
		}
		if m.EffectiveDate != nil {
			doc["effective_date_dt"] = m.EffectiveDate.UTC().Format(time.RFC3339)
		}
		if m.RepealDate != nil {
			doc["repeal_date_dt"] = m.RepealDate.UTC().Format(time.RFC3339)
		}
		if metaJSON, err := json.Marshal(m); err == nil {
			doc["metadata_json"] = string(metaJSON)
		}
	}

	return doc
}

// Indexer is the Solr seam used by the stage.
type Indexer interface {
	Index(ctx context.Context, doc map[string]any) error
}

type Stage struct {
	indexer Indexer
	ledger  ledger.Ledger
	log     logger.Logger
}

func New(indexer Indexer, led ledger.Ledger, log logger.Logger) *Stage {
	return &Stage{
		indexer: indexer,
		ledger:  led,
		log:     log.Named(pipeline.StageSearchIndex),
	}
}

func (s *Stage) Name() string { return pipeline.StageSearchIndex }

func (s *Stage) Process(ctx context.Context, env *envelope.Envelope) (pipeline.Outcome, error) {
	docID := env.DocumentID()
	s.upsert(ctx, docID, ledger.StatusStarted, nil)

	if env.Document == nil {
		s.upsert(ctx, docID, ledger.StatusError, map[string]any{"reason": "missing_document"})
		return pipeline.Discard("missing document section"), nil
	}

	doc := BuildDocument(env)
	if err := s.indexer.Index(ctx, doc); err != nil {
		s.log.Error("Failed to index document",
			logger.String("documentId", docID),
			logger.Error(err),
		)
		s.upsert(ctx, docID, ledger.StatusError, map[string]any{"reason": err.Error()})
		return pipeline.Discard(fmt.Sprintf("indexing failed: %v", err)), nil
	}

	s.log.Info("Document indexed", logger.String("documentId", docID))
	s.upsert(ctx, docID, ledger.StatusOK, nil)
	return pipeline.Forward(env), nil
}

func (s *Stage) upsert(ctx context.Context, docID, status string, extra map[string]any) {
	if docID == "" || s.ledger == nil {
		return
	}
	if _, err := s.ledger.Upsert(ctx, docID, pipeline.StageSearchIndex, status, extra); err != nil {
		s.log.Error("Failed to update status ledger",
			logger.String("documentId", docID),
			logger.Error(err),
		)
	}
}
