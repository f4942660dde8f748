// Package ingestion implements the first pipeline stage: fetch the referenced
// document, extract its text and store it on the payload for downstream
// stages.
package ingestion

import (
	"context"
	"fmt"
	"strings"

	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/internal/pipeline"
	"github.com/openoverheid/docpipe/pkg/logger"
)

// PayloadTextKey is where the extracted text lands on the document payload.
const PayloadTextKey = "extracted_text"

type Stage struct {
	fetcher Fetcher
	ledger  ledger.Ledger
	log     logger.Logger
}

func New(fetcher Fetcher, led ledger.Ledger, log logger.Logger) *Stage {
	return &Stage{
		fetcher: fetcher,
		ledger:  led,
		log:     log.Named(pipeline.StageIngestion),
	}
}

func (s *Stage) Name() string { return pipeline.StageIngestion }

func (s *Stage) Process(ctx context.Context, env *envelope.Envelope) (pipeline.Outcome, error) {
	if env.Document == nil {
		return pipeline.Discard("missing document section"), nil
	}
	doc := env.Document
	docID := env.DocumentID()

	s.upsert(ctx, docID, ledger.StatusStarted, nil)

	if ext := strings.ToLower(doc.Extension); ext != "pdf" {
		s.log.Warn("Ignoring non-PDF file",
			logger.String("name", doc.Name),
			logger.String("extension", doc.Extension),
		)
		s.upsert(ctx, docID, ledger.StatusSkipped, map[string]any{"reason": "unsupported_extension"})
		return pipeline.Discard(fmt.Sprintf("unsupported extension %q", doc.Extension)), nil
	}

	if doc.URL == "" {
		s.upsert(ctx, docID, ledger.StatusError, map[string]any{"reason": "missing_url"})
		return pipeline.Discard("no document URL provided"), nil
	}

	content, err := s.fetcher.Fetch(ctx, doc.URL)
	if err != nil {
		s.log.Error("Failed to fetch document",
			logger.String("url", doc.URL),
			logger.Error(err),
		)
		s.upsert(ctx, docID, ledger.StatusError, map[string]any{"reason": "fetch_failed"})
		return pipeline.Discard(fmt.Sprintf("failed to fetch document %q", doc.URL)), nil
	}

	text, err := extractPDFText(ctx, content)
	if err != nil {
		s.log.Error("Failed to extract text",
			logger.String("name", doc.Name),
			logger.Error(err),
		)
		s.upsert(ctx, docID, ledger.StatusError, map[string]any{"reason": "extraction_failed"})
		return pipeline.Discard(fmt.Sprintf("failed to extract text from %q", doc.Name)), nil
	}

	if strings.TrimSpace(text) == "" {
		s.log.Warn("Document produced no text", logger.String("name", doc.Name))
		s.upsert(ctx, docID, ledger.StatusError, map[string]any{"reason": "empty_text"})
		return pipeline.Discard("document produced no extractable text"), nil
	}

	s.log.Info("Extracted text from document",
		logger.String("name", doc.Name),
		logger.Int("chars", len(text)),
	)

	out := env.Clone()
	if out.Document.Payload == nil {
		out.Document.Payload = map[string]any{}
	}
	out.Document.Payload[PayloadTextKey] = text

	s.upsert(ctx, docID, ledger.StatusOK, map[string]any{"chars": len(text)})
	return pipeline.Forward(out), nil
}

func (s *Stage) upsert(ctx context.Context, docID, status string, extra map[string]any) {
	if docID == "" || s.ledger == nil {
		return
	}
	if _, err := s.ledger.Upsert(ctx, docID, pipeline.StageIngestion, status, extra); err != nil {
		s.log.Error("Failed to update status ledger",
			logger.String("documentId", docID),
			logger.Error(err),
		)
	}
}
