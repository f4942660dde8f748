// Package extractor implements the metadata extraction stage: the extracted
// text is sent to a local LLM which returns a structured JSON object, parsed
// tolerantly into the envelope's metadata section.
package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/internal/pipeline"
	"github.com/openoverheid/docpipe/pkg/logger"
)

const systemPrompt = "You are an expert in Dutch law and government documents. Extract metadata from a provided document text. " +
	"Return ONLY valid JSON with these exact fields and types (no markdown, no commentary):\n" +
	"{\n" +
	"  \"official_title\": string,\n" +
	"  \"document_type\": string,\n" +
	"  \"identifiers\": object,\n" +
	"  \"summary\": string | null,\n" +
	"  \"keywords\": string[],\n" +
	"  \"issuing_authority\": string,\n" +
	"  \"official_publication\": string,\n" +
	"  \"publication_number\": string | null,\n" +
	"  \"publication_date\": string | null,  // ISO-8601 date like 2024-05-20\n" +
	"  \"effective_date\": string | null,     // ISO-8601 date\n" +
	"  \"repeal_date\": string | null,        // ISO-8601 date\n" +
	"  \"geographic_scope\": string[],\n" +
	"  \"sector_scope\": string[],\n" +
	"  \"target_audience\": string[],\n" +
	"  \"has_sanction_regime\": boolean,\n" +
	"  \"amends\": string[],\n" +
	"  \"repeals\": string[],\n" +
	"  \"implements\": string[],\n" +
	"  \"related_case_law\": string[],\n" +
	"  \"legal_basis\": string[]\n" +
	"}\n" +
	"If information is missing, use null for strings or empty arrays for lists."

// Generator is the LLM seam: one prompt in, raw model text out.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type Stage struct {
	gen    Generator
	ledger ledger.Ledger
	log    logger.Logger
	now    func() time.Time
}

func New(gen Generator, led ledger.Ledger, log logger.Logger) *Stage {
	return &Stage{
		gen:    gen,
		ledger: led,
		log:    log.Named(pipeline.StageExtractor),
		now:    time.Now,
	}
}

func (s *Stage) Name() string { return pipeline.StageExtractor }

func (s *Stage) Process(ctx context.Context, env *envelope.Envelope) (pipeline.Outcome, error) {
	docID := env.DocumentID()
	s.upsert(ctx, docID, ledger.StatusStarted, nil)

	var text string
	if env.Document != nil {
		text, _ = env.Document.Payload["extracted_text"].(string)
	}
	if strings.TrimSpace(text) == "" {
		s.log.Warn("No extracted text in payload, skipping model call",
			logger.String("documentId", docID),
		)
		s.upsert(ctx, docID, ledger.StatusSkipped, map[string]any{"reason": "no_text"})
		return pipeline.Discard("no text to extract metadata from"), nil
	}

	s.upsert(ctx, docID, "generating", nil)

	prompt := fmt.Sprintf("Extract metadata from the following document text. Output only JSON.\n\nTEXT:\n%s", strings.TrimSpace(text))
	raw, err := s.gen.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		s.log.Error("Metadata generation failed",
			logger.String("documentId", docID),
			logger.Error(err),
		)
		s.upsert(ctx, docID, ledger.StatusError, map[string]any{"reason": err.Error()})
		return pipeline.Discard("metadata generation failed"), nil
	}

	obj, err := parseModelJSON(raw)
	if err != nil {
		s.log.Error("Failed to parse model output",
			logger.String("documentId", docID),
			logger.Error(err),
		)
		s.upsert(ctx, docID, ledger.StatusError, map[string]any{"reason": "unparseable_model_output"})
		return pipeline.Discard("unparseable model output"), nil
	}

	meta := toMetadata(obj, s.now().UTC().Truncate(time.Second))

	s.log.Info("Extracted document metadata",
		logger.String("documentId", docID),
		logger.String("title", meta.OfficialTitle),
		logger.String("documentType", meta.DocumentType),
	)

	out := env.Clone()
	out.Metadata = meta

	s.upsert(ctx, docID, ledger.StatusOK, nil)
	return pipeline.Forward(out), nil
}

func (s *Stage) upsert(ctx context.Context, docID, status string, extra map[string]any) {
	if docID == "" || s.ledger == nil {
		return
	}
	if _, err := s.ledger.Upsert(ctx, docID, pipeline.StageExtractor, status, extra); err != nil {
		s.log.Error("Failed to update status ledger",
			logger.String("documentId", docID),
			logger.Error(err),
		)
	}
}
