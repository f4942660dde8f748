// Package validation implements the document validation stage: structural
// checks on the envelope plus a minimum-content check on the extracted text.
package validation

import (
	"context"
	"time"

	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/internal/pipeline"
	"github.com/openoverheid/docpipe/pkg/logger"
)

// minTextLength is the minimum extracted text length for a document to be
// considered non-empty.
const minTextLength = 10

type Stage struct {
	ledger ledger.Ledger
	log    logger.Logger
	now    func() time.Time
}

func New(led ledger.Ledger, log logger.Logger) *Stage {
	return &Stage{
		ledger: led,
		log:    log.Named(pipeline.StageValidation),
		now:    time.Now,
	}
}

func (s *Stage) Name() string { return pipeline.StageValidation }

func (s *Stage) Process(ctx context.Context, env *envelope.Envelope) (pipeline.Outcome, error) {
	docID := env.DocumentID()
	s.upsert(ctx, docID, ledger.StatusStarted, nil)

	if reason := validate(env); reason != "" {
		s.log.Warn("Document failed validation",
			logger.String("documentId", docID),
			logger.String("reason", reason),
		)
		s.upsert(ctx, docID, ledger.StatusError, map[string]any{"reason": reason})
		return pipeline.Discard(reason), nil
	}

	out := env.Clone()
	out.Validation = &envelope.Validation{
		Timestamp: s.now().UTC().Truncate(time.Second),
		Status:    envelope.ValidationStatusValid,
		Message:   "Document passed validation checks",
	}

	s.log.Info("Document passed validation", logger.String("documentId", docID))
	s.upsert(ctx, docID, ledger.StatusOK, nil)
	return pipeline.Forward(out), nil
}

// validate returns an empty string for a valid envelope, or the reason the
// document was rejected.
func validate(env *envelope.Envelope) string {
	doc := env.Document
	if doc == nil {
		return "Missing 'data' section in message"
	}
	if doc.Source == "" {
		return "Missing document source"
	}
	if len(doc.Payload) == 0 {
		return "Missing payload in document data"
	}
	text, _ := doc.Payload["extracted_text"].(string)
	if text == "" {
		return "Missing extracted text in payload"
	}
	if len(text) < minTextLength {
		return "Document text too short, possibly empty document"
	}
	return ""
}

func (s *Stage) upsert(ctx context.Context, docID, status string, extra map[string]any) {
	if docID == "" || s.ledger == nil {
		return
	}
	if _, err := s.ledger.Upsert(ctx, docID, pipeline.StageValidation, status, extra); err != nil {
		s.log.Error("Failed to update status ledger",
			logger.String("documentId", docID),
			logger.Error(err),
		)
	}
}
