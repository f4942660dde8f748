// Package piiscan implements the PII detection stage. Detection is a small
// regex scan for obviously personal tokens; the envelope records at most a
// few deduplicated examples per category.
package piiscan

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/internal/pipeline"
	"github.com/openoverheid/docpipe/pkg/logger"
)

// Engine identifies the detection implementation in scan results.
const Engine = "naive-regex"

// maxExamples caps how many distinct matches are kept per category.
const maxExamples = 5

var patterns = map[string]*regexp.Regexp{
	"email":     regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
	"iban_like": regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`),
}

// Scan runs all patterns against the text. Matches are deduplicated in
// first-seen order and truncated to a handful of examples per category.
func Scan(text string) (bool, map[string][]string) {
	matches := make(map[string][]string)
	for name, pat := range patterns {
		found := pat.FindAllString(text, -1)
		if len(found) == 0 {
			continue
		}
		seen := make(map[string]struct{}, len(found))
		uniq := make([]string, 0, maxExamples)
		for _, m := range found {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			uniq = append(uniq, m)
			if len(uniq) == maxExamples {
				break
			}
		}
		matches[name] = uniq
	}
	return len(matches) > 0, matches
}

type Stage struct {
	ledger ledger.Ledger
	log    logger.Logger
	now    func() time.Time
}

func New(led ledger.Ledger, log logger.Logger) *Stage {
	return &Stage{
		ledger: led,
		log:    log.Named(pipeline.StagePIIScanning),
		now:    time.Now,
	}
}

func (s *Stage) Name() string { return pipeline.StagePIIScanning }

func (s *Stage) Process(ctx context.Context, env *envelope.Envelope) (pipeline.Outcome, error) {
	docID := env.DocumentID()
	s.upsert(ctx, docID, ledger.StatusStarted, nil)

	var text string
	if env.Document != nil {
		text, _ = env.Document.Payload["extracted_text"].(string)
	}
	if strings.TrimSpace(text) == "" {
		s.log.Info("No text to scan", logger.String("documentId", docID))
		s.upsert(ctx, docID, ledger.StatusSkipped, map[string]any{"reason": "no_text"})
		return pipeline.Discard("no text to scan"), nil
	}

	hasPII, matches := Scan(text)
	if hasPII {
		categories := make([]string, 0, len(matches))
		for name := range matches {
			categories = append(categories, name)
		}
		s.log.Info("Personal data detected",
			logger.String("documentId", docID),
			logger.String("engine", Engine),
			logger.Strings("categories", categories),
		)
	} else {
		s.log.Info("No personal data detected",
			logger.String("documentId", docID),
			logger.String("engine", Engine),
		)
	}

	out := env.Clone()
	out.PII = &envelope.PIIScan{
		HasPII:    hasPII,
		Engine:    Engine,
		Matches:   matches,
		Timestamp: s.now().UTC().Truncate(time.Second),
	}

	s.upsert(ctx, docID, ledger.StatusOK, map[string]any{
		"engine":  Engine,
		"has_pii": hasPII,
	})
	return pipeline.Forward(out), nil
}

func (s *Stage) upsert(ctx context.Context, docID, status string, extra map[string]any) {
	if docID == "" || s.ledger == nil {
		return
	}
	if _, err := s.ledger.Upsert(ctx, docID, pipeline.StagePIIScanning, status, extra); err != nil {
		s.log.Error("Failed to update status ledger",
			logger.String("documentId", docID),
			logger.Error(err),
		)
	}
}
