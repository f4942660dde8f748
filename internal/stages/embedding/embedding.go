// Package embedding implements the vectorization stage: the extracted text
// is chunked, each chunk is embedded, and the resulting vectors are attached
// to the payload for the storage stage to persist.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/internal/pipeline"
	"github.com/openoverheid/docpipe/pkg/logger"
)

// PayloadChunksKey is where the embedded chunks land on the payload.
const PayloadChunksKey = "vector_chunks"

// Embedder vectorizes a batch of texts, one vector per input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

type Config struct {
	ChunkSize    int `yaml:"chunkSize"`
	ChunkOverlap int `yaml:"chunkOverlap"`
}

type Stage struct {
	embedder Embedder
	splitter *Splitter
	ledger   ledger.Ledger
	log      logger.Logger
}

func New(embedder Embedder, cfg Config, led ledger.Ledger, log logger.Logger) *Stage {
	return &Stage{
		embedder: embedder,
		splitter: NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		ledger:   led,
		log:      log.Named(pipeline.StageEmbedding),
	}
}

func (s *Stage) Name() string { return pipeline.StageEmbedding }

func (s *Stage) Process(ctx context.Context, env *envelope.Envelope) (pipeline.Outcome, error) {
	docID := env.DocumentID()
	s.upsert(ctx, docID, ledger.StatusStarted, nil)

	var text string
	if env.Document != nil {
		text, _ = env.Document.Payload["extracted_text"].(string)
	}
	if strings.TrimSpace(text) == "" {
		s.log.Warn("No text content found in document payload",
			logger.String("documentId", docID),
		)
		s.upsert(ctx, docID, ledger.StatusSkipped, map[string]any{"reason": "no_text"})
		return pipeline.Discard("no text content to embed"), nil
	}

	texts := s.splitter.Split(text)
	if len(texts) == 0 {
		s.upsert(ctx, docID, ledger.StatusSkipped, map[string]any{"reason": "too_small"})
		return pipeline.Discard("document too small for chunking"), nil
	}
	s.log.Info("Document split into chunks",
		logger.String("documentId", docID),
		logger.Int("chunks", len(texts)),
	)

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		s.log.Error("Failed to generate embeddings",
			logger.String("documentId", docID),
			logger.Error(err),
		)
		s.upsert(ctx, docID, ledger.StatusError, map[string]any{"reason": err.Error()})
		return pipeline.Discard("failed to generate embeddings"), nil
	}
	if len(vectors) != len(texts) {
		s.log.Error("Embedder returned mismatched vector count",
			logger.String("documentId", docID),
			logger.Int("vectors", len(vectors)),
			logger.Int("chunks", len(texts)),
		)
		s.upsert(ctx, docID, ledger.StatusError, map[string]any{"reason": "vector_count_mismatch"})
		return pipeline.Discard(fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))), nil
	}

	out := env.Clone()
	if out.Document.Payload == nil {
		out.Document.Payload = map[string]any{}
	}
	out.Document.Payload[PayloadChunksKey] = buildChunks(out, texts, vectors)

	s.upsert(ctx, docID, ledger.StatusOK, map[string]any{"chunks": len(texts)})
	return pipeline.Forward(out), nil
}

// buildChunks assembles the payload representation of the embedded chunks.
// Each entry carries the chunk text, its vector and enough metadata to be
// stored or searched without rejoining the envelope.
func buildChunks(env *envelope.Envelope, texts []string, vectors [][]float64) []any {
	docMeta := map[string]any{}
	if env.Document != nil {
		docMeta["document_id"] = env.Document.ID
		docMeta["source"] = env.Document.Source
		docMeta["name"] = env.Document.Name
		docMeta["extension"] = env.Document.Extension
		docMeta["url"] = env.Document.URL
	}
	if env.Metadata != nil {
		docMeta["official_title"] = env.Metadata.OfficialTitle
		docMeta["document_type"] = env.Metadata.DocumentType
		docMeta["issuing_authority"] = env.Metadata.IssuingAuthority
		docMeta["keywords"] = env.Metadata.Keywords
	}

	chunks := make([]any, 0, len(texts))
	for i, text := range texts {
		meta := map[string]any{
			"chunk_id":       i,
			"total_chunks":   len(texts),
			"chunk_size":     len(text),
			"first_50_chars": firstChars(text, 50),
		}
		for k, v := range docMeta {
			meta[k] = v
		}
		chunks = append(chunks, map[string]any{
			"text":      text,
			"embedding": vectors[i],
			"metadata":  meta,
		})
	}
	return chunks
}

func firstChars(text string, n int) string {
	if len(text) > n {
		text = text[:n]
	}
	return strings.ReplaceAll(text, "\n", " ")
}

func (s *Stage) upsert(ctx context.Context, docID, status string, extra map[string]any) {
	if docID == "" || s.ledger == nil {
		return
	}
	if _, err := s.ledger.Upsert(ctx, docID, pipeline.StageEmbedding, status, extra); err != nil {
		s.log.Error("Failed to update status ledger",
			logger.String("documentId", docID),
			logger.Error(err),
		)
	}
}
