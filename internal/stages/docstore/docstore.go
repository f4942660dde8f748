// Package docstore implements the persistence stage: the full envelope goes
// into the documents table and the embedded chunks, popped off the payload,
// into the chunks table.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/internal/pipeline"
	"github.com/openoverheid/docpipe/pkg/logger"
)

type Config struct {
	Path string `yaml:"path"`
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	document_id TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	name        TEXT,
	envelope    TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id  TEXT NOT NULL,
	chunk_id     INTEGER,
	total_chunks INTEGER,
	text         TEXT NOT NULL,
	embedding    TEXT NOT NULL,
	metadata     TEXT
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
`

// Store wraps the sqlite database holding processed documents.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize document store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Insert writes the document row and its chunks in one transaction. A
// duplicate document id fails the whole insert.
func (s *Store) Insert(ctx context.Context, env *envelope.Envelope, chunks []Chunk) error {
	body, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	docID := env.DocumentID()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (document_id, source, name, envelope, created_at) VALUES (?, ?, ?, ?, ?)`,
		docID, env.Document.Source, env.Document.Name, string(body), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document %q: %w", docID, err)
	}

	for _, c := range chunks {
		embJSON, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		metaJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (document_id, chunk_id, total_chunks, text, embedding, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
			docID, c.ID, c.Total, c.Text, string(embJSON), string(metaJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// Chunk is one embedded text chunk bound for the chunks table.
type Chunk struct {
	ID        int
	Total     int
	Text      string
	Embedding []float64
	Metadata  map[string]any
}

type Stage struct {
	store  *Store
	ledger ledger.Ledger
	log    logger.Logger
}

func New(store *Store, led ledger.Ledger, log logger.Logger) *Stage {
	return &Stage{
		store:  store,
		ledger: led,
		log:    log.Named(pipeline.StageDataStorage),
	}
}

func (s *Stage) Name() string { return pipeline.StageDataStorage }

func (s *Stage) Process(ctx context.Context, env *envelope.Envelope) (pipeline.Outcome, error) {
	docID := env.DocumentID()
	s.upsert(ctx, docID, ledger.StatusStarted, nil)

	// Chunks are stored separately; the document row keeps a payload
	// without the bulky vectors.
	stored := env.Clone()
	chunks := popChunks(stored)

	if err := s.store.Insert(ctx, stored, chunks); err != nil {
		s.log.Error("Failed to persist document",
			logger.String("documentId", docID),
			logger.Error(err),
		)
		s.upsert(ctx, docID, ledger.StatusError, map[string]any{"reason": err.Error()})
		return pipeline.Discard(fmt.Sprintf("storage failed: %v", err)), nil
	}

	s.log.Info("Stored document",
		logger.String("documentId", docID),
		logger.Int("chunks", len(chunks)),
	)
	s.upsert(ctx, docID, ledger.StatusOK, map[string]any{"chunks_inserted": len(chunks)})
	return pipeline.Forward(stored), nil
}

// popChunks removes vector_chunks from the payload and converts the entries
// to typed chunks. Malformed entries are dropped.
func popChunks(env *envelope.Envelope) []Chunk {
	if env.Document == nil || env.Document.Payload == nil {
		return nil
	}
	raw, ok := env.Document.Payload["vector_chunks"]
	if !ok {
		return nil
	}
	delete(env.Document.Payload, "vector_chunks")

	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	chunks := make([]Chunk, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := Chunk{
			Text:     stringAt(m, "text"),
			Metadata: mapAt(m, "metadata"),
		}
		c.ID = intAt(c.Metadata, "chunk_id")
		c.Total = intAt(c.Metadata, "total_chunks")
		c.Embedding = floatsAt(m, "embedding")
		chunks = append(chunks, c)
	}
	return chunks
}

func stringAt(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func mapAt(m map[string]any, key string) map[string]any {
	mm, _ := m[key].(map[string]any)
	return mm
}

func intAt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatsAt(m map[string]any, key string) []float64 {
	switch v := m[key].(type) {
	case []float64:
		return v
	case []any:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			if f, ok := item.(float64); ok {
				out = append(out, f)
			}
		}
		return out
	default:
		return nil
	}
}

func (s *Stage) upsert(ctx context.Context, docID, status string, extra map[string]any) {
	if docID == "" || s.ledger == nil {
		return
	}
	if _, err := s.ledger.Upsert(ctx, docID, pipeline.StageDataStorage, status, extra); err != nil {
		s.log.Error("Failed to update status ledger",
			logger.String("documentId", docID),
			logger.Error(err),
		)
	}
}
