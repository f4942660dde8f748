package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/pkg/logger"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func envWithChunks() *envelope.Envelope {
	return &envelope.Envelope{Document: &envelope.Document{
		Source: "test",
		ID:     "doc-1",
		Name:   "wet.pdf",
		Payload: map[string]any{
			"extracted_text": "inhoud",
			"vector_chunks": []any{
				map[string]any{
					"text":      "chunk one",
					"embedding": []any{0.1, 0.2},
					"metadata":  map[string]any{"chunk_id": float64(0), "total_chunks": float64(2)},
				},
				map[string]any{
					"text":      "chunk two",
					"embedding": []any{0.3, 0.4},
					"metadata":  map[string]any{"chunk_id": float64(1), "total_chunks": float64(2)},
				},
			},
		},
	}}
}

func TestInsertAndDuplicate(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	env := &envelope.Envelope{Document: &envelope.Document{Source: "s", ID: "doc-1", Payload: map[string]any{}}}
	require.NoError(t, store.Insert(ctx, env, nil))

	err := store.Insert(ctx, env, nil)
	require.Error(t, err, "document id is unique")
}

func TestProcessStoresDocumentAndChunks(t *testing.T) {
	store := openStore(t)
	led := ledger.NewMemory()
	s := New(store, led, logger.NewTestLogger())

	outcome, err := s.Process(context.Background(), envWithChunks())
	require.NoError(t, err)
	assert.False(t, outcome.Discarded())

	var docCount, chunkCount int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&docCount))
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE document_id = 'doc-1'`).Scan(&chunkCount))
	assert.Equal(t, 1, docCount)
	assert.Equal(t, 2, chunkCount)

	// The stored envelope no longer carries the bulky vectors.
	var stored string
	require.NoError(t, store.db.QueryRow(`SELECT envelope FROM documents WHERE document_id = 'doc-1'`).Scan(&stored))
	assert.NotContains(t, stored, "vector_chunks")

	rec, err := led.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOK, rec.States["data-storage"].Status)
	assert.Equal(t, 2, rec.States["data-storage"].Extra["chunks_inserted"])
}

func TestProcessDiscardsOnDuplicate(t *testing.T) {
	store := openStore(t)
	led := ledger.NewMemory()
	s := New(store, led, logger.NewTestLogger())

	_, err := s.Process(context.Background(), envWithChunks())
	require.NoError(t, err)

	outcome, err := s.Process(context.Background(), envWithChunks())
	require.NoError(t, err)
	assert.True(t, outcome.Discarded())

	rec, err := led.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusError, rec.States["data-storage"].Status)
}

func TestProcessLeavesInputEnvelopeIntact(t *testing.T) {
	store := openStore(t)
	s := New(store, ledger.NewMemory(), logger.NewTestLogger())

	in := envWithChunks()
	_, err := s.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, in.Document.Payload, "vector_chunks")
}
