package validation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/pkg/logger"
)

func envWithText(text string) *envelope.Envelope {
	return &envelope.Envelope{
		Document: &envelope.Document{
			Source:  "test",
			ID:      "doc-1",
			Payload: map[string]any{"extracted_text": text},
		},
	}
}

func TestValidDocumentForwards(t *testing.T) {
	led := ledger.NewMemory()
	s := New(led, logger.NewTestLogger())

	outcome, err := s.Process(context.Background(), envWithText("ten chars!"))
	require.NoError(t, err)
	require.False(t, outcome.Discarded())

	out := outcome.Envelope()
	require.NotNil(t, out.Validation)
	assert.Equal(t, envelope.ValidationStatusValid, out.Validation.Status)
	assert.Equal(t, "Document passed validation checks", out.Validation.Message)
	assert.False(t, out.Validation.Timestamp.IsZero())

	rec, err := led.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOK, rec.States["validation"].Status)
}

func TestRejections(t *testing.T) {
	tests := []struct {
		name   string
		env    *envelope.Envelope
		reason string
	}{
		{
			name:   "missing document",
			env:    &envelope.Envelope{},
			reason: "Missing 'data' section in message",
		},
		{
			name: "missing source",
			env: &envelope.Envelope{
				Document: &envelope.Document{ID: "doc-1", Payload: map[string]any{"extracted_text": "long enough"}},
			},
			reason: "Missing document source",
		},
		{
			name: "missing payload",
			env: &envelope.Envelope{
				Document: &envelope.Document{Source: "s", ID: "doc-1"},
			},
			reason: "Missing payload in document data",
		},
		{
			name:   "missing extracted text",
			env:    &envelope.Envelope{Document: &envelope.Document{Source: "s", ID: "doc-1", Payload: map[string]any{"other": 1}}},
			reason: "Missing extracted text in payload",
		},
		{
			name:   "nine chars is too short",
			env:    envWithText(strings.Repeat("x", 9)),
			reason: "Document text too short, possibly empty document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			led := ledger.NewMemory()
			s := New(led, logger.NewTestLogger())

			outcome, err := s.Process(context.Background(), tt.env)
			require.NoError(t, err)
			require.True(t, outcome.Discarded())
			assert.Equal(t, tt.reason, outcome.Reason())
		})
	}
}

func TestTenCharsPasses(t *testing.T) {
	s := New(nil, logger.NewTestLogger())
	outcome, err := s.Process(context.Background(), envWithText(strings.Repeat("x", 10)))
	require.NoError(t, err)
	assert.False(t, outcome.Discarded())
}

func TestInputEnvelopeUntouched(t *testing.T) {
	s := New(nil, logger.NewTestLogger())
	in := envWithText("plenty of text here")

	outcome, err := s.Process(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, outcome.Envelope().Validation)
	assert.Nil(t, in.Validation)
}
