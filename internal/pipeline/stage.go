// Package pipeline contains the broker-agnostic core: the stage contract,
// the fan-out forwarder and the receive/process/settle consumption loop.
package pipeline

import (
	"context"

	"github.com/openoverheid/docpipe/internal/envelope"
)

// Canonical stage names, also used as ledger keys and (by convention) queue
// names.
const (
	StageIngestion    = "ingestion"
	StageValidation   = "validation"
	StagePIIScanning  = "pii-scanning"
	StageExtractor    = "extractor"
	StageEmbedding    = "embedding"
	StageDataStorage  = "data-storage"
	StageSearchIndex  = "search-index"
	StageNotification = "notification"
)

// Outcome is the result of one stage invocation: either an envelope to
// forward downstream, or a discard with a reason. Discard is an intentional
// terminal state for the message, not an error.
type Outcome struct {
	envelope *envelope.Envelope
	reason   string
	discard  bool
}

// Forward wraps a processed envelope for delivery to the downstream
// destinations.
func Forward(env *envelope.Envelope) Outcome {
	return Outcome{envelope: env}
}

// Discard signals that the message is consumed and intentionally not
// forwarded.
func Discard(reason string) Outcome {
	return Outcome{discard: true, reason: reason}
}

// Discarded reports whether the stage chose not to forward.
func (o Outcome) Discarded() bool { return o.discard }

// Reason returns the discard reason.
func (o Outcome) Reason() string { return o.reason }

// Envelope returns the envelope to forward, nil for discards.
func (o Outcome) Envelope() *envelope.Envelope { return o.envelope }

// Stage is the polymorphic unit of work a pipeline service implements.
// Predictable business failures come back as a Discard outcome; a non-nil
// error means an unexpected fault and makes the message redelivery-eligible.
type Stage interface {
	Name() string
	Process(ctx context.Context, env *envelope.Envelope) (Outcome, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, env *envelope.Envelope) (Outcome, error)
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Process(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
	return s.Fn(ctx, env)
}
