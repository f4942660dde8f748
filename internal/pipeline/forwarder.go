package pipeline

import (
	"context"

	"github.com/openoverheid/docpipe/internal/broker"
	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/pkg/logger"
)

// Forwarder publishes a processed envelope to every configured downstream
// destination. Fan-out is atomic in intent only: each publish is
// independent, failures are reported per destination, and the ledger entry
// is written after all attempts.
type Forwarder struct {
	subject    string
	publishers []broker.Publisher
	ledger     ledger.Ledger
	log        logger.Logger
}

func NewForwarder(subject string, led ledger.Ledger, log logger.Logger, publishers ...broker.Publisher) *Forwarder {
	return &Forwarder{
		subject:    subject,
		publishers: publishers,
		ledger:     led,
		log:        log,
	}
}

// Destinations returns the bound destination names, in publish order.
func (f *Forwarder) Destinations() []string {
	out := make([]string, 0, len(f.publishers))
	for _, p := range f.publishers {
		out = append(out, p.Destination())
	}
	return out
}

// Forward encodes the envelope once and publishes it everywhere. The first
// publish error is returned after all destinations have been attempted.
func (f *Forwarder) Forward(ctx context.Context, stage string, env *envelope.Envelope) error {
	body, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	forwarded := make([]string, 0, len(f.publishers))
	failed := make(map[string]string)
	var firstErr error

	for _, pub := range f.publishers {
		msg := broker.Message{
			Body:        body,
			Subject:     f.subject,
			ContentType: envelope.ContentType,
		}
		if err := pub.Publish(ctx, msg); err != nil {
			failed[pub.Destination()] = err.Error()
			if firstErr == nil {
				firstErr = err
			}
			f.log.Error("Failed to publish to destination",
				logger.String("stage", stage),
				logger.String("destination", pub.Destination()),
				logger.Error(err),
			)
			continue
		}
		forwarded = append(forwarded, pub.Destination())
	}

	f.recordFanOut(ctx, stage, env, forwarded, failed)
	return firstErr
}

func (f *Forwarder) recordFanOut(ctx context.Context, stage string, env *envelope.Envelope, forwarded []string, failed map[string]string) {
	docID := env.DocumentID()
	if docID == "" || f.ledger == nil {
		return
	}
	extra := map[string]any{"forwarded": forwarded}
	status := ledger.StatusOK
	if len(failed) > 0 {
		extra["publish_errors"] = failed
		status = ledger.StatusError
	}
	if _, err := f.ledger.Upsert(ctx, docID, stage, status, extra); err != nil {
		f.log.Error("Failed to record fan-out status",
			logger.String("stage", stage),
			logger.String("documentId", docID),
			logger.Error(err),
		)
	}
}
