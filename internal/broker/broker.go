// Package broker defines the messaging contract the pipeline core is built
// against. Concrete bindings live in the redisq (production) and memq
// (in-process) subpackages.
package broker

import (
	"context"
	"time"
)

// Message is one wire message. Body carries the encoded envelope; Subject is
// a human-readable stage-transition label; DeliveryCount is maintained by
// the binding and starts at 1 on first receive.
type Message struct {
	ID            string
	Body          []byte
	Subject       string
	ContentType   string
	DeliveryCount int
	EnqueuedAt    time.Time
}

// Publisher sends messages to a single named destination. A nil error from
// Publish means the broker accepted the message for delivery, nothing more.
type Publisher interface {
	// Destination returns the queue name this publisher is bound to.
	Destination() string
	Publish(ctx context.Context, msg Message) error
	// PublishBatch sends messages in physical batches of the binding's batch
	// size. It returns the number of messages actually accepted; on partial
	// failure that count is paired with the first error encountered.
	PublishBatch(ctx context.Context, msgs []Message) (int, error)
	Close() error
}

// Delivery is one received message pending settlement. Exactly one of
// Complete or Abandon must be called; a second settlement returns an error
// without touching the broker.
type Delivery interface {
	Message() Message
	// Complete removes the message from the queue.
	Complete(ctx context.Context) error
	// Abandon makes the message redelivery-eligible. Once the binding's
	// max delivery count is reached it moves to the dead-letter queue
	// instead.
	Abandon(ctx context.Context) error
}

// Consumer receives messages from a single named queue.
type Consumer interface {
	Queue() string
	// Receive pulls up to max messages, waiting at most wait for the first
	// one. An empty slice with a nil error means the queue was idle.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error)
	Close() error
}
