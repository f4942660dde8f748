// Package memq is an in-process broker binding with the same delivery and
// dead-letter semantics as redisq. It backs tests and the single-process
// demo mode.
package memq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openoverheid/docpipe/internal/broker"
)

// Broker holds all queues of one process.
type Broker struct {
	mu            sync.Mutex
	queues        map[string]*queueState
	maxDeliveries int
	batchSize     int
}

type queueState struct {
	mu     sync.Mutex
	items  []*stored
	notify chan struct{}
	dead   []broker.Message
}

type stored struct {
	msg        broker.Message
	deliveries int
}

// Option configures the broker.
type Option func(*Broker)

// WithMaxDeliveries sets the delivery budget before dead-lettering.
func WithMaxDeliveries(n int) Option {
	return func(b *Broker) { b.maxDeliveries = n }
}

// WithBatchSize sets the physical batch size for PublishBatch.
func WithBatchSize(n int) Option {
	return func(b *Broker) { b.batchSize = n }
}

func New(opts ...Option) *Broker {
	b := &Broker{
		queues:        make(map[string]*queueState),
		maxDeliveries: 5,
		batchSize:     100,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) queue(name string) *queueState {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = &queueState{notify: make(chan struct{}, 1)}
		b.queues[name] = q
	}
	return q
}

// Pending returns the number of undelivered messages on a queue.
func (b *Broker) Pending(name string) int {
	q := b.queue(name)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DeadLetters returns the messages dead-lettered on a queue.
func (b *Broker) DeadLetters(name string) []broker.Message {
	q := b.queue(name)
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]broker.Message, len(q.dead))
	copy(out, q.dead)
	return out
}

func (b *Broker) Close() error { return nil }

func (b *Broker) Publisher(queue string) broker.Publisher {
	return &publisher{broker: b, name: queue}
}

func (b *Broker) Consumer(queue string) broker.Consumer {
	return &consumer{broker: b, name: queue}
}

func (q *queueState) push(msg broker.Message, deliveries int) {
	q.mu.Lock()
	q.items = append(q.items, &stored{msg: msg, deliveries: deliveries})
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

type publisher struct {
	broker *Broker
	name   string
}

func (p *publisher) Destination() string { return p.name }

func (p *publisher) Publish(ctx context.Context, msg broker.Message) error {
	if err := ctx.Err(); err != nil {
		return &broker.PublishError{Destination: p.name, Err: err}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	p.broker.queue(p.name).push(msg, 0)
	return nil
}

func (p *publisher) PublishBatch(ctx context.Context, msgs []broker.Message) (int, error) {
	sent := 0
	var firstErr error
	for start := 0; start < len(msgs); start += p.broker.batchSize {
		end := start + p.broker.batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		for _, msg := range msgs[start:end] {
			if err := p.Publish(ctx, msg); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			sent++
		}
	}
	return sent, firstErr
}

func (p *publisher) Close() error { return nil }

type consumer struct {
	broker *Broker
	name   string
}

func (c *consumer) Queue() string { return c.name }

func (c *consumer) Receive(ctx context.Context, max int, wait time.Duration) ([]broker.Delivery, error) {
	if max <= 0 {
		max = 1
	}
	q := c.broker.queue(c.name)
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			n := max
			if n > len(q.items) {
				n = len(q.items)
			}
			batch := q.items[:n]
			q.items = q.items[n:]
			deliveries := make([]broker.Delivery, 0, n)
			for _, item := range batch {
				item.deliveries++
				msg := item.msg
				msg.DeliveryCount = item.deliveries
				deliveries = append(deliveries, &delivery{
					broker: c.broker,
					queue:  q,
					item:   item,
					msg:    msg,
				})
			}
			q.mu.Unlock()
			return deliveries, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-deadline.C:
			return nil, nil
		case <-ctx.Done():
			return nil, nil
		}
	}
}

func (c *consumer) Close() error { return nil }

type delivery struct {
	broker  *Broker
	queue   *queueState
	item    *stored
	msg     broker.Message
	settled atomic.Bool
}

func (d *delivery) Message() broker.Message { return d.msg }

func (d *delivery) Complete(ctx context.Context) error {
	if !d.settled.CompareAndSwap(false, true) {
		return broker.ErrSettled
	}
	return nil
}

func (d *delivery) Abandon(ctx context.Context) error {
	if !d.settled.CompareAndSwap(false, true) {
		return broker.ErrSettled
	}
	if d.item.deliveries >= d.broker.maxDeliveries {
		d.queue.mu.Lock()
		d.queue.dead = append(d.queue.dead, d.msg)
		d.queue.mu.Unlock()
		return nil
	}
	d.queue.mu.Lock()
	d.queue.items = append(d.queue.items, d.item)
	d.queue.mu.Unlock()
	select {
	case d.queue.notify <- struct{}{}:
	default:
	}
	return nil
}
