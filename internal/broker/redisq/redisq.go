// Package redisq implements the broker contract on Redis lists: one pending
// list per queue, a processing list per consumer process, a delivery-count
// hash, and a dead-letter list that receives messages exhausting the
// configured delivery budget.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openoverheid/docpipe/internal/broker"
)

const keyPrefix = "docpipe:q:"

// Config defines Redis broker settings.
type Config struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	MaxDeliveries int    `yaml:"maxDeliveries"`
	BatchSize     int    `yaml:"batchSize"`
}

// Broker is a process-scoped connection shared by all publishers and
// consumers created from it.
type Broker struct {
	client        *redis.Client
	maxDeliveries int
	batchSize     int
}

// New creates a broker on a fresh Redis connection and verifies it with a
// ping.
func New(ctx context.Context, cfg Config) (*Broker, error) {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return &Broker{
		client:        client,
		maxDeliveries: cfg.MaxDeliveries,
		batchSize:     cfg.BatchSize,
	}, nil
}

func (b *Broker) Close() error {
	return b.client.Close()
}

// Publisher returns a reusable publisher bound to one queue.
func (b *Broker) Publisher(queue string) broker.Publisher {
	return &publisher{broker: b, queue: queue}
}

// Consumer returns a consumer bound to one queue. The processing list key
// includes a unique suffix so concurrent processes never share in-flight
// messages.
func (b *Broker) Consumer(queue string) broker.Consumer {
	return &consumer{
		broker:     b,
		queue:      queue,
		processing: pendingKey(queue) + ":processing:" + uuid.NewString(),
	}
}

func pendingKey(queue string) string { return keyPrefix + queue }
func countsKey(queue string) string  { return keyPrefix + queue + ":deliveries" }
func deadKey(queue string) string    { return keyPrefix + queue + ":dead" }

// wireMessage is the stored representation of a broker.Message.
type wireMessage struct {
	ID          string          `json:"id"`
	Body        json.RawMessage `json:"body"`
	Subject     string          `json:"subject,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

func encodeWire(msg broker.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(wireMessage{
		ID:          msg.ID,
		Body:        json.RawMessage(msg.Body),
		Subject:     msg.Subject,
		ContentType: msg.ContentType,
		EnqueuedAt:  msg.EnqueuedAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	return string(raw), nil
}

type publisher struct {
	broker *Broker
	queue  string
}

func (p *publisher) Destination() string { return p.queue }

func (p *publisher) Publish(ctx context.Context, msg broker.Message) error {
	raw, err := encodeWire(msg)
	if err != nil {
		return &broker.PublishError{Destination: p.queue, Err: err}
	}
	if err := p.broker.client.RPush(ctx, pendingKey(p.queue), raw).Err(); err != nil {
		return &broker.PublishError{Destination: p.queue, Err: err}
	}
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
		batch := msgs[start:end]

		values := make([]interface{}, 0, len(batch))
		for _, msg := range batch {
			raw, err := encodeWire(msg)
			if err != nil {
				if firstErr == nil {
					firstErr = &broker.PublishError{Destination: p.queue, Err: err}
				}
				continue
			}
			values = append(values, raw)
		}
		if len(values) == 0 {
			continue
		}
		if err := p.broker.client.RPush(ctx, pendingKey(p.queue), values...).Err(); err != nil {
			if firstErr == nil {
				firstErr = &broker.PublishError{Destination: p.queue, Err: err}
			}
			continue
		}
		sent += len(values)
	}
	return sent, firstErr
}

func (p *publisher) Close() error { return nil }

type consumer struct {
	broker     *Broker
	queue      string
	processing string
}

func (c *consumer) Queue() string { return c.queue }

func (c *consumer) Receive(ctx context.Context, max int, wait time.Duration) ([]broker.Delivery, error) {
	if max <= 0 {
		max = 1
	}
	deliveries := make([]broker.Delivery, 0, max)

	// Block for the first message only; drain the rest without waiting.
	raw, err := c.broker.client.BLMove(ctx, pendingKey(c.queue), c.processing, "LEFT", "RIGHT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, &broker.Fault{Op: "receive", Queue: c.queue, Err: err}
	}
	d, err := c.deliver(ctx, raw)
	if err != nil {
		return nil, err
	}
	deliveries = append(deliveries, d)

	for len(deliveries) < max {
		raw, err := c.broker.client.LMove(ctx, pendingKey(c.queue), c.processing, "LEFT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return deliveries, &broker.Fault{Op: "receive", Queue: c.queue, Err: err}
		}
		d, err := c.deliver(ctx, raw)
		if err != nil {
			return deliveries, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

func (c *consumer) deliver(ctx context.Context, raw string) (broker.Delivery, error) {
	var wire wireMessage
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		// Unparseable wrapper: count it anyway so it eventually dead-letters.
		wire = wireMessage{ID: uuid.NewString(), Body: []byte(raw)}
	}
	count, err := c.broker.client.HIncrBy(ctx, countsKey(c.queue), wire.ID, 1).Result()
	if err != nil {
		return nil, &broker.Fault{Op: "receive", Queue: c.queue, Err: err}
	}
	return &delivery{
		consumer: c,
		raw:      raw,
		msg: broker.Message{
			ID:            wire.ID,
			Body:          []byte(wire.Body),
			Subject:       wire.Subject,
			ContentType:   wire.ContentType,
			DeliveryCount: int(count),
			EnqueuedAt:    wire.EnqueuedAt,
		},
	}, nil
}

func (c *consumer) Close() error {
	// Requeue anything still in-flight so another process can pick it up.
	ctx := context.Background()
	for {
		raw, err := c.broker.client.RPopLPush(ctx, c.processing, pendingKey(c.queue)).Result()
		if err != nil || raw == "" {
			break
		}
	}
	return nil
}

type delivery struct {
	consumer *consumer
	raw      string
	msg      broker.Message
	settled  atomic.Bool
}

func (d *delivery) Message() broker.Message { return d.msg }

func (d *delivery) Complete(ctx context.Context) error {
	if !d.settled.CompareAndSwap(false, true) {
		return broker.ErrSettled
	}
	c := d.consumer
	pipe := c.broker.client.TxPipeline()
	pipe.LRem(ctx, c.processing, 1, d.raw)
	pipe.HDel(ctx, countsKey(c.queue), d.msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return &broker.Fault{Op: "complete", Queue: c.queue, Err: err}
	}
	return nil
}

func (d *delivery) Abandon(ctx context.Context) error {
	if !d.settled.CompareAndSwap(false, true) {
		return broker.ErrSettled
	}
	c := d.consumer
	pipe := c.broker.client.TxPipeline()
	pipe.LRem(ctx, c.processing, 1, d.raw)
	if d.msg.DeliveryCount >= c.broker.maxDeliveries {
		pipe.RPush(ctx, deadKey(c.queue), d.raw)
		pipe.HDel(ctx, countsKey(c.queue), d.msg.ID)
	} else {
		pipe.RPush(ctx, pendingKey(c.queue), d.raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &broker.Fault{Op: "abandon", Queue: c.queue, Err: err}
	}
	return nil
}
