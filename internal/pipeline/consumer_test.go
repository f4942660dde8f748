package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openoverheid/docpipe/internal/broker"
	"github.com/openoverheid/docpipe/internal/broker/memq"
	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/pkg/logger"
)

func testConfig() *ConsumerConfig {
	return &ConsumerConfig{
		MaxConcurrentCalls: 1,
		ReceiveWait:        50 * time.Millisecond,
		IdlePause:          5 * time.Millisecond,
		FaultBackoff:       5 * time.Millisecond,
	}
}

func testEnvelope(id string) *envelope.Envelope {
	return &envelope.Envelope{
		Document: &envelope.Document{
			Source:  "test",
			ID:      id,
			Name:    id + ".pdf",
			Payload: map[string]any{"extracted_text": "plenty of text for the stages"},
		},
	}
}

func publishEnvelope(t *testing.T, b *memq.Broker, queue string, env *envelope.Envelope) {
	t.Helper()
	body, err := envelope.Encode(env)
	require.NoError(t, err)
	require.NoError(t, b.Publisher(queue).Publish(context.Background(), broker.Message{
		Body:        body,
		ContentType: envelope.ContentType,
	}))
}

func runConsumer(t *testing.T, c *Consumer) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(context.Background())
	}()
	t.Cleanup(func() {
		c.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}
	})
}

func TestConsumerForwardsToDestination(t *testing.T) {
	b := memq.New()
	led := ledger.NewMemory()
	log := logger.NewTestLogger()

	stage := StageFunc{StageName: "pass", Fn: func(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
		return Forward(env), nil
	}}
	fwd := NewForwarder("subject", led, log, b.Publisher("next"))
	c := NewConsumer(b.Consumer("in"), stage, fwd, led, log, testConfig())
	runConsumer(t, c)

	publishEnvelope(t, b, "in", testEnvelope("doc-1"))

	require.Eventually(t, func() bool { return b.Pending("next") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, b.Pending("in"))
	assert.Equal(t, StateRunning, c.State())

	rec, err := led.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOK, rec.States["pass"].Status)
}

func TestConsumerCompletesDiscards(t *testing.T) {
	b := memq.New()
	led := ledger.NewMemory()
	log := logger.NewTestLogger()

	stage := StageFunc{StageName: "drop", Fn: func(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
		return Discard("not wanted"), nil
	}}
	fwd := NewForwarder("subject", led, log, b.Publisher("next"))
	c := NewConsumer(b.Consumer("in"), stage, fwd, led, log, testConfig())
	runConsumer(t, c)

	publishEnvelope(t, b, "in", testEnvelope("doc-1"))

	require.Eventually(t, func() bool { return b.Pending("in") == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, b.Pending("next"), "discarded messages are not forwarded")
	assert.Empty(t, b.DeadLetters("in"))
}

func TestConsumerSettlesDuplicateDeliveries(t *testing.T) {
	b := memq.New(memq.WithMaxDeliveries(2))
	led := ledger.NewMemory()
	log := logger.NewTestLogger()

	var mu sync.Mutex
	var records []*ledger.Record
	stage := StageFunc{StageName: "degraded", Fn: func(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
		rec, err := led.Upsert(ctx, env.DocumentID(), "degraded", ledger.StatusError, map[string]any{"reason": "backend down"})
		if err != nil {
			return Outcome{}, err
		}
		mu.Lock()
		records = append(records, rec)
		mu.Unlock()
		return Discard("backend down"), nil
	}}
	fwd := NewForwarder("subject", led, log, b.Publisher("next"))
	c := NewConsumer(b.Consumer("in"), stage, fwd, led, log, testConfig())
	runConsumer(t, c)

	env := testEnvelope("doc-1")
	publishEnvelope(t, b, "in", env)
	publishEnvelope(t, b, "in", env)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(records) == 2
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return b.Pending("in") == 0 }, time.Second, 5*time.Millisecond)

	// both copies settle complete: nothing redelivered, dead-lettered or
	// forwarded
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, b.DeadLetters("in"))
	assert.Equal(t, 0, b.Pending("next"))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, records, 2)
	assert.False(t, records[0].CreatedAt.IsZero())
	assert.Equal(t, records[0].CreatedAt, records[1].CreatedAt, "created_at is insert-only across duplicate deliveries")
}

func TestConsumerAbandonsOnStageFault(t *testing.T) {
	b := memq.New(memq.WithMaxDeliveries(2))
	led := ledger.NewMemory()
	log := logger.NewTestLogger()

	var mu sync.Mutex
	attempts := 0
	stage := StageFunc{StageName: "boom", Fn: func(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return Outcome{}, errors.New("backend down")
	}}
	c := NewConsumer(b.Consumer("in"), stage, nil, led, log, testConfig())
	runConsumer(t, c)

	publishEnvelope(t, b, "in", testEnvelope("doc-1"))

	require.Eventually(t, func() bool { return len(b.DeadLetters("in")) == 1 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	got := attempts
	mu.Unlock()
	assert.Equal(t, 2, got, "redelivered until the delivery budget")

	rec, err := led.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusError, rec.States["boom"].Status)
	assert.Equal(t, "backend down", rec.States["boom"].Extra["reason"])
}

func TestConsumerAbandonsUndecodableBody(t *testing.T) {
	b := memq.New(memq.WithMaxDeliveries(1))
	led := ledger.NewMemory()
	log := logger.NewTestLogger()

	var called atomic.Bool
	stage := StageFunc{StageName: "s", Fn: func(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
		called.Store(true)
		return Forward(env), nil
	}}
	c := NewConsumer(b.Consumer("in"), stage, nil, led, log, testConfig())
	runConsumer(t, c)

	require.NoError(t, b.Publisher("in").Publish(context.Background(), broker.Message{Body: []byte("{nope")}))

	require.Eventually(t, func() bool { return len(b.DeadLetters("in")) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, called.Load(), "stage never sees an undecodable message")
}

func TestConsumerRecoversPanics(t *testing.T) {
	b := memq.New(memq.WithMaxDeliveries(1))
	led := ledger.NewMemory()
	log := logger.NewTestLogger()

	stage := StageFunc{StageName: "panicky", Fn: func(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
		panic("unexpected state")
	}}
	c := NewConsumer(b.Consumer("in"), stage, nil, led, log, testConfig())
	runConsumer(t, c)

	publishEnvelope(t, b, "in", testEnvelope("doc-1"))

	require.Eventually(t, func() bool { return len(b.DeadLetters("in")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, c.State(), "a panicking stage does not kill the loop")

	rec, err := led.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusError, rec.States["panicky"].Status)
}

func TestConsumerStaysRunningWhenIdle(t *testing.T) {
	b := memq.New()
	led := ledger.NewMemory()
	log := logger.NewTestLogger()

	stage := StageFunc{StageName: "s", Fn: func(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
		return Forward(env), nil
	}}
	c := NewConsumer(b.Consumer("in"), stage, nil, led, log, testConfig())

	assert.Equal(t, StateStopped, c.State())
	runConsumer(t, c)

	require.Eventually(t, func() bool { return c.State() == StateRunning }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateRunning, c.State())
}

func TestConsumerStopIsIdempotent(t *testing.T) {
	b := memq.New()
	led := ledger.NewMemory()
	log := logger.NewTestLogger()

	stage := StageFunc{StageName: "s", Fn: func(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
		return Forward(env), nil
	}}
	c := NewConsumer(b.Consumer("in"), stage, nil, led, log, testConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(context.Background())
	}()

	require.Eventually(t, func() bool { return c.State() == StateRunning }, time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, StateStopped, c.State())
}
