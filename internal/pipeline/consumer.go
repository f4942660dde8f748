package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openoverheid/docpipe/internal/broker"
	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/pkg/logger"
)

// Loop states.
const (
	StateStopped int32 = iota
	StateRunning
)

// faultRestartThreshold is the number of consecutive receive faults after
// which the loop logs that a process restart is advisable. Restarting is
// left to the surrounding supervisor.
const faultRestartThreshold = 3

// ConsumerConfig tunes the consumption loop.
type ConsumerConfig struct {
	// MaxConcurrentCalls is the number of messages pulled per receive.
	// Defaults to 1, which keeps handling sequential within a stage.
	MaxConcurrentCalls int           `yaml:"maxConcurrentCalls"`
	ReceiveWait        time.Duration `yaml:"receiveWait"`
	IdlePause          time.Duration `yaml:"idlePause"`
	FaultBackoff       time.Duration `yaml:"faultBackoff"`
}

// UnmarshalYAML accepts human-readable durations ("10s") for the wait
// fields.
func (c *ConsumerConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxConcurrentCalls int    `yaml:"maxConcurrentCalls"`
		ReceiveWait        string `yaml:"receiveWait"`
		IdlePause          string `yaml:"idlePause"`
		FaultBackoff       string `yaml:"faultBackoff"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.MaxConcurrentCalls = raw.MaxConcurrentCalls
	for _, field := range []struct {
		src string
		dst *time.Duration
	}{
		{raw.ReceiveWait, &c.ReceiveWait},
		{raw.IdlePause, &c.IdlePause},
		{raw.FaultBackoff, &c.FaultBackoff},
	} {
		if field.src == "" {
			continue
		}
		d, err := time.ParseDuration(field.src)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", field.src, err)
		}
		*field.dst = d
	}
	return nil
}

func (c *ConsumerConfig) withDefaults() ConsumerConfig {
	out := ConsumerConfig{
		MaxConcurrentCalls: 1,
		ReceiveWait:        10 * time.Second,
		IdlePause:          time.Second,
		FaultBackoff:       5 * time.Second,
	}
	if c == nil {
		return out
	}
	if c.MaxConcurrentCalls > 0 {
		out.MaxConcurrentCalls = c.MaxConcurrentCalls
	}
	if c.ReceiveWait > 0 {
		out.ReceiveWait = c.ReceiveWait
	}
	if c.IdlePause > 0 {
		out.IdlePause = c.IdlePause
	}
	if c.FaultBackoff > 0 {
		out.FaultBackoff = c.FaultBackoff
	}
	return out
}

// Consumer runs one stage against one input queue: receive, decode, process,
// settle. Every received message is settled exactly once; abandon is the
// only retry mechanism and defers to the broker's delivery-count policy.
type Consumer struct {
	consumer  broker.Consumer
	stage     Stage
	forwarder *Forwarder
	ledger    ledger.Ledger
	log       logger.Logger
	cfg       ConsumerConfig

	state atomic.Int32
	stop  chan struct{}
}

// NewConsumer wires a stage to its input queue. forwarder may be nil for
// terminal stages.
func NewConsumer(c broker.Consumer, stage Stage, forwarder *Forwarder, led ledger.Ledger, log logger.Logger, cfg *ConsumerConfig) *Consumer {
	return &Consumer{
		consumer:  c,
		stage:     stage,
		forwarder: forwarder,
		ledger:    led,
		log:       log.Named(stage.Name()),
		cfg:       cfg.withDefaults(),
		stop:      make(chan struct{}),
	}
}

// State returns StateRunning while the loop is active.
func (c *Consumer) State() int32 { return c.state.Load() }

// Stop requests a cooperative shutdown. The current batch finishes settling;
// no new receive is issued afterwards.
func (c *Consumer) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

// Run blocks until Stop is called or the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.state.Store(StateRunning)
	defer c.state.Store(StateStopped)

	c.log.Info("Starting consumption loop",
		logger.String("queue", c.consumer.Queue()),
		logger.Int("maxConcurrentCalls", c.cfg.MaxConcurrentCalls),
	)

	consecutiveFaults := 0
	for {
		if c.stopping(ctx) {
			c.log.Info("Consumption loop stopped", logger.String("queue", c.consumer.Queue()))
			return nil
		}

		deliveries, err := c.consumer.Receive(ctx, c.cfg.MaxConcurrentCalls, c.cfg.ReceiveWait)
		if err != nil {
			consecutiveFaults++
			c.log.Error("Receive failed",
				logger.String("queue", c.consumer.Queue()),
				logger.Int("consecutiveFaults", consecutiveFaults),
				logger.Error(err),
			)
			if consecutiveFaults >= faultRestartThreshold {
				c.log.Error("Broker unreachable, process restart advisable",
					logger.String("queue", c.consumer.Queue()),
				)
			}
			c.pause(ctx, c.cfg.FaultBackoff)
			continue
		}
		consecutiveFaults = 0

		if len(deliveries) == 0 {
			c.pause(ctx, c.cfg.IdlePause)
			continue
		}

		for _, d := range deliveries {
			c.handle(ctx, d)
		}
	}
}

// handle processes a single delivery and settles it exactly once.
func (c *Consumer) handle(ctx context.Context, d broker.Delivery) {
	msg := d.Message()

	env, err := envelope.Decode(msg.Body)
	if err != nil {
		c.log.Error("Dropping undecodable message for redelivery",
			logger.String("messageId", msg.ID),
			logger.Int("deliveryCount", msg.DeliveryCount),
			logger.Error(err),
		)
		c.settle(ctx, d, false)
		return
	}

	outcome, err := c.process(ctx, env)
	if err != nil {
		c.log.Error("Stage fault",
			logger.String("stage", c.stage.Name()),
			logger.String("messageId", msg.ID),
			logger.String("documentId", env.DocumentID()),
			logger.Int("deliveryCount", msg.DeliveryCount),
			logger.Error(err),
		)
		c.recordFault(ctx, env, err)
		c.settle(ctx, d, false)
		return
	}

	if outcome.Discarded() {
		c.log.Warn("Message discarded",
			logger.String("stage", c.stage.Name()),
			logger.String("documentId", env.DocumentID()),
			logger.String("reason", outcome.Reason()),
		)
		c.settle(ctx, d, true)
		return
	}

	if c.forwarder != nil {
		// Forward failures are reflected in the ledger but never trigger
		// redelivery of the already-processed source message; reprocessing
		// would duplicate upstream side effects.
		if err := c.forwarder.Forward(ctx, c.stage.Name(), outcome.Envelope()); err != nil {
			c.log.Error("Forwarding failed",
				logger.String("stage", c.stage.Name()),
				logger.String("documentId", outcome.Envelope().DocumentID()),
				logger.Error(err),
			)
		}
	}
	c.settle(ctx, d, true)
}

// process invokes the stage, converting panics into stage faults so an
// unexpected bug abandons one message instead of killing the loop.
func (c *Consumer) process(ctx context.Context, env *envelope.Envelope) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", c.stage.Name(), r)
		}
	}()
	return c.stage.Process(ctx, env)
}

func (c *Consumer) recordFault(ctx context.Context, env *envelope.Envelope, faultErr error) {
	docID := env.DocumentID()
	if docID == "" || c.ledger == nil {
		return
	}
	extra := map[string]any{"reason": faultErr.Error()}
	if _, err := c.ledger.Upsert(ctx, docID, c.stage.Name(), ledger.StatusError, extra); err != nil {
		c.log.Error("Failed to record stage fault",
			logger.String("documentId", docID),
			logger.Error(err),
		)
	}
}

func (c *Consumer) settle(ctx context.Context, d broker.Delivery, complete bool) {
	var err error
	if complete {
		err = d.Complete(ctx)
	} else {
		err = d.Abandon(ctx)
	}
	if err != nil {
		c.log.Debug("Failed to settle message explicitly",
			logger.String("messageId", d.Message().ID),
			logger.Bool("complete", complete),
			logger.Error(err),
		)
	}
}

func (c *Consumer) stopping(ctx context.Context) bool {
	select {
	case <-c.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (c *Consumer) pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.stop:
	case <-ctx.Done():
	}
}
