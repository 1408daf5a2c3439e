// Package conductor implements the Message Conductor from spec.md 4.3: the
// per-call state machine that drives one topic's event flow from a Kafka
// consumer through the attribute filter to the Flow-Controlled Sender.
//
// Design Note "Polymorphism over variants" replaces the source's
// AbstractMessageConductor inheritance hierarchy (separate subclasses for
// the filter-by-name and filter-by-attributes variants) with a single
// Conductor parameterised by a filter.Filter value injected at
// construction.
package conductor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/National-Digital-Twin/federator-sub003/internal/filter"
	"github.com/National-Digital-Twin/federator-sub003/internal/kafkaio"
	"github.com/National-Digital-Twin/federator-sub003/internal/kv"
	"github.com/National-Digital-Twin/federator-sub003/internal/model"
	"github.com/National-Digital-Twin/federator-sub003/internal/sender"
	"github.com/National-Digital-Twin/federator-sub003/internal/wire"
	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

// ErrMessageProcessing wraps a consumer poll failure, per spec.md 7
// "Transport failures bubble up to the conductor which terminates the
// call".
var ErrMessageProcessing = errors.New("conductor: message processing failed")

// State is the conductor's lifecycle stage (spec.md 4.3).
type State int

const (
	StateInit State = iota
	StateRunning
	StateDraining
	StateTerminated
)

// Config parameterises one call's conductor.
type Config struct {
	ClientID          string
	Topic             string
	StartOffset       int64
	Attrs             []model.Attribute
	FilterName        string
	InactivityTimeout int // ticks of PollTimeout with no event before completing; 0 = complete on first idle tick
	PollTimeout       time.Duration

	// HeaderAllowlist is the set of header names eligible to be copied into
	// an EventFrame's SharedHeaders (spec.md 3 "Event Frame": "the subset of
	// the source record's headers whose names are in a configured
	// allow-list"). A nil or empty allowlist yields no shared headers at
	// all, never every header on the record.
	HeaderAllowlist []string
}

// eventSource is the subset of *kafkaio.Consumer the conductor depends on.
// Kept as an interface so tests can drive the RUNNING loop against a fake
// rather than a live broker.
type eventSource interface {
	Poll(ctx context.Context, timeout time.Duration) (*kafkaio.Event, error)
	Close() error
}

// Conductor drives one (topic, client) event stream end to end.
type Conductor struct {
	cfg      Config
	consumer eventSource
	filter   filter.Filter
	send     *sender.Sender[*wire.EventFrame]
	offsets  *kv.Store
	log      *logger.Logger

	state State
}

// New binds a Conductor to Kafka at (topic, offset, client_id), per spec.md
// 4.3 INIT. send is the Flow-Controlled Sender wrapping the outbound
// stream's Send method; offsets is the shared KV offset tracker.
func New(cfg Config, kafkaCfg kafkaio.Config, f filter.Filter, send *sender.Sender[*wire.EventFrame], offsets *kv.Store, log *logger.Logger) (*Conductor, error) {
	consumer, err := kafkaio.NewConsumer(kafkaCfg, cfg.Topic, cfg.StartOffset)
	if err != nil {
		return nil, fmt.Errorf("conductor: bind consumer: %w", err)
	}
	return newConductor(cfg, consumer, f, send, offsets, log), nil
}

// newConductor wires a Conductor against any eventSource; used by New
// against a live kafkaio.Consumer and by tests against a fake.
func newConductor(cfg Config, consumer eventSource, f filter.Filter, send *sender.Sender[*wire.EventFrame], offsets *kv.Store, log *logger.Logger) *Conductor {
	return &Conductor{
		cfg:      cfg,
		consumer: consumer,
		filter:   f,
		send:     send,
		offsets:  offsets,
		log:      log,
		state:    StateInit,
	}
}

// Run executes the RUNNING loop until the call is cancelled, inactivity
// closes the consumer, or an unrecoverable error occurs. Resources are
// released deterministically on every return path (spec.md 5 "Resource
// acquisition").
func (c *Conductor) Run(ctx context.Context) error {
	c.state = StateRunning
	defer c.terminate()

	idleTicks := 0

	for {
		select {
		case <-ctx.Done():
			c.state = StateDraining
			return nil
		default:
		}

		event, err := c.consumer.Poll(ctx, c.cfg.PollTimeout)
		if err != nil {
			c.state = StateDraining
			return fmt.Errorf("%w: %v", ErrMessageProcessing, err)
		}

		if event == nil {
			if c.cfg.InactivityTimeout <= 0 {
				c.state = StateDraining
				return nil
			}
			idleTicks++
			if idleTicks >= c.cfg.InactivityTimeout {
				c.state = StateDraining
				return nil
			}
			continue
		}
		idleTicks = 0

		label, _ := kafkaio.HeaderValue(event.Headers, filter.SecurityLabelHeader)
		if !c.filter.Allow(label, c.cfg.Attrs) {
			c.log.Debug("conductor: event %s@%d denied by filter for client %s", event.Topic, event.Offset, c.cfg.ClientID)
			continue
		}

		frame := toEventFrame(event, c.cfg.HeaderAllowlist)
		if err := c.send.Send(frame); err != nil {
			c.state = StateDraining
			return err
		}

		if err := c.offsets.SetOffset(ctx, c.cfg.ClientID, event.Topic, event.Offset+1); err != nil {
			c.log.Error("conductor: advance offset for %s/%s: %v", c.cfg.ClientID, event.Topic, err)
		}
	}
}

// toEventFrame builds the outbound EventFrame, copying only the headers
// named in allowlist into SharedHeaders (spec.md 3 "Event Frame"). A nil or
// empty allowlist produces zero shared headers; in particular
// filter.SecurityLabelHeader is never forwarded unless an operator
// deliberately adds it to the list.
func toEventFrame(e *kafkaio.Event, allowlist []string) *wire.EventFrame {
	headers := make([]wire.HeaderEntry, 0, len(allowlist))
	for _, name := range allowlist {
		if v, ok := kafkaio.HeaderValue(e.Headers, name); ok {
			headers = append(headers, wire.HeaderEntry{Name: name, Value: v})
		}
	}
	return &wire.EventFrame{
		Topic:         e.Topic,
		Offset:        e.Offset,
		Key:           e.Key,
		Value:         e.Value,
		SharedHeaders: headers,
	}
}

// terminate releases the consumer and marks the conductor TERMINATED.
// Cancellation (spec.md 5 "Cancellation") and normal completion both funnel
// through here.
func (c *Conductor) terminate() {
	if c.state != StateTerminated {
		_ = c.consumer.Close()
		_ = c.send.Complete()
		c.state = StateTerminated
	}
}

// State returns the conductor's current lifecycle stage.
func (c *Conductor) State() State {
	return c.state
}
