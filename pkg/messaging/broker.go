package messaging

import (
	"context"
	"time"
)

// Handler processes one message. A nil return acknowledges it; an error leaves it pending
// for redelivery.
type Handler func(ctx context.Context, payload []byte) error

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, stream string, message interface{}) error
	// Consume reads stream as one member of cfg.Group and blocks until ctx ends. Each message
	// goes to exactly one member of the group.
	Consume(ctx context.Context, stream string, cfg ConsumerConfig, handler Handler) error
	Close() error
}

// MessageBroker is the handler-style view of a Broker used by consumers.
type MessageBroker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

type ConsumerConfig struct {
	Group    string
	Consumer string
	// Count caps messages per read.
	Count int64
	// Block bounds one blocking read, and therefore how long shutdown can take.
	Block time.Duration
	// ClaimIdle is how long a delivered but unacknowledged message waits before another
	// delivery.
	ClaimIdle time.Duration
	// MaxDeliveries drops a message once it has been delivered this many times.
	MaxDeliveries int64
}

// WithDefaults fills unset fields.
func (c ConsumerConfig) WithDefaults() ConsumerConfig {
	if c.Count <= 0 {
		c.Count = 10
	}
	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = 30 * time.Second
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 5
	}
	return c
}
