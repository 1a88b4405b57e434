package messaging

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

type BrokerAdapter struct {
	broker   Broker
	consumer ConsumerConfig
	logger   zerolog.Logger
}

// NewBrokerAdapter binds broker to one consumer identity used by every Subscribe call.
func NewBrokerAdapter(broker Broker, consumer ConsumerConfig, logger zerolog.Logger) MessageBroker {
	return &BrokerAdapter{broker: broker, consumer: consumer, logger: logger}
}

// Publish forwards payload verbatim; it must already be JSON.
func (a *BrokerAdapter) Publish(ctx context.Context, topic string, payload []byte) error {
	return a.broker.Publish(ctx, topic, json.RawMessage(payload))
}

func (a *BrokerAdapter) Close() error {
	return a.broker.Close()
}

// Subscribe runs handler for every message until ctx ends. Failed messages are redelivered
// by the broker.
func (a *BrokerAdapter) Subscribe(ctx context.Context, topic string, handler Handler) error {
	a.logger.Info().
		Str("topic", topic).
		Str("group", a.consumer.Group).
		Str("consumer", a.consumer.Consumer).
		Msg("consuming")
	return a.broker.Consume(ctx, topic, a.consumer, handler)
}
