package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/econsult/pkg/circuitbreaker"
	"github.com/jwalitptl/econsult/pkg/messaging"
)

// payloadField is the stream entry field holding the JSON message.
const payloadField = "payload"

// RedisBroker delivers messages over Redis Streams. Consumers in the same group share the
// stream, and a message stays pending until its handler succeeds.
type RedisBroker struct {
	client *redis.Client
	cb     *circuitbreaker.CircuitBreaker
	maxLen int64
	logger zerolog.Logger
}

type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
	// StreamMaxLen approximately trims each stream on publish; 0 keeps everything.
	StreamMaxLen int64
}

func NewRedisBroker(config Config, logger zerolog.Logger) (messaging.Broker, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pooling
	opts.MaxRetries = config.MaxRetries
	opts.MinRetryBackoff = config.RetryBackoff
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBroker{
		client: client,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "redis-broker",
			MaxFailures: 5,
			Timeout:     5 * time.Second,
		}),
		maxLen: config.StreamMaxLen,
		logger: logger.With().Str("component", "redis-broker").Logger(),
	}, nil
}

// Publish appends message to stream. It succeeds whether or not a consumer is running;
// groups created later still read it.
func (b *RedisBroker) Publish(ctx context.Context, stream string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{payloadField: string(payload)},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	return b.cb.Execute(func() error {
		return b.client.XAdd(ctx, args).Err()
	})
}

func (b *RedisBroker) Consume(ctx context.Context, stream string, cfg messaging.ConsumerConfig, handler messaging.Handler) error {
	cfg = cfg.WithDefaults()
	if cfg.Group == "" || cfg.Consumer == "" {
		return errors.New("consumer group and name are required")
	}
	if err := b.ensureGroup(ctx, stream, cfg.Group); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	log := b.logger.With().
		Str("stream", stream).
		Str("group", cfg.Group).
		Str("consumer", cfg.Consumer).
		Logger()

	for ctx.Err() == nil {
		if err := b.reclaim(ctx, stream, cfg, handler, log); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("failed to reclaim pending messages")
		}

		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    cfg.Group,
			Consumer: cfg.Consumer,
			Streams:  []string{stream, ">"},
			Count:    cfg.Count,
			Block:    cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("failed to read stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cfg.Block):
			}
			continue
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				b.deliver(ctx, stream, cfg.Group, msg, handler, log)
			}
		}
	}
	return nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

// ensureGroup creates the group at the start of the stream so that messages published
// before the first consumer started are still delivered.
func (b *RedisBroker) ensureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

// reclaim drops messages that exhausted their deliveries, then takes over the rest of the
// messages that have been pending longer than ClaimIdle, whichever member held them.
func (b *RedisBroker) reclaim(ctx context.Context, stream string, cfg messaging.ConsumerConfig, handler messaging.Handler, log zerolog.Logger) error {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  cfg.Group,
		Idle:   cfg.ClaimIdle,
		Start:  "-",
		End:    "+",
		Count:  cfg.Count,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to list pending messages: %w", err)
	}
	for _, p := range pending {
		if p.RetryCount < cfg.MaxDeliveries {
			continue
		}
		log.Error().
			Str("message_id", p.ID).
			Int64("deliveries", p.RetryCount).
			Msg("dropping message after repeated handler failures")
		if err := b.client.XAck(ctx, stream, cfg.Group, p.ID).Err(); err != nil {
			return fmt.Errorf("failed to ack message %s: %w", p.ID, err)
		}
	}

	msgs, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		MinIdle:  cfg.ClaimIdle,
		Start:    "0-0",
		Count:    cfg.Count,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to claim pending messages: %w", err)
	}
	for _, msg := range msgs {
		b.deliver(ctx, stream, cfg.Group, msg, handler, log)
	}
	return nil
}

func (b *RedisBroker) deliver(ctx context.Context, stream, group string, msg redis.XMessage, handler messaging.Handler, log zerolog.Logger) {
	payload, ok := msg.Values[payloadField].(string)
	if !ok {
		log.Error().Str("message_id", msg.ID).Msg("dropping message without payload")
		b.ack(ctx, stream, group, msg.ID, log)
		return
	}

	if err := handler(ctx, []byte(payload)); err != nil {
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("message handler failed, left pending")
		return
	}
	b.ack(ctx, stream, group, msg.ID, log)
}

// ack survives cancellation of ctx so that a handled message is not delivered again.
func (b *RedisBroker) ack(ctx context.Context, stream, group, id string, log zerolog.Logger) {
	if err := b.client.XAck(context.WithoutCancel(ctx), stream, group, id).Err(); err != nil {
		log.Error().Err(err).Str("message_id", id).Msg("failed to ack message")
	}
}
