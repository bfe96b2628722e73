package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over Redis pub/sub so events published on one
// instance reach subscribers on all instances.
type RedisBus struct {
	client        *redis.Client
	mu            sync.RWMutex
	subscriptions map[uint64]*redisSubscription
	nextID        atomic.Uint64
	closed        bool
	logger        *slog.Logger
}

type redisSubscription struct {
	bus    *RedisBus
	id     uint64
	topic  string
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func (s *redisSubscription) Unsubscribe() error {
	s.cancel()
	if s.pubsub != nil {
		s.pubsub.Close()
	}
	s.bus.removeSub(s.id)
	return nil
}

// NewRedisBus connects to Redis. url is in the redis://host:port form.
func NewRedisBus(url string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger := slog.Default().With("component", "events", "backend", "redis")
	logger.Info("connected to Redis", "addr", opts.Addr)

	return &RedisBus{
		client:        client,
		subscriptions: make(map[uint64]*redisSubscription),
		logger:        logger,
	}, nil
}

// Publish sends the event to all subscribers of the topic across instances.
func (b *RedisBus) Publish(ctx context.Context, topic string, ev *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	b.mu.RUnlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Subscribe registers a handler for events on the given topic.
func (b *RedisBus) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}

	redisPubSub := b.client.Subscribe(ctx, topic)
	if _, err := redisPubSub.Receive(ctx); err != nil {
		b.mu.Unlock()
		redisPubSub.Close()
		return nil, fmt.Errorf("failed to subscribe to redis channel: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	id := b.nextID.Add(1)
	sub := &redisSubscription{
		bus:    b,
		id:     id,
		topic:  topic,
		pubsub: redisPubSub,
		cancel: cancel,
	}
	b.subscriptions[id] = sub
	b.mu.Unlock()

	go b.receive(subCtx, sub, handler)
	return sub, nil
}

func (b *RedisBus) receive(ctx context.Context, sub *redisSubscription, handler Handler) {
	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Error("failed to unmarshal event", "error", err, "topic", sub.topic)
				continue
			}
			go handler(ctx, &ev)
		}
	}
}

func (b *RedisBus) removeSub(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, id)
}

// Close shuts down the bus and all subscriptions.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, sub := range b.subscriptions {
		sub.cancel()
		if sub.pubsub != nil {
			sub.pubsub.Close()
		}
	}
	b.subscriptions = make(map[uint64]*redisSubscription)

	if err := b.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}
