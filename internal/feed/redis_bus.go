package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"leadflow/internal/common/logger"
	"leadflow/internal/store"

	"github.com/redis/go-redis/v9"
)

// RedisBus propagates change events between server instances over a Redis
// pub/sub channel. Events that fail to reach Redis are still delivered to
// this process's listeners so local views never miss their own writes.
type RedisBus struct {
	client  *redis.Client
	channel string
	local   *LocalBus
	logger  logger.Logger
}

func NewRedisBus(client *redis.Client, channel string, log logger.Logger) *RedisBus {
	return &RedisBus{
		client:  client,
		channel: channel,
		local:   NewLocalBus(),
		logger:  log.WithFields(map[string]interface{}{"component": "redis-bus", "channel": channel}),
	}
}

func (b *RedisBus) Publish(ctx context.Context, ev store.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.local.Publish(ctx, ev)
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	return nil
}

// Listen subscribes to the channel. handle may be called from two
// goroutines (Redis and the local fallback) and must be safe for that.
func (b *RedisBus) Listen(ctx context.Context, handle func(store.ChangeEvent)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		pubsub.Close()
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	localCtx, cancelLocal := context.WithCancel(ctx)
	defer cancelLocal()
	go b.local.listen(localCtx, handle, false)

	b.logger.Info("subscribed to change channel", nil)
	handle(store.ChangeEvent{Kind: store.ChangeResync, At: time.Now().UTC()})

	for {
		msg, err := pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive from %s: %w", b.channel, err)
		}

		switch m := msg.(type) {
		case *redis.Message:
			var ev store.ChangeEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				b.logger.Warn("malformed change event, reloading", map[string]interface{}{
					"payload": m.Payload,
					"error":   err,
				})
				ev = store.ChangeEvent{Kind: store.ChangeResync, At: time.Now().UTC()}
			}
			handle(ev)
		case *redis.Subscription, *redis.Pong:
		}
	}
}
