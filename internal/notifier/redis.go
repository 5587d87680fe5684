package notifier

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisPublisher publishes status events to a Redis pub/sub channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher on channel
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends the event; having no listeners is not an error
func (p *RedisPublisher) Publish(ctx context.Context, event StatusEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// RedisRelay forwards events from a Redis channel into a local publisher,
// usually the process's Hub
type RedisRelay struct {
	client  *redis.Client
	channel string
	target  Publisher
}

// NewRedisRelay creates a relay from channel to target
func NewRedisRelay(client *redis.Client, channel string, target Publisher) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, target: target}
}

// Run subscribes and relays until ctx is cancelled
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	logrus.WithField("channel", r.channel).Info("Relaying status events from redis")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.relay(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) relay(ctx context.Context, payload string) {
	event, err := decode([]byte(payload))
	if err != nil {
		logrus.WithError(err).Warn("Ignoring malformed status event")
		return
	}
	if err := r.target.Publish(ctx, event); err != nil {
		logrus.WithError(err).WithField("message_id", event.MessageID).Warn("Failed to relay status event")
	}
}
