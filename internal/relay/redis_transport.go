package relay

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisTransport is a signaling transport over a Redis pub/sub channel shared
// by every participant of a room. Publishers receive their own messages.
type RedisTransport struct {
	pubsub  *RedisPubSub
	room    string
	msgs    chan []byte
	closing chan struct{}
	cancel  func()
	done    <-chan struct{}
	once    sync.Once
}

// NewRedisTransport subscribes to the room and returns a ready transport.
func NewRedisTransport(client *redis.Client, room string, logger *zap.Logger) (*RedisTransport, error) {
	t := &RedisTransport{
		pubsub:  NewRedisPubSub(client, DirectChannelPrefix, logger),
		room:    room,
		msgs:    make(chan []byte, sendBuffer),
		closing: make(chan struct{}),
	}
	cancel, done, err := t.pubsub.SubscribeRoom(room, func(frame []byte) {
		select {
		case t.msgs <- frame:
		case <-t.closing:
		}
	})
	if err != nil {
		return nil, err
	}
	t.cancel = cancel
	t.done = done
	return t, nil
}

func (t *RedisTransport) Publish(ctx context.Context, data []byte) error {
	return t.pubsub.PublishRoom(ctx, t.room, data)
}

func (t *RedisTransport) Messages() <-chan []byte { return t.msgs }

// Close ends the subscription and closes Messages.
func (t *RedisTransport) Close() error {
	t.once.Do(func() {
		close(t.closing)
		t.cancel()
		<-t.done
		close(t.msgs)
	})
	return nil
}
