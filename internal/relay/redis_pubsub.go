package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// HubChannelPrefix namespaces rooms fanned out between relay server instances.
	HubChannelPrefix = "relay:"
	// DirectChannelPrefix namespaces rooms used by participants talking to Redis directly.
	DirectChannelPrefix = "classroom:"

	publishTTL = 5 * time.Second
)

// redisPayload is the message published to Redis.
type redisPayload struct {
	Data json.RawMessage `json:"data"`
	At   int64           `json:"at"`
}

// RedisPubSub carries raw frames over Redis channels named prefix+room.
type RedisPubSub struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for rooms under prefix.
func NewRedisPubSub(client *redis.Client, prefix string, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, prefix: prefix, logger: logger}
}

// PublishRoom publishes a frame to the room's channel.
func (r *RedisPubSub) PublishRoom(ctx context.Context, room string, frame []byte) error {
	body, err := json.Marshal(redisPayload{Data: frame, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTTL)
		defer cancel()
	}
	return r.client.Publish(ctx, r.prefix+room, body).Err()
}

// SubscribeRoom calls handler for every frame published to room until the
// returned cancel function is called. done is closed once the subscription
// goroutine has exited.
func (r *RedisPubSub) SubscribeRoom(room string, handler func(frame []byte)) (cancel func(), done <-chan struct{}, err error) {
	channel := r.prefix + room
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	ch := pubsub.Channel()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					r.logger.Debug("drop malformed redis frame", zap.String("channel", channel), zap.Error(err))
					continue
				}
				handler(p.Data)
			}
		}
	}()
	return cancelCtx, finished, nil
}
