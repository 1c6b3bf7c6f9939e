package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenro-academy/liveclass/internal/signaling"
)

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func startRedisClient(t *testing.T, rdb *redis.Client, room string) *signaling.Client {
	t.Helper()
	tr, err := NewRedisTransport(rdb, room, nil)
	require.NoError(t, err)
	c := signaling.NewClient(tr, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = c.Close()
	})
	return c
}

type chatLog struct {
	mu    sync.Mutex
	chats []signaling.ChatPayload
}

func (l *chatLog) handle(env signaling.Envelope) {
	var p signaling.ChatPayload
	if env.Decode(&p) != nil {
		return
	}
	l.mu.Lock()
	l.chats = append(l.chats, p)
	l.mu.Unlock()
}

func (l *chatLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chats)
}

func TestRedisTransportDeliversToRoomIncludingSender(t *testing.T) {
	rdb := newMiniRedis(t)
	alice := startRedisClient(t, rdb, "math")
	bob := startRedisClient(t, rdb, "math")
	carol := startRedisClient(t, rdb, "art")

	var la, lb, lc chatLog
	alice.On(signaling.KindChat, la.handle)
	bob.On(signaling.KindChat, lb.handle)
	carol.On(signaling.KindChat, lc.handle)

	alice.Send(signaling.KindChat, signaling.ChatPayload{Author: "Sensei", Text: "welcome"})

	require.Eventually(t, func() bool { return la.count() == 1 && lb.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	lb.mu.Lock()
	assert.Equal(t, "welcome", lb.chats[0].Text)
	lb.mu.Unlock()
	assert.Never(t, func() bool { return lc.count() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestRedisTransportWrapsFrames(t *testing.T) {
	rdb := newMiniRedis(t)
	ctx := context.Background()
	sub := rdb.Subscribe(ctx, DirectChannelPrefix+"math")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	tr, err := NewRedisTransport(rdb, "math", nil)
	require.NoError(t, err)
	defer tr.Close()

	data := frame(t, signaling.KindJoin, "student-1", "")
	require.NoError(t, tr.Publish(ctx, data))

	select {
	case msg := <-sub.Channel():
		var wrapped redisPayload
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &wrapped))
		assert.JSONEq(t, string(data), string(wrapped.Data))
		assert.NotZero(t, wrapped.At)
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
	}

	select {
	case got := <-tr.Messages():
		assert.JSONEq(t, string(data), string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not receive its own frame")
	}
}

func TestRedisTransportCloseEndsMessages(t *testing.T) {
	rdb := newMiniRedis(t)
	tr, err := NewRedisTransport(rdb, "math", nil)
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	_, open := <-tr.Messages()
	assert.False(t, open)
}

func TestRedisPubSubDropsMalformedFrames(t *testing.T) {
	rdb := newMiniRedis(t)
	tr, err := NewRedisTransport(rdb, "math", nil)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, rdb.Publish(context.Background(), DirectChannelPrefix+"math", "not json").Err())
	data := frame(t, signaling.KindChat, "alice", "")
	require.NoError(t, tr.Publish(context.Background(), data))

	select {
	case got := <-tr.Messages():
		assert.JSONEq(t, string(data), string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
}
