package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	envs []Envelope
}

func (r *recorder) handle(env Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recorder) all() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.envs...)
}

func startClient(t *testing.T, bus *MemoryBus) *Client {
	t.Helper()
	c := NewClient(bus.Connect(), nil)
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

func TestClientBroadcastReachesEveryoneIncludingSender(t *testing.T) {
	bus := NewMemoryBus()
	a := startClient(t, bus)
	b := startClient(t, bus)

	var ra, rb recorder
	a.On(KindChat, ra.handle)
	b.On(KindChat, rb.handle)

	a.Send(KindChat, ChatPayload{Author: "Tanaka", Text: "konnichiwa"})

	require.Eventually(t, func() bool { return len(ra.all()) == 1 && len(rb.all()) == 1 }, time.Second, 5*time.Millisecond)
	got := rb.all()[0]
	assert.Equal(t, a.ID(), got.From)
	assert.False(t, got.Directed())

	var chat ChatPayload
	require.NoError(t, got.Decode(&chat))
	assert.Equal(t, "konnichiwa", chat.Text)
}

func TestClientDirectedDeliveredOnlyToTarget(t *testing.T) {
	bus := NewMemoryBus()
	a := startClient(t, bus)
	b := startClient(t, bus)
	c := startClient(t, bus)

	var rb, rc recorder
	b.On(KindOffer, rb.handle)
	c.On(KindOffer, rc.handle)

	a.Send(KindOffer, SDPPayload{SDP: "v=0"}, b.ID())
	a.Send(KindOffer, SDPPayload{SDP: "v=1"}, b.ID())

	require.Eventually(t, func() bool { return len(rb.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, rc.all())
	assert.Equal(t, b.ID(), rb.all()[0].To)
}

func TestClientPreservesDeliveryOrder(t *testing.T) {
	bus := NewMemoryBus()
	a := startClient(t, bus)
	b := startClient(t, bus)

	var rb recorder
	b.On(KindCandidate, rb.handle)
	b.On(KindOffer, rb.handle)

	a.Send(KindCandidate, nil)
	a.Send(KindOffer, nil)
	a.Send(KindCandidate, nil)

	require.Eventually(t, func() bool { return len(rb.all()) == 3 }, time.Second, 5*time.Millisecond)
	kinds := []Kind{}
	for _, e := range rb.all() {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []Kind{KindCandidate, KindOffer, KindCandidate}, kinds)
}

func TestClientOffStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	a := startClient(t, bus)
	b := startClient(t, bus)

	var first, second recorder
	id := b.On(KindJoin, first.handle)
	b.On(KindJoin, second.handle)

	a.Send(KindJoin, struct{}{})
	require.Eventually(t, func() bool { return len(second.all()) == 1 }, time.Second, 5*time.Millisecond)

	b.Off(KindJoin, id)
	b.Off(KindJoin, id)
	a.Send(KindJoin, struct{}{})
	require.Eventually(t, func() bool { return len(second.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, first.all(), 1)
}

type failingTransport struct {
	ch chan []byte
}

func (f *failingTransport) Publish(context.Context, []byte) error { return errors.New("relay down") }
func (f *failingTransport) Messages() <-chan []byte                 { return f.ch }
func (f *failingTransport) Close() error                            { close(f.ch); return nil }

func TestClientSendSwallowsPublishErrors(t *testing.T) {
	c := NewClient(&failingTransport{ch: make(chan []byte)}, nil)
	assert.NotPanics(t, func() {
		c.Send(KindChat, ChatPayload{Text: "hello"})
		c.Send(KindChat, func() {})
	})
}

func TestClientRunReturnsWhenTransportCloses(t *testing.T) {
	ft := &failingTransport{ch: make(chan []byte)}
	c := NewClient(ft, nil)
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	require.NoError(t, c.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestClientDropsMalformedEnvelopes(t *testing.T) {
	ft := &failingTransport{ch: make(chan []byte, 2)}
	c := NewClient(ft, nil)
	var r recorder
	c.On(KindChat, r.handle)
	ft.ch <- []byte("{not json")
	ft.ch <- []byte(`{"kind":"chat","from":"x"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()
	require.Eventually(t, func() bool { return len(r.all()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindSessionStatus.Valid())
	assert.False(t, Kind("renegotiate").Valid())
}
