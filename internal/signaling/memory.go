package signaling

import (
	"context"
	"sync"
)

const memoryBuffer = 256

// MemoryBus is an in-process relay: every connected transport sees every
// published message, its own included.
type MemoryBus struct {
	mu    sync.RWMutex
	peers map[*MemoryTransport]struct{}
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{peers: make(map[*MemoryTransport]struct{})}
}

// Connect attaches a new transport to the bus.
func (b *MemoryBus) Connect() *MemoryTransport {
	t := &MemoryTransport{bus: b, ch: make(chan []byte, memoryBuffer)}
	b.mu.Lock()
	b.peers[t] = struct{}{}
	b.mu.Unlock()
	return t
}

func (b *MemoryBus) publish(data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for p := range b.peers {
		msg := append([]byte(nil), data...)
		select {
		case p.ch <- msg:
		default:
			// subscriber is not keeping up; best effort
		}
	}
}

func (b *MemoryBus) remove(t *MemoryTransport) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.peers[t]; !ok {
		return false
	}
	delete(b.peers, t)
	return true
}

// MemoryTransport is one endpoint of a MemoryBus.
type MemoryTransport struct {
	bus *MemoryBus
	ch  chan []byte
}

// Publish fans data out to every endpoint on the bus.
func (t *MemoryTransport) Publish(_ context.Context, data []byte) error {
	t.bus.publish(data)
	return nil
}

// Messages returns the endpoint's inbound stream.
func (t *MemoryTransport) Messages() <-chan []byte { return t.ch }

// Close detaches the endpoint. Closing twice is a no-op.
func (t *MemoryTransport) Close() error {
	if t.bus.remove(t) {
		close(t.ch)
	}
	return nil
}
