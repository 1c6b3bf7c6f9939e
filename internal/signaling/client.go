// Package signaling implements the classroom relay client: a typed, best-effort
// publish/subscribe layer on top of an interchangeable transport.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PublishTimeout bounds a single transport publish.
const PublishTimeout = 5 * time.Second

// ErrTransportClosed is returned by Run when the transport stops delivering.
var ErrTransportClosed = errors.New("signaling: transport closed")

// Transport carries raw envelopes between participants. Publish delivers to every
// subscriber of the channel, possibly including the publisher.
type Transport interface {
	Publish(ctx context.Context, data []byte) error
	Messages() <-chan []byte
	Close() error
}

// Handler receives envelopes of one kind.
type Handler func(env Envelope)

// HandlerID identifies a registration made with On.
type HandlerID uint64

type registration struct {
	id HandlerID
	fn Handler
}

// Client is one participant's view of the relay. Its identity is generated at
// construction and never persisted.
type Client struct {
	id        string
	transport Transport
	logger    *zap.Logger

	mu       sync.RWMutex
	handlers map[Kind][]registration
	nextID   HandlerID
}

// NewClient wraps a transport with a fresh ephemeral identity.
func NewClient(transport Transport, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Client{
		id:        id,
		transport: transport,
		logger:    logger.With(zap.String("participant_id", id)),
		handlers:  make(map[Kind][]registration),
	}
}

// ID returns the participant identity.
func (c *Client) ID() string { return c.id }

// Send publishes payload under kind. With no target the envelope is broadcast.
// Failures are logged and never returned.
func (c *Client) Send(kind Kind, payload interface{}, to ...string) {
	env := Envelope{Kind: kind, From: c.id}
	if len(to) > 0 {
		env.To = to[0]
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.logger.Warn("marshal signaling payload", zap.String("kind", string(kind)), zap.Error(err))
			return
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Warn("marshal envelope", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
	defer cancel()
	if err := c.transport.Publish(ctx, data); err != nil {
		c.logger.Warn("relay publish failed", zap.String("kind", string(kind)), zap.String("to", env.To), zap.Error(err))
	}
}

// On registers fn for every received envelope of kind.
func (c *Client) On(kind Kind, fn Handler) HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.handlers[kind] = append(c.handlers[kind], registration{id: c.nextID, fn: fn})
	return c.nextID
}

// Off removes a registration made with On. Unknown IDs are ignored.
func (c *Client) Off(kind Kind, id HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	regs := c.handlers[kind]
	for i, r := range regs {
		if r.id == id {
			c.handlers[kind] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Run delivers transport messages to handlers until ctx is done or the transport
// closes. Handlers run sequentially in delivery order.
func (c *Client) Run(ctx context.Context) error {
	msgs := c.transport.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				return ErrTransportClosed
			}
			c.deliver(data)
		}
	}
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) deliver(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Debug("drop malformed envelope", zap.Error(err))
		return
	}
	if env.To != "" && env.To != c.id {
		return
	}
	c.mu.RLock()
	regs := append([]registration(nil), c.handlers[env.Kind]...)
	c.mu.RUnlock()
	for _, r := range regs {
		r.fn(env)
	}
}
