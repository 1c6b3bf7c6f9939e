package classroom

import (
	"sync"

	"go.uber.org/zap"

	"github.com/zenro-academy/liveclass/internal/signaling"
)

// Coordinator connects a relay client to a session: it subscribes to every
// protocol kind, drops the participant's own echoes and hands the rest to the
// session chosen at construction.
type Coordinator struct {
	relay   *signaling.Client
	session Session
	log     *zap.Logger

	mu        sync.Mutex
	installed map[signaling.Kind]signaling.HandlerID
}

// NewCoordinator binds session to relay. Nothing is subscribed until Install.
func NewCoordinator(relay *signaling.Client, session Session, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		relay:   relay,
		session: session,
		log:     log.With(zap.String("role", string(session.Role()))),
	}
}

// Install subscribes to the relay. A viewer immediately asks whether a class is
// already live, since it keeps no state across restarts.
func (c *Coordinator) Install() {
	c.mu.Lock()
	if c.installed != nil {
		c.mu.Unlock()
		return
	}
	c.installed = make(map[signaling.Kind]signaling.HandlerID, len(signaling.Kinds))
	for _, kind := range signaling.Kinds {
		c.installed[kind] = c.relay.On(kind, c.route)
	}
	c.mu.Unlock()

	if c.session.Role() == RoleViewer {
		c.relay.Send(signaling.KindGetStatus, struct{}{})
	}
}

// Uninstall removes every subscription made by Install.
func (c *Coordinator) Uninstall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for kind, id := range c.installed {
		c.relay.Off(kind, id)
	}
	c.installed = nil
}

// Session returns the routed session.
func (c *Coordinator) Session() Session { return c.session }

func (c *Coordinator) route(env signaling.Envelope) {
	if env.From == c.relay.ID() {
		return
	}
	c.session.HandleMessage(env)
}
