// Package classroom implements the live class session protocol: the state store,
// the broadcaster and viewer peer managers and the coordinator that routes relay
// messages between them.
//
// Each session runs its protocol work on a private dispatch goroutine. Relay
// deliveries, peer connection callbacks and public commands are all serialized
// there, so session state is never mutated concurrently.
package classroom

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/zenro-academy/liveclass/internal/rtc"
	"github.com/zenro-academy/liveclass/internal/signaling"
)

// SystemAuthor is the chat author used for session announcements.
const SystemAuthor = "SYSTEM"

var (
	ErrAlreadyLive = errors.New("class is already live")
	ErrNotLive     = errors.New("class is not live")
	ErrClosed      = errors.New("session closed")
)

// Role is the part a participant plays in a class.
type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

// Session is the role-specific protocol implementation driven by a Coordinator.
type Session interface {
	Role() Role
	Store() *Store
	// HandleMessage queues a relay envelope for processing. It never blocks.
	HandleMessage(env signaling.Envelope)
	SendChat(author, text string) error
	Close() error
}

// Config holds what both roles need.
type Config struct {
	Relay   *signaling.Client
	Store   *Store
	Factory rtc.Factory
	Logger  *zap.Logger
}

type base struct {
	relay   *signaling.Client
	store   *Store
	factory rtc.Factory
	log     *zap.Logger
	loop    *loop
}

func newBase(cfg Config, role Role) base {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	store := cfg.Store
	if store == nil {
		store = NewStore()
	}
	return base{
		relay:   cfg.Relay,
		store:   store,
		factory: cfg.Factory,
		log:     log.With(zap.String("role", string(role)), zap.String("participant_id", cfg.Relay.ID())),
		loop:    newLoop(),
	}
}

// Store returns the session state.
func (p *base) Store() *Store { return p.store }

// SendChat appends a message locally and broadcasts it.
func (p *base) SendChat(author, text string) error {
	return p.loop.call(func() error {
		p.chat(author, text)
		return nil
	})
}

func (p *base) chat(author, text string) {
	entry := ChatEntry{Author: author, Text: text, Timestamp: time.Now().UTC()}
	p.store.appendChat(entry)
	p.relay.Send(signaling.KindChat, signaling.ChatPayload{
		Author:    entry.Author,
		Text:      entry.Text,
		Timestamp: entry.Timestamp,
	})
}

func (p *base) receiveChat(env signaling.Envelope) {
	var msg signaling.ChatPayload
	if err := env.Decode(&msg); err != nil {
		p.log.Debug("drop malformed chat", zap.String("from", env.From), zap.Error(err))
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	p.store.appendChat(ChatEntry{Author: msg.Author, Text: msg.Text, Timestamp: msg.Timestamp})
}
