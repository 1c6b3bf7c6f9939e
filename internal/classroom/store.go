package classroom

import (
	"sync"
	"time"

	"github.com/zenro-academy/liveclass/internal/rtc"
)

// ChatEntry is one line of the class chat.
type ChatEntry struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of the session state.
type Snapshot struct {
	IsLive       bool
	Topic        string
	StartedAt    *time.Time
	ViewerCount  int
	Chat         []ChatEntry
	RemoteStream *rtc.RemoteStream
}

// Store holds one participant's session state. Mutators are unexported: only
// sessions in this package write to it, from their dispatch goroutine.
type Store struct {
	mu    sync.RWMutex
	state Snapshot

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// NewStore returns an idle store.
func NewStore() *Store {
	return &Store{subs: make(map[int]func(Snapshot))}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Subscribe registers fn to be called after every mutation. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) copyLocked() Snapshot {
	snap := s.state
	snap.Chat = append([]ChatEntry(nil), s.state.Chat...)
	if s.state.StartedAt != nil {
		t := *s.state.StartedAt
		snap.StartedAt = &t
	}
	return snap
}

func (s *Store) applyStatus(isLive bool, topic string, startedAt *time.Time) {
	s.update(func(st *Snapshot) {
		st.IsLive = isLive
		st.Topic = topic
		if isLive {
			st.StartedAt = startedAt
		} else {
			st.StartedAt = nil
		}
	})
}

func (s *Store) setViewerCount(n int) {
	if n < 0 {
		n = 0
	}
	s.update(func(st *Snapshot) { st.ViewerCount = n })
}

func (s *Store) appendChat(entry ChatEntry) {
	s.update(func(st *Snapshot) { st.Chat = append(st.Chat, entry) })
}

func (s *Store) setRemoteStream(stream *rtc.RemoteStream) {
	s.update(func(st *Snapshot) { st.RemoteStream = stream })
}

func (s *Store) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.state)
	snap := s.copyLocked()
	s.mu.Unlock()

	s.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()
	for _, sub := range subs {
		sub(snap)
	}
}
