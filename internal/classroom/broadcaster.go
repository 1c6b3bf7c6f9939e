package classroom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/zenro-academy/liveclass/internal/rtc"
	"github.com/zenro-academy/liveclass/internal/signaling"
)

// BroadcasterConfig configures a Broadcaster.
type BroadcasterConfig struct {
	Config
	Source rtc.Source
	// OnEnded runs on the dispatch goroutine after the class ends. It must not
	// call back into the session.
	OnEnded func(Snapshot)
}

// peerRecord is the broadcaster's view of one viewer connection.
type peerRecord struct {
	pc    rtc.PeerConnection
	state webrtc.PeerConnectionState
}

// Broadcaster owns local media and keeps one outbound connection per viewer.
type Broadcaster struct {
	base
	source  rtc.Source
	onEnded func(Snapshot)

	// Owned by the dispatch goroutine.
	live      bool
	topic     string
	startedAt time.Time
	media     *rtc.LocalMedia
	peers     map[string]*peerRecord
}

// NewBroadcaster creates an idle broadcaster.
func NewBroadcaster(cfg BroadcasterConfig) *Broadcaster {
	return &Broadcaster{
		base:    newBase(cfg.Config, RoleBroadcaster),
		source:  cfg.Source,
		onEnded: cfg.OnEnded,
		peers:   make(map[string]*peerRecord),
	}
}

func (b *Broadcaster) Role() Role { return RoleBroadcaster }

// Start acquires local media and goes live. A media failure leaves the
// session idle and is returned wrapped in rtc.ErrMediaUnavailable.
func (b *Broadcaster) Start(ctx context.Context, topic string) error {
	return b.loop.call(func() error {
		if b.live {
			return ErrAlreadyLive
		}
		if b.source == nil {
			return rtc.ErrMediaUnavailable
		}
		media, err := b.source.Acquire(ctx)
		if err != nil {
			b.log.Warn("acquire local media", zap.Error(err))
			if !errors.Is(err, rtc.ErrMediaUnavailable) {
				err = fmt.Errorf("%w: %v", rtc.ErrMediaUnavailable, err)
			}
			return err
		}

		b.live = true
		b.topic = topic
		b.startedAt = time.Now().UTC()
		b.media = media
		b.peers = make(map[string]*peerRecord)

		startedAt := b.startedAt
		b.store.applyStatus(true, topic, &startedAt)
		b.store.setViewerCount(0)
		b.relay.Send(signaling.KindSessionStatus, b.status())
		b.chat(SystemAuthor, "Class has started.")
		b.log.Info("class started", zap.String("topic", topic))
		return nil
	})
}

// End closes every viewer connection, releases local media and announces the
// class is over. Calling it while idle does nothing.
func (b *Broadcaster) End() error {
	return b.loop.call(func() error {
		b.end()
		return nil
	})
}

// SetTrackEnabled mutes or unmutes the shared local track of the given kind
// for every viewer at once.
func (b *Broadcaster) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	return b.loop.call(func() error {
		if !b.live || b.media == nil {
			return ErrNotLive
		}
		if !b.media.SetEnabled(kind, enabled) {
			return fmt.Errorf("no local %s track", kind)
		}
		return nil
	})
}

// Close ends the class and stops the dispatch goroutine.
func (b *Broadcaster) Close() error {
	if err := b.End(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	b.loop.close()
	return nil
}

// HandleMessage queues env for the dispatch goroutine.
func (b *Broadcaster) HandleMessage(env signaling.Envelope) {
	b.loop.post(func() { b.dispatch(env) })
}

func (b *Broadcaster) dispatch(env signaling.Envelope) {
	switch env.Kind {
	case signaling.KindGetStatus:
		if b.live {
			b.relay.Send(signaling.KindSessionStatus, b.status(), env.From)
		}
	case signaling.KindSessionStatus:
		b.handleStatus(env)
	case signaling.KindJoin:
		b.handleJoin(env.From)
	case signaling.KindAnswer:
		b.handleAnswer(env)
	case signaling.KindCandidate:
		b.handleRemoteCandidate(env)
	case signaling.KindChat:
		b.receiveChat(env)
	}
}

func (b *Broadcaster) status() signaling.StatusPayload {
	st := signaling.StatusPayload{IsLive: b.live, Topic: b.topic}
	if b.live {
		t := b.startedAt
		st.StartedAt = &t
	}
	return st
}

// handleStatus applies a foreign status only while idle.
func (b *Broadcaster) handleStatus(env signaling.Envelope) {
	if b.live {
		return
	}
	var st signaling.StatusPayload
	if err := env.Decode(&st); err != nil {
		b.log.Debug("drop malformed status", zap.String("from", env.From), zap.Error(err))
		return
	}
	b.store.applyStatus(st.IsLive, st.Topic, st.StartedAt)
}

func (b *Broadcaster) handleJoin(viewerID string) {
	if !b.live {
		b.log.Debug("join while idle", zap.String("viewer_id", viewerID))
		return
	}
	log := b.log.With(zap.String("viewer_id", viewerID))

	if old, ok := b.peers[viewerID]; ok {
		delete(b.peers, viewerID)
		if err := old.pc.Close(); err != nil {
			log.Debug("close superseded connection", zap.Error(err))
		}
	}

	pc, err := b.factory.NewPeerConnection()
	if err != nil {
		log.Error("create peer connection", zap.Error(err))
		b.syncViewerCount()
		return
	}
	rec := &peerRecord{pc: pc, state: webrtc.PeerConnectionStateNew}
	b.peers[viewerID] = rec
	b.syncViewerCount()

	for _, track := range b.media.Tracks() {
		if err := pc.AddTrack(track); err != nil {
			b.dropPeer(viewerID, rec, "add track", err)
			return
		}
	}

	pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		b.loop.post(func() {
			if b.peers[viewerID] != rec {
				return
			}
			b.relay.Send(signaling.KindCandidate, signaling.CandidatePayload{Candidate: c}, viewerID)
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		b.loop.post(func() { b.handlePeerState(viewerID, rec, state) })
	})

	offer, err := pc.CreateOffer()
	if err != nil {
		b.dropPeer(viewerID, rec, "create offer", err)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		b.dropPeer(viewerID, rec, "set local description", err)
		return
	}
	b.relay.Send(signaling.KindOffer, signaling.SDPPayload{SDP: offer.SDP}, viewerID)
	log.Info("viewer joined", zap.Int("viewers", len(b.peers)))
}

func (b *Broadcaster) handleAnswer(env signaling.Envelope) {
	rec, ok := b.peers[env.From]
	if !ok {
		b.log.Debug("answer for unknown viewer", zap.String("viewer_id", env.From))
		return
	}
	if rec.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		b.log.Debug("ignore late answer", zap.String("viewer_id", env.From),
			zap.String("signaling_state", rec.pc.SignalingState().String()))
		return
	}
	var sdp signaling.SDPPayload
	if err := env.Decode(&sdp); err != nil {
		b.log.Debug("drop malformed answer", zap.String("viewer_id", env.From), zap.Error(err))
		return
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp.SDP}
	if err := rec.pc.SetRemoteDescription(answer); err != nil {
		b.log.Warn("apply answer", zap.String("viewer_id", env.From), zap.Error(err))
	}
}

func (b *Broadcaster) handleRemoteCandidate(env signaling.Envelope) {
	rec, ok := b.peers[env.From]
	if !ok {
		return
	}
	var c signaling.CandidatePayload
	if err := env.Decode(&c); err != nil {
		b.log.Debug("drop malformed candidate", zap.String("viewer_id", env.From), zap.Error(err))
		return
	}
	if err := rec.pc.AddICECandidate(c.Candidate); err != nil {
		b.log.Debug("add remote candidate", zap.String("viewer_id", env.From), zap.Error(err))
	}
}

// handlePeerState removes a viewer whose connection died. Transitions from a
// superseded record are ignored.
func (b *Broadcaster) handlePeerState(viewerID string, rec *peerRecord, state webrtc.PeerConnectionState) {
	rec.state = state
	if !rtc.Terminal(state) || b.peers[viewerID] != rec {
		return
	}
	delete(b.peers, viewerID)
	_ = rec.pc.Close()
	b.syncViewerCount()
	b.log.Info("viewer left", zap.String("viewer_id", viewerID),
		zap.String("state", state.String()), zap.Int("viewers", len(b.peers)))
}

func (b *Broadcaster) dropPeer(viewerID string, rec *peerRecord, op string, err error) {
	b.log.Error(op, zap.String("viewer_id", viewerID), zap.Error(err))
	if b.peers[viewerID] == rec {
		delete(b.peers, viewerID)
	}
	_ = rec.pc.Close()
	b.syncViewerCount()
}

func (b *Broadcaster) syncViewerCount() {
	b.store.setViewerCount(len(b.peers))
}

func (b *Broadcaster) end() {
	if !b.live {
		return
	}
	for id, rec := range b.peers {
		delete(b.peers, id)
		if err := rec.pc.Close(); err != nil {
			b.log.Debug("close viewer connection", zap.String("viewer_id", id), zap.Error(err))
		}
	}
	if b.media != nil {
		b.media.Stop()
		b.media = nil
	}
	b.live = false

	b.store.setViewerCount(0)
	b.store.applyStatus(false, b.topic, nil)
	b.relay.Send(signaling.KindSessionStatus, b.status())
	b.chat(SystemAuthor, "Class has ended.")
	b.log.Info("class ended", zap.String("topic", b.topic))

	if b.onEnded != nil {
		b.onEnded(b.store.Snapshot())
	}
}
