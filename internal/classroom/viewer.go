package classroom

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/zenro-academy/liveclass/internal/rtc"
	"github.com/zenro-academy/liveclass/internal/signaling"
)

// maxPendingCandidates bounds the pre-offer candidate buffer.
const maxPendingCandidates = 256

// ViewerConfig configures a Viewer.
type ViewerConfig struct {
	Config
	// JoinTimeout tears down and retries a join that has not connected in
	// time. Zero waits indefinitely.
	JoinTimeout time.Duration
	// DisableAutoJoin stops the viewer joining by itself when a live status
	// arrives.
	DisableAutoJoin bool
}

type pendingCandidate struct {
	from      string
	candidate webrtc.ICECandidateInit
}

// Viewer receives the broadcast over a single peer connection.
type Viewer struct {
	base
	joinTimeout time.Duration
	autoJoin    bool

	// Owned by the dispatch goroutine.
	pc            rtc.PeerConnection
	gen           uint64
	broadcasterID string
	pending       []pendingCandidate
	stream        *rtc.RemoteStream
	joinTimer     *time.Timer
}

// NewViewer creates a viewer with no connection.
func NewViewer(cfg ViewerConfig) *Viewer {
	return &Viewer{
		base:        newBase(cfg.Config, RoleViewer),
		joinTimeout: cfg.JoinTimeout,
		autoJoin:    !cfg.DisableAutoJoin,
	}
}

func (v *Viewer) Role() Role { return RoleViewer }

// Join replaces any stale connection with a fresh one and asks the
// broadcaster for an offer. It does nothing while connected.
func (v *Viewer) Join() error {
	return v.loop.call(v.join)
}

// Leave closes the connection and clears the received stream.
func (v *Viewer) Leave() error {
	return v.loop.call(func() error {
		v.teardown()
		return nil
	})
}

// Close leaves and stops the dispatch goroutine.
func (v *Viewer) Close() error {
	if err := v.Leave(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	v.loop.close()
	return nil
}

// HandleMessage queues env for the dispatch goroutine.
func (v *Viewer) HandleMessage(env signaling.Envelope) {
	v.loop.post(func() { v.dispatch(env) })
}

func (v *Viewer) dispatch(env signaling.Envelope) {
	switch env.Kind {
	case signaling.KindSessionStatus:
		v.handleStatus(env)
	case signaling.KindOffer:
		v.handleOffer(env)
	case signaling.KindCandidate:
		v.handleRemoteCandidate(env)
	case signaling.KindChat:
		v.receiveChat(env)
	}
}

func (v *Viewer) join() error {
	if v.pc != nil && v.pc.ConnectionState() == webrtc.PeerConnectionStateConnected {
		return nil
	}
	v.teardown()

	pc, err := v.factory.NewPeerConnection()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	v.gen++
	gen := v.gen
	v.pc = pc

	pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		v.loop.post(func() {
			if v.gen != gen {
				return
			}
			payload := signaling.CandidatePayload{Candidate: c}
			if v.broadcasterID == "" {
				v.relay.Send(signaling.KindCandidate, payload)
				return
			}
			v.relay.Send(signaling.KindCandidate, payload, v.broadcasterID)
		})
	})
	pc.OnTrack(func(track *rtc.RemoteTrack) {
		v.loop.post(func() {
			if v.gen != gen {
				return
			}
			v.stream = v.stream.With(track)
			v.store.setRemoteStream(v.stream)
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		v.loop.post(func() { v.handleConnectionState(gen, state) })
	})

	v.relay.Send(signaling.KindJoin, struct{}{})
	v.armJoinTimer(gen)
	v.log.Info("join requested")
	return nil
}

// teardown closes the current connection and invalidates its callbacks.
func (v *Viewer) teardown() {
	v.gen++
	if v.joinTimer != nil {
		v.joinTimer.Stop()
		v.joinTimer = nil
	}
	if v.pc != nil {
		if err := v.pc.Close(); err != nil {
			v.log.Debug("close connection", zap.Error(err))
		}
		v.pc = nil
	}
	v.broadcasterID = ""
	v.pending = nil
	if v.stream != nil {
		v.stream = nil
		v.store.setRemoteStream(nil)
	}
}

func (v *Viewer) handleStatus(env signaling.Envelope) {
	var st signaling.StatusPayload
	if err := env.Decode(&st); err != nil {
		v.log.Debug("drop malformed status", zap.String("from", env.From), zap.Error(err))
		return
	}
	v.store.applyStatus(st.IsLive, st.Topic, st.StartedAt)
	if !st.IsLive {
		v.teardown()
		return
	}
	if v.pc == nil && v.autoJoin {
		if err := v.join(); err != nil {
			v.log.Warn("auto join", zap.Error(err))
		}
	}
}

func (v *Viewer) handleOffer(env signaling.Envelope) {
	if v.pc == nil {
		v.log.Debug("offer without a join in flight", zap.String("from", env.From))
		return
	}
	if v.pc.HasRemoteDescription() {
		v.log.Debug("ignore duplicate offer", zap.String("from", env.From))
		return
	}
	var sdp signaling.SDPPayload
	if err := env.Decode(&sdp); err != nil {
		v.log.Debug("drop malformed offer", zap.String("from", env.From), zap.Error(err))
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp.SDP}
	if err := v.pc.SetRemoteDescription(offer); err != nil {
		v.log.Warn("apply offer", zap.String("from", env.From), zap.Error(err))
		return
	}
	v.broadcasterID = env.From

	pending := v.pending
	v.pending = nil
	for _, p := range pending {
		if p.from != env.From {
			continue
		}
		if err := v.pc.AddICECandidate(p.candidate); err != nil {
			v.log.Debug("add buffered candidate", zap.Error(err))
		}
	}

	answer, err := v.pc.CreateAnswer()
	if err != nil {
		v.log.Warn("create answer", zap.Error(err))
		return
	}
	if err := v.pc.SetLocalDescription(answer); err != nil {
		v.log.Warn("set local description", zap.Error(err))
		return
	}
	v.relay.Send(signaling.KindAnswer, signaling.SDPPayload{SDP: answer.SDP}, env.From)
}

func (v *Viewer) handleRemoteCandidate(env signaling.Envelope) {
	if v.pc == nil {
		return
	}
	var c signaling.CandidatePayload
	if err := env.Decode(&c); err != nil {
		v.log.Debug("drop malformed candidate", zap.String("from", env.From), zap.Error(err))
		return
	}
	if !v.pc.HasRemoteDescription() {
		if len(v.pending) >= maxPendingCandidates {
			v.log.Warn("candidate buffer full", zap.String("from", env.From))
			return
		}
		v.pending = append(v.pending, pendingCandidate{from: env.From, candidate: c.Candidate})
		return
	}
	if env.From != v.broadcasterID {
		return
	}
	if err := v.pc.AddICECandidate(c.Candidate); err != nil {
		v.log.Debug("add remote candidate", zap.Error(err))
	}
}

func (v *Viewer) handleConnectionState(gen uint64, state webrtc.PeerConnectionState) {
	if gen != v.gen {
		return
	}
	v.log.Debug("connection state", zap.String("state", state.String()))
	switch state {
	case webrtc.PeerConnectionStateConnected:
		if v.joinTimer != nil {
			v.joinTimer.Stop()
			v.joinTimer = nil
		}
	case webrtc.PeerConnectionStateFailed:
		v.log.Warn("connection failed")
		v.teardown()
		v.rejoinIfLive()
	}
}

func (v *Viewer) armJoinTimer(gen uint64) {
	if v.joinTimeout <= 0 {
		return
	}
	v.joinTimer = time.AfterFunc(v.joinTimeout, func() {
		v.loop.post(func() {
			if gen != v.gen || v.pc == nil {
				return
			}
			if v.pc.ConnectionState() == webrtc.PeerConnectionStateConnected {
				return
			}
			v.log.Warn("join timed out", zap.Duration("timeout", v.joinTimeout))
			v.teardown()
			v.rejoinIfLive()
		})
	})
}

func (v *Viewer) rejoinIfLive() {
	if !v.store.Snapshot().IsLive {
		return
	}
	if err := v.join(); err != nil {
		v.log.Warn("rejoin", zap.Error(err))
	}
}
