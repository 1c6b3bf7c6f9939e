package classroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"

	"github.com/zenro-academy/liveclass/internal/rtc"
	"github.com/zenro-academy/liveclass/internal/signaling"
)

// fakePeer models the signaling state machine of a peer connection without
// any network.
type fakePeer struct {
	id int

	mu         sync.Mutex
	tracks     []webrtc.TrackLocal
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	sigState   webrtc.SignalingState
	connState  webrtc.PeerConnectionState
	candidates []webrtc.ICECandidateInit
	closed     bool

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(*rtc.RemoteTrack)
	onState     func(webrtc.PeerConnectionState)
}

func (p *fakePeer) AddTrack(track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", p.id)}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil || p.remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", p.id)}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		p.sigState = webrtc.SignalingStateHaveLocalOffer
	} else {
		p.sigState = webrtc.SignalingStateStable
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if desc.Type == webrtc.SDPTypeAnswer {
		if p.sigState != webrtc.SignalingStateHaveLocalOffer {
			return errors.New("answer in wrong state")
		}
		p.sigState = webrtc.SignalingStateStable
	} else {
		p.sigState = webrtc.SignalingStateHaveRemoteOffer
	}
	p.remote = &desc
	return nil
}

func (p *fakePeer) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote != nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sigState == webrtc.SignalingState(webrtc.Unknown) {
		return webrtc.SignalingStateStable
	}
	return p.sigState
}

func (p *fakePeer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connState
}

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnTrack(fn func(*rtc.RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.connState = webrtc.PeerConnectionStateClosed
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(webrtc.PeerConnectionStateClosed)
	}
	return nil
}

func (p *fakePeer) emitCandidate(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	fn(c)
}

func (p *fakePeer) emitTrack(t *rtc.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	fn(t)
}

func (p *fakePeer) setState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	p.connState = s
	fn := p.onState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) appliedCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *fakePeer) trackCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracks)
}

type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewPeerConnection() (rtc.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{id: len(f.peers) + 1}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) created() []*fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePeer(nil), f.peers...)
}

func (f *fakeFactory) last(t *testing.T) *fakePeer {
	t.Helper()
	peers := f.created()
	require.NotEmpty(t, peers)
	return peers[len(peers)-1]
}

type fakeSource struct {
	err error
}

func (s *fakeSource) Acquire(context.Context) (*rtc.LocalMedia, error) {
	if s.err != nil {
		return nil, s.err
	}
	video, err := rtc.NewLocalTrack(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8, "class")
	if err != nil {
		return nil, err
	}
	audio, err := rtc.NewLocalTrack(webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus, "class")
	if err != nil {
		return nil, err
	}
	return rtc.NewLocalMedia(video, audio), nil
}

// spy is a bare relay participant that records everything it receives.
type spy struct {
	*signaling.Client
	mu   sync.Mutex
	envs []signaling.Envelope
}

func newSpy(t *testing.T, bus *signaling.MemoryBus) *spy {
	t.Helper()
	s := &spy{Client: runClient(t, bus)}
	for _, k := range signaling.Kinds {
		s.On(k, func(env signaling.Envelope) {
			s.mu.Lock()
			s.envs = append(s.envs, env)
			s.mu.Unlock()
		})
	}
	return s
}

func (s *spy) received(kind signaling.Kind) []signaling.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []signaling.Envelope
	for _, e := range s.envs {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (s *spy) waitFor(t *testing.T, kind signaling.Kind, n int) []signaling.Envelope {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.received(kind)) >= n }, 2*time.Second, 5*time.Millisecond,
		"waiting for %d %s envelopes", n, kind)
	return s.received(kind)
}

func runClient(t *testing.T, bus *signaling.MemoryBus) *signaling.Client {
	t.Helper()
	c := signaling.NewClient(bus.Connect(), nil)
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

func envelope(t *testing.T, kind signaling.Kind, from string, payload interface{}) signaling.Envelope {
	t.Helper()
	env := signaling.Envelope{Kind: kind, From: from}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		env.Payload = raw
	}
	return env
}

func flush(t *testing.T, s Session) {
	t.Helper()
	switch v := s.(type) {
	case *Broadcaster:
		require.NoError(t, v.loop.call(func() error { return nil }))
	case *Viewer:
		require.NoError(t, v.loop.call(func() error { return nil }))
	}
}

func candidate(n int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 2122260223 10.0.0.%d 5000%d typ host", n, n, n)}
}
