package rtc

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// DefaultICE is used when no ICE servers are configured.
var DefaultICE = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// ICEServers turns configured URLs into pion ICE servers. TURN URLs get the
// credentials; STUN URLs never do.
func ICEServers(urls []string, username, credential string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		server := webrtc.ICEServer{URLs: []string{u}}
		if username != "" && (strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:")) {
			server.Username = username
			server.Credential = credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, server)
	}
	if len(out) == 0 {
		return DefaultICE
	}
	return out
}

// PionConfig configures PionFactory.
type PionConfig struct {
	ICEServers []webrtc.ICEServer
	// ForceRelay restricts candidates to TURN relays.
	ForceRelay bool
}

// PionFactory creates pion-backed peer connections.
type PionFactory struct {
	cfg webrtc.Configuration
	log *zap.Logger
}

// NewPionFactory builds a factory with the given ICE configuration.
func NewPionFactory(cfg PionConfig, log *zap.Logger) *PionFactory {
	if log == nil {
		log = zap.NewNop()
	}
	servers := cfg.ICEServers
	if len(servers) == 0 {
		servers = DefaultICE
	}
	policy := webrtc.ICETransportPolicyAll
	if cfg.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}
	return &PionFactory{
		cfg: webrtc.Configuration{ICEServers: servers, ICETransportPolicy: policy},
		log: log,
	}
}

// Configuration returns the webrtc configuration used for new connections.
func (f *PionFactory) Configuration() webrtc.Configuration { return f.cfg }

// NewPeerConnection creates a connection with the default codec set.
func (f *PionFactory) NewPeerConnection() (PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &pionPeer{pc: pc, log: f.log}, nil
}

type pionPeer struct {
	pc  *webrtc.PeerConnection
	log *zap.Logger
}

func (p *pionPeer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}
	// RTCP must be read for interceptors (NACK, reports) to run.
	go func() {
		buf := make([]byte, rtpBufferSize)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) SignalingState() webrtc.SignalingState { return p.pc.SignalingState() }

func (p *pionPeer) ConnectionState() webrtc.PeerConnectionState { return p.pc.ConnectionState() }

func (p *pionPeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (p *pionPeer) OnTrack(fn func(*RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.log.Debug("remote track",
			zap.String("track_id", track.ID()),
			zap.String("stream_id", track.StreamID()),
			zap.String("mime", track.Codec().MimeType))
		fn(newRemoteTrack(track))
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
