// Package rtc is the seam between the classroom protocol and the real-time media
// transport. Production code uses pion/webrtc; tests substitute fakes.
package rtc

import (
	"github.com/pion/webrtc/v3"
)

// PeerConnection is the control surface of one peer connection.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	ConnectionState() webrtc.PeerConnectionState

	// Callbacks may fire on any goroutine.
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(*RemoteTrack))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))

	// Close is safe to call more than once.
	Close() error
}

// Factory creates peer connections with a fixed ICE configuration.
type Factory interface {
	NewPeerConnection() (PeerConnection, error)
}

// Terminal reports whether a connection state ends the connection's useful life.
func Terminal(state webrtc.PeerConnectionState) bool {
	switch state {
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		return true
	}
	return false
}
