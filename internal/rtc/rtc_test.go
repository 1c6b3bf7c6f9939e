package rtc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestICEServersAttachesCredentialsToTURNOnly(t *testing.T) {
	servers := ICEServers([]string{"stun:stun.example.com:3478", " turn:turn.example.com:3478 ", ""}, "user", "secret")
	require.Len(t, servers, 2)

	assert.Equal(t, []string{"stun:stun.example.com:3478"}, servers[0].URLs)
	assert.Empty(t, servers[0].Username)

	assert.Equal(t, []string{"turn:turn.example.com:3478"}, servers[1].URLs)
	assert.Equal(t, "user", servers[1].Username)
	assert.Equal(t, "secret", servers[1].Credential)
}

func TestICEServersFallsBackToDefault(t *testing.T) {
	assert.Equal(t, DefaultICE, ICEServers(nil, "", ""))
}

func TestPionFactoryForceRelay(t *testing.T) {
	f := NewPionFactory(PionConfig{ForceRelay: true}, nil)
	assert.Equal(t, webrtc.ICETransportPolicyRelay, f.Configuration().ICETransportPolicy)
	assert.Equal(t, DefaultICE, f.Configuration().ICEServers)
}

func TestPionOfferAnswerReachesStable(t *testing.T) {
	f := NewPionFactory(PionConfig{ICEServers: []webrtc.ICEServer{}}, nil)

	offerer, err := f.NewPeerConnection()
	require.NoError(t, err)
	defer offerer.Close()
	answerer, err := f.NewPeerConnection()
	require.NoError(t, err)
	defer answerer.Close()

	track, err := NewLocalTrack(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8, "stream")
	require.NoError(t, err)
	require.NoError(t, offerer.AddTrack(NewLocalMedia(track).Tracks()[0]))

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, offerer.SetLocalDescription(offer))
	assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, offerer.SignalingState())

	assert.False(t, answerer.HasRemoteDescription())
	require.NoError(t, answerer.SetRemoteDescription(offer))
	assert.True(t, answerer.HasRemoteDescription())

	answer, err := answerer.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, answerer.SetLocalDescription(answer))
	require.NoError(t, offerer.SetRemoteDescription(answer))

	assert.Equal(t, webrtc.SignalingStateStable, offerer.SignalingState())
	assert.Equal(t, webrtc.SignalingStateStable, answerer.SignalingState())

	require.NoError(t, offerer.Close())
	require.NoError(t, offerer.Close())
}

func TestLocalMediaSetEnabled(t *testing.T) {
	video, err := NewLocalTrack(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8, "s")
	require.NoError(t, err)
	audio, err := NewLocalTrack(webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus, "s")
	require.NoError(t, err)
	m := NewLocalMedia(video, audio)

	assert.Len(t, m.Tracks(), 2)
	assert.True(t, m.SetEnabled(webrtc.RTPCodecTypeAudio, false))
	assert.False(t, audio.Enabled())
	assert.True(t, video.Enabled())

	m.Stop()
	m.Stop()
}

func TestFileSourceMissingFiles(t *testing.T) {
	_, err := (&FileSource{}).Acquire(context.Background())
	assert.ErrorIs(t, err, ErrMediaUnavailable)

	_, err = (&FileSource{VideoPath: filepath.Join(t.TempDir(), "missing.ivf")}).Acquire(context.Background())
	assert.ErrorIs(t, err, ErrMediaUnavailable)
}

func TestFileSourceRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.ogg")
	require.NoError(t, os.WriteFile(path, []byte("definitely not ogg"), 0o600))

	_, err := (&FileSource{AudioPath: path}).Acquire(context.Background())
	assert.ErrorIs(t, err, ErrMediaUnavailable)
}

func TestRemoteStreamWith(t *testing.T) {
	var s *RemoteStream
	s = s.With(&RemoteTrack{ID: "v", StreamID: "a"})
	s2 := s.With(&RemoteTrack{ID: "o", StreamID: "a"})
	assert.Len(t, s.Tracks, 1)
	assert.Len(t, s2.Tracks, 2)

	s3 := s2.With(&RemoteTrack{ID: "v2", StreamID: "b"})
	assert.Equal(t, "b", s3.ID)
	assert.Len(t, s3.Tracks, 1)

	assert.NoError(t, s3.Tracks[0].Drain(context.Background(), nil))
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(webrtc.PeerConnectionStateFailed))
	assert.True(t, Terminal(webrtc.PeerConnectionStateClosed))
	assert.False(t, Terminal(webrtc.PeerConnectionStateConnecting))
}
