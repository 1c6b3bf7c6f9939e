package rtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"
)

// RTP buffer size (MTU-friendly), pooled to avoid per-packet allocations.
const rtpBufferSize = 1500

var rtpBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, rtpBufferSize)
		return &b
	},
}

// RemoteTrack is a media track received from the broadcaster.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     webrtc.RTPCodecType
	MimeType string

	remote *webrtc.TrackRemote
}

func newRemoteTrack(t *webrtc.TrackRemote) *RemoteTrack {
	return &RemoteTrack{
		ID:       t.ID(),
		StreamID: t.StreamID(),
		Kind:     t.Kind(),
		MimeType: t.Codec().MimeType,
		remote:   t,
	}
}

// Drain reads RTP until the track ends or ctx is cancelled, reporting each
// packet size to onPacket. Tracks without a transport return immediately.
func (t *RemoteTrack) Drain(ctx context.Context, onPacket func(n int)) error {
	if t.remote == nil {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ptr := rtpBufferPool.Get().(*[]byte)
		n, _, err := t.remote.Read(*ptr)
		rtpBufferPool.Put(ptr)
		if err != nil {
			return err
		}
		if onPacket != nil {
			onPacket(n)
		}
	}
}

// RemoteStream groups the tracks a viewer receives under one stream ID.
// Values are immutable once published; With returns a copy.
type RemoteStream struct {
	ID     string
	Tracks []*RemoteTrack
}

// With returns a stream containing track. A track from a different stream
// starts a new stream.
func (s *RemoteStream) With(track *RemoteTrack) *RemoteStream {
	if s == nil || s.ID != track.StreamID {
		return &RemoteStream{ID: track.StreamID, Tracks: []*RemoteTrack{track}}
	}
	tracks := make([]*RemoteTrack, 0, len(s.Tracks)+1)
	tracks = append(tracks, s.Tracks...)
	tracks = append(tracks, track)
	return &RemoteStream{ID: s.ID, Tracks: tracks}
}
