package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
)

// ErrMediaUnavailable is returned when local capture cannot be acquired.
var ErrMediaUnavailable = errors.New("local media unavailable")

// Source acquires the broadcaster's local camera and microphone.
type Source interface {
	Acquire(ctx context.Context) (*LocalMedia, error)
}

// LocalTrack is one outgoing track. Samples written while the track is
// disabled are dropped, which is how mute is implemented.
type LocalTrack struct {
	Kind    webrtc.RTPCodecType
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
}

// NewLocalTrack creates an enabled sample track.
func NewLocalTrack(kind webrtc.RTPCodecType, mimeType, streamID string) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType},
		kind.String()+"-"+uuid.NewString()[:8],
		streamID,
	)
	if err != nil {
		return nil, err
	}
	t := &LocalTrack{Kind: kind, track: track}
	t.enabled.Store(true)
	return t, nil
}

// Enabled reports whether samples are forwarded.
func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

// WriteSample forwards a sample to every bound peer connection.
func (t *LocalTrack) WriteSample(s pionmedia.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.track.WriteSample(s)
}

// LocalMedia is the set of tracks published to every viewer.
type LocalMedia struct {
	tracks   []*LocalTrack
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewLocalMedia wraps already-created tracks. Producers that feed them are
// the caller's responsibility.
func NewLocalMedia(tracks ...*LocalTrack) *LocalMedia {
	return &LocalMedia{tracks: tracks, cancel: func() {}}
}

// Tracks returns the tracks to attach to a new peer connection.
func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t.track)
	}
	return out
}

// SetEnabled toggles every track of the given kind. It reports whether any
// track matched.
func (m *LocalMedia) SetEnabled(kind webrtc.RTPCodecType, enabled bool) bool {
	found := false
	for _, t := range m.tracks {
		if t.Kind == kind {
			t.enabled.Store(enabled)
			found = true
		}
	}
	return found
}

// Stop halts all producers and waits for them to exit.
func (m *LocalMedia) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
}

// FileSource reads pre-encoded media from disk: VP8/VP9 in IVF and Opus in Ogg.
// Files are looped until the media is stopped. Either path may be empty.
type FileSource struct {
	VideoPath string
	AudioPath string
	Logger    *zap.Logger
}

// Acquire opens the configured files and starts pumping samples.
func (s *FileSource) Acquire(ctx context.Context) (*LocalMedia, error) {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if s.VideoPath == "" && s.AudioPath == "" {
		return nil, fmt.Errorf("%w: no media files configured", ErrMediaUnavailable)
	}

	streamID := "classroom-" + uuid.NewString()[:8]
	pumpCtx, cancel := context.WithCancel(context.Background())
	media := &LocalMedia{cancel: cancel}

	if s.VideoPath != "" {
		mime, err := probeIVF(s.VideoPath)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		track, err := NewLocalTrack(webrtc.RTPCodecTypeVideo, mime, streamID)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		media.tracks = append(media.tracks, track)
		media.wg.Add(1)
		go func() {
			defer media.wg.Done()
			loopFile(pumpCtx, log, s.VideoPath, track, pumpIVF)
		}()
	}

	if s.AudioPath != "" {
		if err := probeOgg(s.AudioPath); err != nil {
			media.Stop()
			return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		track, err := NewLocalTrack(webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus, streamID)
		if err != nil {
			media.Stop()
			return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		media.tracks = append(media.tracks, track)
		media.wg.Add(1)
		go func() {
			defer media.wg.Done()
			loopFile(pumpCtx, log, s.AudioPath, track, pumpOgg)
		}()
	}

	if err := ctx.Err(); err != nil {
		media.Stop()
		return nil, err
	}
	return media, nil
}

type pumpFunc func(ctx context.Context, r io.Reader, track *LocalTrack) error

func loopFile(ctx context.Context, log *zap.Logger, path string, track *LocalTrack, pump pumpFunc) {
	for ctx.Err() == nil {
		f, err := os.Open(path)
		if err != nil {
			log.Error("open media file", zap.String("path", path), zap.Error(err))
			return
		}
		err = pump(ctx, f, track)
		f.Close()
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
			log.Warn("media pump stopped", zap.String("path", path), zap.Error(err))
			return
		}
	}
}

func probeIVF(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return "", fmt.Errorf("read ivf header: %w", err)
	}
	switch header.FourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	}
	return "", fmt.Errorf("unsupported ivf codec %q", header.FourCC)
}

func probeOgg(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, _, err := oggreader.NewWith(f); err != nil {
		return fmt.Errorf("read ogg header: %w", err)
	}
	return nil
}

func pumpIVF(ctx context.Context, r io.Reader, track *LocalTrack) error {
	reader, header, err := ivfreader.NewWith(r)
	if err != nil {
		return err
	}
	frameDuration := 33 * time.Millisecond
	if header.TimebaseDenominator > 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		frame, _, err := reader.ParseNextFrame()
		if err != nil {
			return err
		}
		if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return err
		}
	}
}

// Opus pages are produced at 20ms.
const oggPageDuration = 20 * time.Millisecond

func pumpOgg(ctx context.Context, r io.Reader, track *LocalTrack) error {
	reader, _, err := oggreader.NewWith(r)
	if err != nil {
		return err
	}
	var lastGranule uint64
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		page, header, err := reader.ParseNextPage()
		if err != nil {
			return err
		}
		// 48kHz sample clock.
		sampleCount := float64(header.GranulePosition - lastGranule)
		lastGranule = header.GranulePosition
		duration := time.Duration((sampleCount / 48000) * float64(time.Second))
		if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}
