package mesh

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Stream is a set of local tracks attached to every peer link.
type Stream struct {
	ID     string
	Tracks []webrtc.TrackLocal
	Video  bool
	Audio  bool

	stop chan struct{}
}

// MediaSource acquires and releases local media.
type MediaSource interface {
	Acquire(video, audio bool) (*Stream, error)
	Release(stream *Stream)
}

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const silenceInterval = 20 * time.Millisecond

// SyntheticSource produces local tracks without capture hardware. The audio track
// carries silence so remote peers see a flowing stream.
type SyntheticSource struct {
	mu      sync.Mutex
	streams map[string]*Stream
}

// NewSyntheticSource creates a synthetic media source.
func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{streams: make(map[string]*Stream)}
}

// Acquire implements MediaSource.
func (s *SyntheticSource) Acquire(video, audio bool) (*Stream, error) {
	if !video && !audio {
		return nil, fmt.Errorf("%w: no track requested", ErrMediaUnavailable)
	}

	stream := &Stream{ID: uuid.NewString(), Video: video, Audio: audio, stop: make(chan struct{})}
	if video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", stream.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		stream.Tracks = append(stream.Tracks, track)
	}
	if audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", stream.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		stream.Tracks = append(stream.Tracks, track)
		go pumpSilence(track, stream.stop)
	}

	s.mu.Lock()
	s.streams[stream.ID] = stream
	s.mu.Unlock()
	return stream, nil
}

// Release implements MediaSource. Releasing twice is a no-op.
func (s *SyntheticSource) Release(stream *Stream) {
	if stream == nil {
		return
	}
	s.mu.Lock()
	_, ok := s.streams[stream.ID]
	delete(s.streams, stream.ID)
	s.mu.Unlock()
	if ok {
		close(stream.stop)
	}
}

// Active reports the number of acquired, unreleased streams.
func (s *SyntheticSource) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func pumpSilence(track *webrtc.TrackLocalStaticSample, stop <-chan struct{}) {
	ticker := time.NewTicker(silenceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Unbound tracks drop samples; nothing to report.
			_ = track.WriteSample(media.Sample{Data: opusSilence, Duration: silenceInterval})
		}
	}
}
