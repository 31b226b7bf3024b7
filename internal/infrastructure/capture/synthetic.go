// Package capture provides a software capture device producing pion tracks.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/config"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

var (
	ErrDeviceMissing          = errors.New("capture device missing")
	ErrConstraintUnsatisfied  = errors.New("capture constraint not satisfiable")
	ErrAudioProcessingMissing = errors.New("audio processing not supported by device")
)

const audioFrame = 20 * time.Millisecond

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticCapturer stands in for a camera and microphone. Requests beyond
// the configured device limits fail the way a real device rejects them.
type SyntheticCapturer struct {
	limits config.DeviceLimits
	logger *zap.SugaredLogger
}

func NewSyntheticCapturer(limits config.DeviceLimits, logger *zap.SugaredLogger) *SyntheticCapturer {
	return &SyntheticCapturer{limits: limits, logger: logger}
}

func (c *SyntheticCapturer) Acquire(ctx context.Context, constraints domain.CaptureConstraints) (ports.MediaSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.check(constraints); err != nil {
		c.logger.Infow("capture request rejected", "error", err)
		return nil, err
	}

	src := &SyntheticSource{id: uuid.NewString(), done: make(chan struct{})}
	if constraints.Audio.Enabled {
		audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", src.id)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio track: %w", err)
		}
		src.audio = audio
		src.tracks = append(src.tracks, audio)
	}
	if constraints.Video.Enabled {
		video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", src.id)
		if err != nil {
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		src.tracks = append(src.tracks, video)
	}
	if src.audio != nil {
		go src.feedAudio()
	}

	c.logger.Infow("capture started",
		"source_id", src.id,
		"tracks", len(src.tracks),
		"width", constraints.Video.Width,
		"height", constraints.Video.Height,
	)
	return src, nil
}

func (c *SyntheticCapturer) check(req domain.CaptureConstraints) error {
	if req.Audio.Enabled && !c.limits.HasAudio {
		return fmt.Errorf("%w: audio", ErrDeviceMissing)
	}
	if req.Video.Enabled && !c.limits.HasVideo {
		return fmt.Errorf("%w: video", ErrDeviceMissing)
	}
	if req.Audio.EchoCancellation || req.Audio.NoiseSuppression || req.Audio.AutoGainControl {
		if !c.limits.AudioDSP {
			return ErrAudioProcessingMissing
		}
	}

	v := req.Video
	switch {
	case c.limits.MaxWidth > 0 && v.Width > c.limits.MaxWidth:
		return fmt.Errorf("%w: width %d > %d", ErrConstraintUnsatisfied, v.Width, c.limits.MaxWidth)
	case c.limits.MaxHeight > 0 && v.Height > c.limits.MaxHeight:
		return fmt.Errorf("%w: height %d > %d", ErrConstraintUnsatisfied, v.Height, c.limits.MaxHeight)
	case c.limits.MaxFrameRate > 0 && v.FrameRate > c.limits.MaxFrameRate:
		return fmt.Errorf("%w: frame rate %.0f > %.0f", ErrConstraintUnsatisfied, v.FrameRate, c.limits.MaxFrameRate)
	}
	return nil
}

// SyntheticSource is a live capture. The audio track carries Opus silence
// until Stop.
type SyntheticSource struct {
	id     string
	tracks []webrtc.TrackLocal
	audio  *webrtc.TrackLocalStaticSample

	done     chan struct{}
	stopOnce sync.Once
}

func (s *SyntheticSource) ID() string {
	return s.id
}

func (s *SyntheticSource) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

func (s *SyntheticSource) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *SyntheticSource) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *SyntheticSource) feedAudio() {
	ticker := time.NewTicker(audioFrame)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			// unbound tracks drop samples silently
			_ = s.audio.WriteSample(media.Sample{Data: opusSilence, Duration: audioFrame})
		}
	}
}
