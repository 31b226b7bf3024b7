package ports

import (
	"context"

	"peercall/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// MediaSource is a live camera/microphone capture.
type MediaSource interface {
	ID() string
	Tracks() []webrtc.TrackLocal
	// Stop releases every underlying track. Calling it again is a no-op.
	Stop()
}

type Capturer interface {
	Acquire(ctx context.Context, constraints domain.CaptureConstraints) (MediaSource, error)
}
